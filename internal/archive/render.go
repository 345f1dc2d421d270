package archive

import (
	"bytes"
	"embed"
	"encoding/json"
	"strings"
	"text/template"
	"time"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var cycleTemplate = template.Must(template.New("cycle.md.tmpl").Funcs(template.FuncMap{
	"upper":      strings.ToUpper,
	"formatDate": formatDate,
	"cell": func(s string) string {
		return strings.NewReplacer("|", "\\|", "\n", " ").Replace(s)
	},
}).ParseFS(templateFS, "templates/cycle.md.tmpl"))

func formatDate(value any) string {
	switch t := value.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	default:
		return ""
	}
}

// RenderMarkdown renders a human readable summary of the cycle.
func RenderMarkdown(record Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := cycleTemplate.Execute(&buf, record); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderJSON renders the machine readable form of the cycle.
func RenderJSON(record Record) ([]byte, error) {
	return json.MarshalIndent(record, "", "  ")
}
