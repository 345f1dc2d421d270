package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"github.com/SpecLeft/specleft-delta-demo/internal/store"
)

// MailConfig holds SMTP configuration
type MailConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// Domain turns a bare recipient id into an address: id@Domain.
	Domain string
}

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Mailer emails each notification to its recipient
type Mailer struct {
	config MailConfig
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewMailer(config MailConfig) *Mailer {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Mailer{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (m *Mailer) IsConfigured() bool {
	return m.config.Host != "" && m.config.Port != "" && m.config.From != ""
}

func (m *Mailer) Notify(_ context.Context, notification store.Notification) error {
	if !m.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	to, err := m.address(notification.RecipientID)
	if err != nil {
		return err
	}
	html, err := renderNotification(notification)
	if err != nil {
		return fmt.Errorf("render notification: %w", err)
	}
	msg := m.compose(to, "Document review: "+notification.DocumentID, notification.Message, html)
	if err := m.send(m.server, m.auth, m.config.From, []string{to}, msg); err != nil {
		return fmt.Errorf("send notification email: %w", err)
	}
	return nil
}

func (m *Mailer) address(recipientID string) (string, error) {
	if strings.Contains(recipientID, "@") {
		return recipientID, nil
	}
	if m.config.Domain == "" {
		return "", fmt.Errorf("no mail domain for recipient %q", recipientID)
	}
	return recipientID + "@" + m.config.Domain, nil
}

func (m *Mailer) compose(to, subject, text, html string) []byte {
	from := m.config.From
	if m.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.config.FromName, m.config.From)
	}
	boundary := "boundary-approvals"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", text)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", html)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

var notificationTemplate = template.Must(template.New("notification").Parse(notificationEmailTemplate))

func renderNotification(notification store.Notification) (string, error) {
	var buf bytes.Buffer
	if err := notificationTemplate.Execute(&buf, notification); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const notificationEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Document review</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <p>{{.Message}}</p>
    <div class="footer">
        <p>Document {{.DocumentID}} &middot; {{.CreatedAt.UTC.Format "2006-01-02 15:04 MST"}}</p>
    </div>
</body>
</html>`
