package workflow

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Escalation timeouts are stored in whole seconds.
	_ = v.RegisterValidation("whole_seconds", func(fl validator.FieldLevel) bool {
		return fl.Field().Int()%int64(time.Second) == 0
	})
	return v
}

// validateInput runs the struct tags of an operation input and reports every
// failing field under Details["fields"].
func validateInput(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return withMessage(ErrValidation, "%v", err)
	}
	fields := make(map[string]string, len(fieldErrors))
	for _, fieldErr := range fieldErrors {
		fields[fieldErr.Field()] = fieldErr.Tag()
	}
	return withDetails(ErrValidation, map[string]any{"fields": fields})
}
