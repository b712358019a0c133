package task

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrNotFound        = errors.New("task not found")
	ErrStatusConflict  = errors.New("task status changed concurrently")
	ErrProviderIDTaken = errors.New("provider task id already attached")
)

const MaxPromptLength = 1000

var validate = validator.New(validator.WithRequiredStructEnabled())

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}

	return "validation failed: " + strings.Join(parts, "; ")
}

type createInput struct {
	Prompt      string      `validate:"min=1,max=1000"`
	AspectRatio AspectRatio `validate:"omitempty,oneof=1:1 4:3 3:4 16:9 9:16"`
}

// ValidateCreate checks create input. An empty ratio is accepted and means
// DefaultAspectRatio. Prompt length is counted in characters.
func ValidateCreate(prompt string, ratio AspectRatio) error {
	err := validate.Struct(createInput{Prompt: prompt, AspectRatio: ratio})
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	ve := &ValidationError{}
	for _, fe := range verrs {
		switch fe.Field() {
		case "Prompt":
			msg := "must not be empty"
			if fe.Tag() == "max" {
				msg = fmt.Sprintf("must be at most %d characters", MaxPromptLength)
			}
			ve.Fields = append(ve.Fields, FieldError{Field: "prompt", Message: msg})
		case "AspectRatio":
			ve.Fields = append(ve.Fields, FieldError{Field: "aspectRatio", Message: fmt.Sprintf("must be one of %v", AspectRatios)})
		}
	}

	return ve
}
