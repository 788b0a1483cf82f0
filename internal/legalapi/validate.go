package legalapi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/rbright/vakil/internal/domain"
)

// newValidator registers the vocabulary-aware rules used on outgoing requests.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	mustRegister(v, "notblank", validators.NotBlank)
	mustRegister(v, "language", func(fl validator.FieldLevel) bool {
		return domain.Language(fl.Field().String()).Valid()
	})
	mustRegister(v, "evidence", func(fl validator.FieldLevel) bool {
		_, ok := domain.CanonicalTag(domain.EvidenceVocabulary, fl.Field().String())
		return ok
	})
	mustRegister(v, "aggravating", func(fl validator.FieldLevel) bool {
		_, ok := domain.CanonicalTag(domain.AggravatingVocabulary, fl.Field().String())
		return ok
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

type chatRequest struct {
	Question string          `validate:"notblank"`
	Language domain.Language `validate:"language"`
}

// validationError converts validator output into one readable ErrValidation.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, describeField(fe))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(messages, "; "))
}

func describeField(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "notblank":
		if field == "narrative" || field == "question" {
			return "please provide an incident narrative or question"
		}
		return fmt.Sprintf("%s must not be blank", field)
	case "language":
		return fmt.Sprintf("unsupported language %q", fe.Value())
	case "evidence":
		return fmt.Sprintf("unknown evidence tag %q", fe.Value())
	case "aggravating":
		return fmt.Sprintf("unknown aggravating factor %q", fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
