// Package validation wraps go-playground/validator with a shared instance and
// messages keyed by the JSON field names clients actually send.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/okian/kindred/internal/domain/model"
)

var (
	validate     *validator.Validate //nolint:gochecknoglobals // singleton, caches struct metadata
	validateOnce sync.Once           //nolint:gochecknoglobals // guards validate
)

// FieldError is one failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// RequestValidationError collects every failed rule of one request.
// It matches model.ErrValidation with errors.Is.
type RequestValidationError struct {
	Fields []FieldError
}

func (ve *RequestValidationError) Error() string {
	if len(ve.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(ve.Fields))
	for _, f := range ve.Fields {
		msgs = append(msgs, f.Message)
	}
	return strings.Join(msgs, "; ")
}

// Unwrap lets callers classify the error as a validation failure.
func (ve *RequestValidationError) Unwrap() error {
	return model.ErrValidation
}

// Get returns the shared validator.
func Get() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonName)
		validate.RegisterStructValidation(priceRange, model.PriceComfort{})
	})
	return validate
}

// Struct validates s and returns nil or a *RequestValidationError.
func Struct(s any) error {
	err := Get().Struct(s)
	if err == nil {
		return nil
	}
	return translate(err)
}

// Email reports whether s is a syntactically valid email address.
func Email(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 254 {
		return false
	}
	return Get().Var(s, "email") == nil
}

// priceRange rejects a range whose upper bound is below its lower bound.
// Either bound alone is fine.
func priceRange(sl validator.StructLevel) {
	pc, ok := sl.Current().Interface().(model.PriceComfort)
	if !ok || pc.HourlyMin == nil || pc.HourlyMax == nil {
		return
	}
	if *pc.HourlyMax < *pc.HourlyMin {
		sl.ReportError(*pc.HourlyMax, "hourlyMax", "HourlyMax", "gtefield", "hourlyMin")
	}
}

func translate(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &RequestValidationError{Fields: []FieldError{{Field: "unknown", Tag: "unknown", Message: err.Error()}}}
	}
	out := make([]FieldError, len(fieldErrs))
	for i, fe := range fieldErrs {
		out[i] = FieldError{
			Field:   fieldPath(fe),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: message(fe),
		}
	}
	return &RequestValidationError{Fields: out}
}

// fieldPath keeps only JSON names: "Submission.Answers.contact.email" -> "contact.email".
// Go-named segments are the root struct and embedded structs.
func fieldPath(fe validator.FieldError) string {
	parts := strings.Split(fe.Namespace(), ".")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" && unicode.IsUpper(rune(p[0])) {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return fe.Field()
	}
	return strings.Join(kept, ".")
}

var simpleMessages = map[string]string{ //nolint:gochecknoglobals // lookup table
	"required": "%s is required",
	"email":    "%s must be a valid email address",
}

var paramMessages = map[string]string{ //nolint:gochecknoglobals // lookup table
	"oneof":    "%s must be one of: %s",
	"gte":      "%s must be greater than or equal to %s",
	"lte":      "%s must be less than or equal to %s",
	"len":      "%s must be exactly %s characters",
	"gtefield": "%s must be greater than or equal to %s",
}

func message(fe validator.FieldError) string {
	field := fieldPath(fe)
	if tmpl, ok := simpleMessages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field)
	}
	if tmpl, ok := paramMessages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, field, fe.Param())
	}

	counted := fe.Kind() == reflect.String
	unit := "items"
	if counted {
		unit = "characters"
	}
	switch fe.Tag() {
	case "max":
		if fe.Kind() == reflect.Slice || counted {
			return fmt.Sprintf("%s must be at most %s %s", field, fe.Param(), unit)
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min":
		if fe.Kind() == reflect.Slice || counted {
			return fmt.Sprintf("%s must be at least %s %s", field, fe.Param(), unit)
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}
