package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is shared process-wide; go-playground caches struct metadata,
// so a single instance keeps that cache warm.
var validate = newValidator()

// FieldError describes one failed rule on one field.
type FieldError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

// FieldErrors is the error type returned for rule failures.
type FieldErrors []FieldError

func (f FieldErrors) Error() string {
	if len(f) == 0 {
		return "validation failed"
	}

	parts := make([]string, len(f))
	for i, fe := range f {
		parts[i] = fe.Field + " failed on " + fe.Tag
		if fe.Param != "" {
			parts[i] += "=" + fe.Param
		}
	}
	return strings.Join(parts, "; ")
}

// ValidateStruct runs the registered rules against s. Rule failures come
// back as FieldErrors; anything else (bad input type) is returned as-is.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		failures := make(FieldErrors, 0, len(ve))
		for _, fe := range ve {
			failures = append(failures, FieldError{
				Field: fe.Field(),
				Tag:   fe.Tag(),
				Param: fe.Param(),
			})
		}
		return failures
	}

	return err
}

// RegisterValidation adds a custom rule under the given tag.
func RegisterValidation(tag string, fn validator.Func) error {
	return validate.RegisterValidation(tag, fn)
}

func newValidator() *validator.Validate {
	v := validator.New()

	// Report fields under their json names so API error messages match
	// the payload the client actually sent.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	return v
}
