// Package validator wraps go-playground/validator with readable, joined errors.
package validator

import (
	"errors"
	"fmt"

	gvalidator "github.com/go-playground/validator/v10"
)

// ErrValidationFailed heads the joined error returned when validation fails.
var ErrValidationFailed = errors.New("validation failed")

var validate = gvalidator.New(gvalidator.WithRequiredStructEnabled())

// Struct validates v against its `validate` tags.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs gvalidator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	errs := []error{ErrValidationFailed}
	for _, fe := range fieldErrs {
		errs = append(errs, fmt.Errorf("field '%s' failed on '%s'", fe.Field(), fe.Tag()))
	}
	return errors.Join(errs...)
}
