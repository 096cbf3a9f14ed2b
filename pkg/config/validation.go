package config

import (
	"reflect"

	sserr "github.com/firstech/identity-core/pkg/errors"
)

// Validator is implemented by configuration structs that need checks beyond
// `required` tags. Load calls Validate after the required-field pass.
// Returned *sserr.Error values pass through unchanged, anything else is
// wrapped as a validation error.
type Validator interface {
	Validate() error
}

func validate(cfg any, rv reflect.Value) error {
	if err := validateRequired(rv, ""); err != nil {
		return err
	}

	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		if _, isDomain := sserr.AsError(err); isDomain {
			return err
		}
		return sserr.Wrap(err, sserr.CodeValidation, "config: validation failed")
	}
	return nil
}

// validateRequired reports the first zero field tagged required:"true",
// naming it by its dotted path (Directory.PoolID).
func validateRequired(rv reflect.Value, path string) error {
	rt := rv.Type()
	for i := range rt.NumField() {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}

		name := sf.Name
		if path != "" {
			name = path + "." + sf.Name
		}

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := validateRequired(field, name); err != nil {
				return err
			}
			continue
		}
		if sf.Tag.Get("required") == "true" && field.IsZero() {
			return sserr.Newf(sserr.CodeValidationRequired,
				"config: required field %q is empty", name)
		}
	}
	return nil
}
