package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/fluxorio/callcenter/pkg/core"
)

// Validator checks one aspect of a settings struct
type Validator interface {
	Validate(config interface{}) error
}

// ValidatorFunc adapts a function to Validator
type ValidatorFunc func(config interface{}) error

func (f ValidatorFunc) Validate(config interface{}) error {
	return f(config)
}

// Validate runs all validators and reports every failure in one
// core.Error with CodeInvalidConfig.
func Validate(config interface{}, validators ...Validator) error {
	var errs []error
	for _, v := range validators {
		if err := v.Validate(config); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &core.Error{Code: core.CodeInvalidConfig, Message: errors.Join(errs...).Error()}
}

// RequiredFields fails for every named field holding its zero value or a
// nil pointer. Names may be dotted to reach nested structs ("HTTP.Addr").
func RequiredFields(fields ...string) Validator {
	return ValidatorFunc(func(config interface{}) error {
		var missing []string
		for _, name := range fields {
			v, err := lookup(config, name)
			if err != nil {
				return err
			}
			if !v.IsValid() || v.IsZero() {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing %s", strings.Join(missing, ", "))
		}
		return nil
	})
}

// RangeValidator fails when a numeric field lies outside [min, max].
// A nil pointer passes; pair it with RequiredFields to demand a value.
func RangeValidator(name string, min, max float64) Validator {
	return ValidatorFunc(func(config interface{}) error {
		v, err := lookup(config, name)
		if err != nil || !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
			return err
		}
		n, ok := number(v)
		if !ok {
			return fmt.Errorf("%s: %s is not a number", name, v.Kind())
		}
		if n < min || n > max {
			return fmt.Errorf("%s = %v, want [%v, %v]", name, n, min, max)
		}
		return nil
	})
}

// OneOfValidator fails when a field is not equal to one of allowed
func OneOfValidator(name string, allowed ...interface{}) Validator {
	return ValidatorFunc(func(config interface{}) error {
		v, err := lookup(config, name)
		if err != nil || !v.IsValid() {
			return err
		}
		got := v.Interface()
		if slices.ContainsFunc(allowed, func(a interface{}) bool { return reflect.DeepEqual(a, got) }) {
			return nil
		}
		return fmt.Errorf("%s = %v, want one of %v", name, got, allowed)
	})
}

// lookup walks a dotted field path. Nil pointers along the way yield an
// invalid Value without error; unknown names are an error.
func lookup(config interface{}, path string) (reflect.Value, error) {
	v := reflect.ValueOf(config)
	for _, part := range strings.Split(path, ".") {
		for v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, nil
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("%s: %s is not a struct", path, v.Kind())
		}
		v = v.FieldByName(part)
		if !v.IsValid() {
			return reflect.Value{}, fmt.Errorf("%s: no such field", path)
		}
	}
	return v, nil
}

func number(v reflect.Value) (float64, bool) {
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	switch {
	case v.CanInt():
		return float64(v.Int()), true
	case v.CanUint():
		return float64(v.Uint()), true
	case v.CanFloat():
		return v.Float(), true
	}
	return 0, false
}
