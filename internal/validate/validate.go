// Package validate wraps go-playground/validator and turns its errors into
// stable, field-level messages keyed by JSON names.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Rule struct {
	Rule func(v *validator.Validate)
}

// Validator is a wrapper around the actual validator.
type Validator struct {
	validator *validator.Validate
}

var couponCodeRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{2,31}$`)

func New(rules ...Rule) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	registerFn("coupon_code", couponCodeValidator)(v)
	for _, r := range rules {
		r.Rule(v)
	}
	return &Validator{validator: v}
}

// RegisterFn builds a Rule for a custom tag.
func RegisterFn(tag string, fn func(fl validator.FieldLevel) bool) Rule {
	return Rule{Rule: registerFn(tag, fn)}
}

func registerFn(tag string, fn func(fl validator.FieldLevel) bool) func(v *validator.Validate) {
	return func(v *validator.Validate) {
		_ = v.RegisterValidation(tag, fn)
	}
}

// Struct validates s and returns one message per failing field; nil when valid.
func (v *Validator) Struct(s any) []string {
	err := v.validator.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, Message(fe))
	}
	return out
}

// Message renders one field error.
func Message(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_if", "required_without":
		return fmt.Sprintf("%s is required", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "e164":
		return fmt.Sprintf("%s must be an E.164 phone number", field)
	case "url", "http_url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "coupon_code":
		return fmt.Sprintf("%s must be 3-32 uppercase letters, digits, '-' or '_'", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

func couponCodeValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return val == "" || couponCodeRegex.MatchString(val)
}
