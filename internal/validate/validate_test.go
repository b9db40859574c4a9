package validate_test

import (
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kiranshivaraju/shopmind/internal/validate"
	"github.com/stretchr/testify/assert"
)

type sample struct {
	Email   string        `json:"email" validate:"required,email"`
	Percent float64       `json:"discount_percent" validate:"gt=0,lte=90"`
	Code    string        `json:"code" validate:"coupon_code"`
	Timeout time.Duration `json:"timeout" validate:"gte=1s,lte=10m"`
	Skipped string        `json:"-" validate:"omitempty,oneof=a b"`
}

func TestStruct_Valid(t *testing.T) {
	v := validate.New()
	errs := v.Struct(sample{Email: "a@b.co", Percent: 15, Code: "SAVE15", Timeout: time.Minute})
	assert.Nil(t, errs)
}

func TestStruct_MessagesUseJSONNames(t *testing.T) {
	v := validate.New()
	errs := v.Struct(sample{Email: "", Percent: 95, Code: "bad code", Timeout: time.Millisecond, Skipped: "c"})

	assert.Contains(t, errs, "email is required")
	assert.Contains(t, errs, "discount_percent must be at most 90")
	assert.Contains(t, errs, "code must be 3-32 uppercase letters, digits, '-' or '_'")
	assert.Contains(t, errs, "timeout must be at least 1s")
	assert.Contains(t, errs, "Skipped must be one of [a b]")
}

func TestCustomRule(t *testing.T) {
	type even struct {
		N int `json:"n" validate:"even"`
	}
	v := validate.New(validate.RegisterFn("even", func(fl validator.FieldLevel) bool {
		return fl.Field().Int()%2 == 0
	}))

	assert.Nil(t, v.Struct(even{N: 2}))
	assert.Equal(t, []string{"n failed even validation"}, v.Struct(even{N: 3}))
}
