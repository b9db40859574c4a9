package actions

import (
	"context"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/validate"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// definition describes one kind: how its data is normalized into P and what
// running it does.
type definition[P any] struct {
	kind        models.ActionType
	name        string
	description string
	approval    bool
	fields      []field
	// check runs cross-field rules the validator tags cannot express.
	check func(p *P) []string
	run   func(ctx context.Context, p *P) (string, map[string]any, error)
}

type executor[P any] struct {
	def definition[P]
	v   *validate.Validator
}

func build[P any](v *validate.Validator, def definition[P]) *executor[P] {
	return &executor[P]{def: def, v: v}
}

func (e *executor[P]) Kind() models.ActionType { return e.def.kind }

func (e *executor[P]) RequiresApproval() bool { return e.def.approval }

func (e *executor[P]) Meta() Meta {
	m := Meta{
		Type:             e.def.kind,
		Name:             e.def.name,
		Description:      e.def.description,
		RequiresApproval: e.def.approval,
		Fields:           make([]FieldMeta, 0, len(e.def.fields)),
	}
	for _, f := range e.def.fields {
		m.Fields = append(m.Fields, f.meta())
	}
	return m
}

func (e *executor[P]) Validate(data map[string]any) ValidationResult {
	_, _, errs := e.parse(data)
	return result(errs)
}

// Normalize returns data rewritten to canonical field names.
func (e *executor[P]) Normalize(data map[string]any) (map[string]any, ValidationResult) {
	values, _, errs := e.parse(data)
	return values, result(errs)
}

func (e *executor[P]) Execute(ctx context.Context, data map[string]any) Outcome {
	_, p, errs := e.parse(data)
	if len(errs) > 0 {
		return Outcome{
			Message: "invalid action data",
			Errors:  errs,
			Err:     apperr.Validation("invalid action data", errs...),
		}
	}
	msg, out, err := e.def.run(ctx, p)
	if err != nil {
		return Outcome{Message: apperr.Public(err), Err: err}
	}
	return Outcome{Success: true, Message: msg, Data: out}
}

func (e *executor[P]) parse(data map[string]any) (map[string]any, *P, []string) {
	values, errs := normalize(data, e.def.fields)
	if len(errs) > 0 {
		return nil, nil, errs
	}
	p := new(P)
	if err := bind(values, p); err != nil {
		return nil, nil, []string{err.Error()}
	}
	if errs := e.v.Struct(p); len(errs) > 0 {
		return nil, nil, errs
	}
	if e.def.check != nil {
		if errs := e.def.check(p); len(errs) > 0 {
			return nil, nil, errs
		}
	}
	return values, p, nil
}

func result(errs []string) ValidationResult {
	if len(errs) > 0 {
		return ValidationResult{Valid: false, Errors: errs}
	}
	return ValidationResult{Valid: true}
}
