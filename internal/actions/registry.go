package actions

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/validate"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// Registry holds one executor per kind.
type Registry struct {
	executors map[models.ActionType]Executor
}

func NewRegistry(d Deps) *Registry {
	return newRegistry(d, time.Now)
}

func newRegistry(d Deps, now func() time.Time) *Registry {
	v := validate.New()
	r := &Registry{executors: make(map[models.ActionType]Executor, len(models.ActionTypes))}
	for _, kind := range models.ActionTypes {
		if e := newExecutor(kind, d, v, now); e != nil {
			r.executors[kind] = e
		}
	}
	return r
}

// Get returns the executor for kind.
func (r *Registry) Get(kind models.ActionType) (Executor, error) {
	e, ok := r.executors[kind]
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown action type %q", kind))
	}
	return e, nil
}

// Kinds returns metadata for every kind in declaration order.
func (r *Registry) Kinds() []Meta {
	out := make([]Meta, 0, len(r.executors))
	for _, kind := range models.ActionTypes {
		if e, ok := r.executors[kind]; ok {
			out = append(out, e.Meta())
		}
	}
	return out
}

func (r *Registry) Validate(kind models.ActionType, data map[string]any) ValidationResult {
	e, err := r.Get(kind)
	if err != nil {
		return ValidationResult{Errors: []string{err.Error()}}
	}
	return e.Validate(data)
}

type normalizer interface {
	Normalize(data map[string]any) (map[string]any, ValidationResult)
}

// Normalize validates data and rewrites it to canonical field names.
func (r *Registry) Normalize(kind models.ActionType, data map[string]any) (map[string]any, ValidationResult) {
	e, err := r.Get(kind)
	if err != nil {
		return nil, ValidationResult{Errors: []string{err.Error()}}
	}
	if n, ok := e.(normalizer); ok {
		return n.Normalize(data)
	}
	res := e.Validate(data)
	return data, res
}

// Execute runs kind's executor. Panics are converted to a failed Outcome.
func (r *Registry) Execute(ctx context.Context, kind models.ActionType, data map[string]any) (out Outcome) {
	e, err := r.Get(kind)
	if err != nil {
		return Outcome{Message: apperr.Public(err), Errors: []string{err.Error()}, Err: err}
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("action executor panicked",
				"action_type", kind,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			out = Outcome{Message: "action failed unexpectedly", Err: fmt.Errorf("executor panic: %v", rec)}
		}
	}()
	return e.Execute(ctx, data)
}

var kindAliases = map[string]models.ActionType{
	"email":              models.ActionSendEmail,
	"send_mail":          models.ActionSendEmail,
	"sms":                models.ActionSendSMS,
	"text_message":       models.ActionSendSMS,
	"send_text":          models.ActionSendSMS,
	"discount":           models.ActionCreateDiscount,
	"coupon":             models.ActionCreateDiscount,
	"create_coupon":      models.ActionCreateDiscount,
	"apply_discount":     models.ActionCreateDiscount,
	"update_price":       models.ActionUpdateProduct,
	"adjust_price":       models.ActionUpdateProduct,
	"campaign":           models.ActionCreateCampaign,
	"marketing_campaign": models.ActionCreateCampaign,
	"followup":           models.ActionScheduleFollowup,
	"follow_up":          models.ActionScheduleFollowup,
	"schedule_follow_up": models.ActionScheduleFollowup,
	"bundle":             models.ActionCreateBundle,
	"product_bundle":     models.ActionCreateBundle,
	"restock":            models.ActionInventoryAlert,
	"restock_alert":      models.ActionInventoryAlert,
	"low_stock_alert":    models.ActionInventoryAlert,
	"stock_alert":        models.ActionInventoryAlert,
	"loyalty":            models.ActionLoyaltyReward,
	"reward":             models.ActionLoyaltyReward,
	"award_points":       models.ActionLoyaltyReward,
	"price_change":       models.ActionSchedulePriceChange,
}

// ParseKind maps a suggestion's type to a kind, accepting common synonyms.
func ParseKind(s string) (models.ActionType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	if k, ok := models.ParseActionType(s); ok {
		return k, true
	}
	k, ok := kindAliases[s]
	return k, ok
}
