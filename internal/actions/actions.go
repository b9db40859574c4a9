// Package actions turns model suggestions into action records and drives
// them through approval and execution.
package actions

import (
	"context"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shopmind/internal/catalog"
	"github.com/kiranshivaraju/shopmind/internal/notify"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// Executor implements one action kind.
type Executor interface {
	Kind() models.ActionType
	Meta() Meta
	// RequiresApproval is the kind's default; settings can only make it stricter.
	RequiresApproval() bool
	Validate(data map[string]any) ValidationResult
	Execute(ctx context.Context, data map[string]any) Outcome
}

type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Outcome is the uniform result of an execution. Errors is set only when
// the data failed validation; Err keeps the underlying failure for
// classification and is never serialized.
type Outcome struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	Errors  []string       `json:"errors,omitempty"`
	Err     error          `json:"-"`
}

// Invalid reports whether the outcome is a validation failure.
func (o Outcome) Invalid() bool { return len(o.Errors) > 0 }

// Meta describes a kind for the kinds endpoint.
type Meta struct {
	Type             models.ActionType `json:"type"`
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	RequiresApproval bool              `json:"requires_approval"`
	Fields           []FieldMeta       `json:"fields"`
}

type FieldMeta struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Aliases  []string `json:"aliases,omitempty"`
	Required bool     `json:"required"`
}

// EmailSender is satisfied by *mailer.Sender.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMSSender is satisfied by *sms.Client.
type SMSSender interface {
	Send(ctx context.Context, to, text string) (string, error)
}

// TaskWriter persists deferred work.
type TaskWriter interface {
	CreateScheduledTask(ctx context.Context, task *models.ScheduledTask) error
}

// Deps are the collaborators executors act through. Any may be nil; the
// kinds that need a missing one fail at execution.
type Deps struct {
	Catalog   catalog.Mutator
	Customers catalog.Source
	Mailer    EmailSender
	SMS       SMSSender
	Notifier  notify.Notifier
	Tasks     TaskWriter
}

type actionIDKey struct{}

// WithActionID attaches the executing action's ID to ctx so executors can
// link the records they create back to it.
func WithActionID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, actionIDKey{}, id)
}

func actionIDFrom(ctx context.Context) *uuid.UUID {
	id, ok := ctx.Value(actionIDKey{}).(uuid.UUID)
	if !ok {
		return nil
	}
	return &id
}
