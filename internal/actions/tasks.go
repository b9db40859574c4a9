package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/catalog"
	"github.com/kiranshivaraju/shopmind/internal/notify"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// TaskStore reads and settles scheduled tasks.
type TaskStore interface {
	ListDueTasks(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledTask, error)
	SetTaskStatus(ctx context.Context, id uuid.UUID, status models.TaskStatus) error
}

// TaskRunner carries out the deferred work written by the scheduling kinds.
type TaskRunner struct {
	store TaskStore
	deps  Deps
	now   func() time.Time
}

func NewTaskRunner(st TaskStore, d Deps) *TaskRunner {
	return &TaskRunner{store: st, deps: d, now: time.Now}
}

// TaskSummary counts the results of one RunDue sweep. Deferred tasks stay
// scheduled and are retried by the next sweep.
type TaskSummary struct {
	Done      int `json:"done"`
	Cancelled int `json:"cancelled"`
	Deferred  int `json:"deferred"`
}

// RunDue runs up to limit tasks whose run_at has passed. Tasks with bad
// payloads or missing entities are cancelled.
func (r *TaskRunner) RunDue(ctx context.Context, limit int) (TaskSummary, error) {
	var sum TaskSummary
	tasks, err := r.store.ListDueTasks(ctx, r.now().UTC(), limit)
	if err != nil {
		return sum, apperr.Persistence("listing due tasks", err)
	}
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		err := r.run(ctx, t)
		status := models.TaskStatusDone
		switch {
		case err == nil:
			sum.Done++
		case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrNotFound):
			status = models.TaskStatusCancelled
			sum.Cancelled++
			slog.Warn("scheduled task cancelled", "task_id", t.ID, "task_type", t.TaskType, "error", err)
		default:
			sum.Deferred++
			slog.Warn("scheduled task deferred", "task_id", t.ID, "task_type", t.TaskType, "error", err)
			continue
		}
		if err := r.store.SetTaskStatus(ctx, t.ID, status); err != nil {
			return sum, apperr.Persistence("settling scheduled task", err)
		}
	}
	return sum, nil
}

func (r *TaskRunner) run(ctx context.Context, t *models.ScheduledTask) error {
	switch t.TaskType {
	case models.TaskFollowup:
		return r.followup(ctx, t)
	case models.TaskPriceChange:
		return r.priceChange(ctx, t)
	case models.TaskCampaign:
		return r.campaign(ctx, t)
	}
	return apperr.Validation(fmt.Sprintf("unknown task type %q", t.TaskType))
}

func (r *TaskRunner) followup(ctx context.Context, t *models.ScheduledTask) error {
	if r.deps.Notifier == nil {
		return notConfigured("notifier")
	}
	id, err := payloadInt(t, "customer_id")
	if err != nil {
		return err
	}
	note, _ := toString(t.Payload["note"])
	if note == "" {
		note = "No note was left with this follow-up."
	}
	r.deps.Notifier.Notify(ctx, notify.Alert{
		Level:   notify.LevelInfo,
		Subject: fmt.Sprintf("Follow up with customer %d", id),
		Body:    note,
		Fields:  taskFields(t, map[string]any{"customer_id": id}),
	})
	return nil
}

func (r *TaskRunner) priceChange(ctx context.Context, t *models.ScheduledTask) error {
	if r.deps.Catalog == nil {
		return notConfigured("catalog")
	}
	id, err := payloadInt(t, "product_id")
	if err != nil {
		return err
	}
	price, err := toFloat(t.Payload["new_price"])
	if err != nil || price <= 0 {
		return apperr.Validation("task payload new_price must be a positive number")
	}
	if _, err := r.deps.Catalog.UpdateProduct(ctx, id, catalog.ProductUpdate{RegularPrice: &price}); err != nil {
		return err
	}
	slog.Info("scheduled price change applied", "task_id", t.ID, "product_id", id, "new_price", price)
	return nil
}

// campaign sends to every recipient once. Per-recipient failures are
// counted, never retried, so nobody receives a campaign twice.
func (r *TaskRunner) campaign(ctx context.Context, t *models.ScheduledTask) error {
	channel, _ := toString(t.Payload["channel"])
	switch channel {
	case "", "email":
		if r.deps.Mailer == nil {
			return notConfigured("email")
		}
		channel = "email"
	case "sms":
		if r.deps.SMS == nil {
			return notConfigured("sms")
		}
	default:
		return apperr.Validation(fmt.Sprintf("unknown campaign channel %q", channel))
	}
	if r.deps.Customers == nil {
		return notConfigured("catalog")
	}
	ids, err := toIntList(t.Payload["customer_ids"])
	if err != nil || len(ids) == 0 {
		return apperr.Validation("task payload customer_ids must be a non-empty integer list")
	}
	subject, _ := toString(t.Payload["subject"])
	body, _ := toString(t.Payload["body"])
	name, _ := toString(t.Payload["name"])

	sent, skipped, failed := 0, 0, 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := r.deps.Customers.GetCustomer(ctx, id)
		if err != nil {
			failed++
			continue
		}
		switch {
		case channel == "email" && c.Email != "":
			err = r.deps.Mailer.Send(ctx, c.Email, subject, body)
		case channel == "sms" && c.Phone != "":
			_, err = r.deps.SMS.Send(ctx, c.Phone, body)
		default:
			skipped++
			continue
		}
		if err != nil {
			failed++
			slog.Warn("campaign delivery failed", "task_id", t.ID, "customer_id", id, "error", err)
			continue
		}
		sent++
	}

	slog.Info("campaign sent",
		"task_id", t.ID,
		"campaign", name,
		"channel", channel,
		"sent", sent,
		"skipped", skipped,
		"failed", failed,
	)
	if r.deps.Notifier != nil {
		r.deps.Notifier.Notify(ctx, notify.Alert{
			Level:   notify.LevelInfo,
			Subject: fmt.Sprintf("Campaign %q sent", name),
			Body:    fmt.Sprintf("Delivered to %d of %d customers by %s.", sent, len(ids), channel),
			Fields:  taskFields(t, map[string]any{"sent": sent, "skipped": skipped, "failed": failed}),
		})
	}
	return nil
}

func payloadInt(t *models.ScheduledTask, key string) (int64, error) {
	n, err := toInt(t.Payload[key])
	if err != nil || n <= 0 {
		return 0, apperr.Validation(fmt.Sprintf("task payload %s must be a positive integer", key))
	}
	return n, nil
}

func taskFields(t *models.ScheduledTask, fields map[string]any) map[string]any {
	fields["task_id"] = t.ID.String()
	if t.ActionID != nil {
		fields["action_id"] = t.ActionID.String()
	}
	return fields
}
