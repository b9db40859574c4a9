package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/metrics"
	"github.com/kiranshivaraju/shopmind/internal/store"
	"github.com/kiranshivaraju/shopmind/internal/subscription"
	"github.com/kiranshivaraju/shopmind/pkg/models"
	"golang.org/x/sync/singleflight"
)

// Store is the subset of store.Store the service needs.
type Store interface {
	CreateAction(ctx context.Context, action *models.ActionRecord) error
	GetAction(ctx context.Context, id uuid.UUID) (*models.ActionRecord, error)
	ListActions(ctx context.Context, filter store.ActionFilter) ([]*models.ActionRecord, int, error)
	UpdateAction(ctx context.Context, action *models.ActionRecord, from models.ActionStatus) error
}

// Policy is satisfied by *settings.Service.
type Policy interface {
	AutoExecute(ctx context.Context, kind models.ActionType) bool
	Enabled(ctx context.Context, kind models.ActionType) bool
	MaxRetries(ctx context.Context) int
}

// defaultPriority scores actions created without an analysis.
const defaultPriority = 50

// Service owns the action state machine.
type Service struct {
	store    Store
	registry *Registry
	policy   Policy
	meter    *subscription.Meter
	group    singleflight.Group
	now      func() time.Time
}

// NewService wires the state machine. meter may be nil to skip usage gating.
func NewService(st Store, registry *Registry, policy Policy, meter *subscription.Meter) *Service {
	return &Service{store: st, registry: registry, policy: policy, meter: meter, now: time.Now}
}

// CreateFromSuggestion validates a suggestion and stores it as a pending
// action. analysis may be nil for manually created actions.
func (s *Service) CreateFromSuggestion(ctx context.Context, analysis *models.AnalysisRecord, sg models.Suggestion) (*models.ActionRecord, error) {
	kind, ok := ParseKind(sg.Type)
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown action type %q", sg.Type))
	}
	if !s.policy.Enabled(ctx, kind) {
		return nil, apperr.Validation(fmt.Sprintf("action type %s is disabled", kind))
	}
	if s.meter != nil {
		if err := s.checkQuota(ctx, kind); err != nil {
			return nil, err
		}
	}

	data, res := s.registry.Normalize(kind, withEntity(sg.Data, analysis))
	if !res.Valid {
		return nil, apperr.Validation(fmt.Sprintf("invalid %s suggestion", kind), res.Errors...)
	}
	if sg.Reasoning != "" {
		data["reasoning"] = sg.Reasoning
	}

	exec, err := s.registry.Get(kind)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	a := &models.ActionRecord{
		ID:               uuid.New(),
		ActionType:       kind,
		ActionData:       data,
		Status:           models.ActionStatusPending,
		RequiresApproval: exec.RequiresApproval() || !s.policy.AutoExecute(ctx, kind),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	score := defaultPriority
	if analysis != nil {
		a.AnalysisID = &analysis.ID
		score = analysis.PriorityScore
	}
	a.PriorityScore = adjustPriority(score, sg.Priority)

	if err := s.store.CreateAction(ctx, a); err != nil {
		return nil, apperr.Persistence("saving action", err)
	}
	if s.meter != nil {
		if _, err := s.meter.Record(ctx, models.UsageActionsCreated); err != nil {
			slog.Warn("recording action usage failed", "action_id", a.ID, "error", err)
		}
	}
	metrics.IncActionTransition(kind, a.Status)
	slog.Info("action created",
		"action_id", a.ID,
		"action_type", kind,
		"requires_approval", a.RequiresApproval,
		"priority_score", a.PriorityScore,
	)
	return a, nil
}

// withEntity fills in the analyzed entity as entity_id and entity_type, so a
// suggestion that omits product_id or customer_id still targets the entity it
// was made for. A model-supplied entity_id is left alone.
func withEntity(data map[string]any, analysis *models.AnalysisRecord) map[string]any {
	if analysis == nil || analysis.EntityID == 0 {
		return data
	}
	out := make(map[string]any, len(data)+2)
	for k, v := range data {
		out[k] = v
	}
	if hasKey(out, "entity_id") {
		return data
	}
	for k := range out {
		if normalizeKey(k) == normalizeKey("entity_type") {
			delete(out, k)
		}
	}
	out["entity_id"] = analysis.EntityID
	out["entity_type"] = string(analysis.AnalysisType)
	return out
}

func hasKey(data map[string]any, key string) bool {
	want := normalizeKey(key)
	for k, v := range data {
		if normalizeKey(k) == want && !isBlank(v) {
			return true
		}
	}
	return false
}

func (s *Service) checkQuota(ctx context.Context, kind models.ActionType) error {
	tier, err := s.meter.Tier(ctx)
	if err != nil {
		return err
	}
	if !subscription.ActionAllowed(tier, kind) {
		return apperr.Validation(fmt.Sprintf("action type %s is not available on the %s tier", kind, tier))
	}
	d, err := s.meter.Remaining(ctx, models.UsageActionsCreated)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return apperr.RateLimited("actions per day", nextUTCMidnight(s.now()))
	}
	return nil
}

// ExecuteByID runs a runnable action and records the outcome. Concurrent
// calls for the same id in this process share one execution.
func (s *Service) ExecuteByID(ctx context.Context, id uuid.UUID) (*models.ActionRecord, error) {
	v, err, _ := s.group.Do(id.String(), func() (any, error) {
		return s.execute(ctx, id)
	})
	a, _ := v.(*models.ActionRecord)
	return a, err
}

func (s *Service) execute(ctx context.Context, id uuid.UUID) (*models.ActionRecord, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case a.Status == models.ActionStatusApproved:
	case a.Status == models.ActionStatusPending && !a.RequiresApproval:
	case a.Status == models.ActionStatusPending:
		return a, apperr.Conflict(apperr.CodeInvalidTransition, fmt.Sprintf("action %s requires approval before it can run", id))
	default:
		return a, apperr.Conflict(apperr.CodeInvalidTransition, fmt.Sprintf("action %s is %s and cannot run", id, a.Status))
	}

	from := a.Status
	out := s.registry.Execute(WithActionID(ctx, a.ID), a.ActionType, a.ActionData)
	now := s.now().UTC()

	switch {
	case out.Success:
		a.Status = models.ActionStatusCompleted
		a.ExecutedAt = &now
		a.Result = out.Data
		if a.Result == nil {
			a.Result = map[string]any{}
		}
		a.Result["message"] = out.Message
		a.ErrorMessage = nil
	case out.Invalid() || apperr.KindOf(out.Err) == apperr.KindValidation:
		// Retrying cannot fix bad data.
		a.Status = models.ActionStatusFailed
		a.ErrorMessage = failureMessage(out)
		a.Result = map[string]any{"errors": out.Errors}
	default:
		a.RetryCount++
		a.ErrorMessage = failureMessage(out)
		if a.RetryCount < s.policy.MaxRetries(ctx) {
			a.Status = models.ActionStatusPending
		} else {
			a.Status = models.ActionStatusFailed
		}
	}

	if err := s.update(ctx, a, from); err != nil {
		return nil, err
	}
	metrics.IncActionTransition(a.ActionType, a.Status)

	if out.Success {
		slog.Info("action executed", "action_id", a.ID, "action_type", a.ActionType)
		if s.meter != nil {
			if _, err := s.meter.Record(ctx, models.UsageActionsExecuted); err != nil {
				slog.Warn("recording execution usage failed", "action_id", a.ID, "error", err)
			}
		}
		return a, nil
	}

	slog.Warn("action execution failed",
		"action_id", a.ID,
		"action_type", a.ActionType,
		"status", a.Status,
		"retry_count", a.RetryCount,
		"error", out.Err,
	)
	if _, ok := apperr.As(out.Err); ok {
		return a, fmt.Errorf("executing action %s: %w", id, out.Err)
	}
	return a, fmt.Errorf("executing action %s: %s", id, out.Message)
}

func failureMessage(out Outcome) *string {
	msg := out.Message
	if _, ok := apperr.As(out.Err); ok {
		msg = apperr.Public(out.Err)
	}
	return &msg
}

// ApproveAction moves a pending action to approved.
func (s *Service) ApproveAction(ctx context.Context, id uuid.UUID, approver string) (*models.ActionRecord, error) {
	approver = strings.TrimSpace(approver)
	if approver == "" {
		return nil, apperr.Validation("approver is required")
	}
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.approve(ctx, a, approver); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) approve(ctx context.Context, a *models.ActionRecord, approver string) error {
	if a.Status != models.ActionStatusPending {
		return apperr.Conflict(apperr.CodeInvalidTransition, fmt.Sprintf("action %s is %s; only pending actions can be approved", a.ID, a.Status))
	}
	now := s.now().UTC()
	a.Status = models.ActionStatusApproved
	a.ApprovedBy = &approver
	a.ApprovedAt = &now
	if err := s.update(ctx, a, models.ActionStatusPending); err != nil {
		return err
	}
	metrics.IncActionTransition(a.ActionType, a.Status)
	slog.Info("action approved", "action_id", a.ID, "approved_by", approver)
	return nil
}

// DismissAction cancels a pending or approved action.
func (s *Service) DismissAction(ctx context.Context, id uuid.UUID) (*models.ActionRecord, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.dismiss(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) dismiss(ctx context.Context, a *models.ActionRecord) error {
	if a.Status != models.ActionStatusPending && a.Status != models.ActionStatusApproved {
		return apperr.Conflict(apperr.CodeInvalidTransition, fmt.Sprintf("action %s is %s and cannot be dismissed", a.ID, a.Status))
	}
	from := a.Status
	a.Status = models.ActionStatusCancelled
	if err := s.update(ctx, a, from); err != nil {
		return err
	}
	metrics.IncActionTransition(a.ActionType, a.Status)
	slog.Info("action dismissed", "action_id", a.ID)
	return nil
}

// ApproveAllPending approves every pending action and returns how many
// changed. Actions that moved concurrently are skipped.
func (s *Service) ApproveAllPending(ctx context.Context, approver string) (int, error) {
	approver = strings.TrimSpace(approver)
	if approver == "" {
		return 0, apperr.Validation("approver is required")
	}
	return s.bulk(ctx, []models.ActionStatus{models.ActionStatusPending}, func(a *models.ActionRecord) error {
		return s.approve(ctx, a, approver)
	})
}

// DismissAllByStatus cancels every action in statuses, which may only name
// pending and approved. Empty means pending.
func (s *Service) DismissAllByStatus(ctx context.Context, statuses []models.ActionStatus) (int, error) {
	if len(statuses) == 0 {
		statuses = []models.ActionStatus{models.ActionStatusPending}
	}
	for _, st := range statuses {
		if st != models.ActionStatusPending && st != models.ActionStatusApproved {
			return 0, apperr.Validation("statuses may only contain pending and approved", fmt.Sprintf("%q cannot be dismissed", st))
		}
	}
	return s.bulk(ctx, statuses, func(a *models.ActionRecord) error {
		return s.dismiss(ctx, a)
	})
}

func (s *Service) bulk(ctx context.Context, statuses []models.ActionStatus, apply func(a *models.ActionRecord) error) (int, error) {
	actions, err := s.collect(ctx, store.ActionFilter{Statuses: statuses})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := apply(a); err != nil {
			if apperr.KindOf(err) == apperr.KindConflict || apperr.KindOf(err) == apperr.KindNotFound {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// collect reads every page matching filter before anything is changed.
func (s *Service) collect(ctx context.Context, filter store.ActionFilter) ([]*models.ActionRecord, error) {
	const pageSize = 100
	filter.Limit = pageSize
	var all []*models.ActionRecord
	for page := 1; ; page++ {
		filter.Page = page
		items, total, err := s.store.ListActions(ctx, filter)
		if err != nil {
			return nil, apperr.Persistence("listing actions", err)
		}
		all = append(all, items...)
		if len(items) < pageSize || len(all) >= total {
			return all, nil
		}
	}
}

// ExecuteSummary counts the results of one ExecuteReady sweep.
type ExecuteSummary struct {
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// ExecuteReady runs up to limit runnable actions, highest priority first.
func (s *Service) ExecuteReady(ctx context.Context, limit int) (ExecuteSummary, error) {
	var sum ExecuteSummary
	actions, _, err := s.store.ListActions(ctx, store.ActionFilter{Runnable: true, Limit: limit})
	if err != nil {
		return sum, apperr.Persistence("listing runnable actions", err)
	}
	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		rec, err := s.ExecuteByID(ctx, a.ID)
		switch {
		case err == nil:
			sum.Executed++
		case apperr.KindOf(err) == apperr.KindConflict, apperr.KindOf(err) == apperr.KindNotFound:
			sum.Skipped++
		case rec == nil:
			// The store failed, not the action.
			return sum, err
		default:
			sum.Failed++
		}
	}
	return sum, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.ActionRecord, error) {
	a, err := s.store.GetAction(ctx, id)
	if err != nil {
		return nil, storeError("loading action", id, err)
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, filter store.ActionFilter) ([]*models.ActionRecord, int, error) {
	items, total, err := s.store.ListActions(ctx, filter)
	if err != nil {
		return nil, 0, apperr.Persistence("listing actions", err)
	}
	return items, total, nil
}

// Kinds returns executor metadata for every kind.
func (s *Service) Kinds() []Meta { return s.registry.Kinds() }

func (s *Service) update(ctx context.Context, a *models.ActionRecord, from models.ActionStatus) error {
	if err := s.store.UpdateAction(ctx, a, from); err != nil {
		return storeError("updating action", a.ID, err)
	}
	return nil
}

func storeError(op string, id uuid.UUID, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("action", id)
	case errors.Is(err, store.ErrStatusConflict):
		return apperr.Conflict(apperr.CodeConflict, fmt.Sprintf("action %s changed concurrently", id))
	}
	return apperr.Persistence(op, err)
}

// adjustPriority nudges the analysis score by the suggestion's own priority.
func adjustPriority(score int, priority string) int {
	switch priority {
	case "high":
		score += 10
	case "low":
		score -= 10
	}
	return max(0, min(100, score))
}

func nextUTCMidnight(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
}
