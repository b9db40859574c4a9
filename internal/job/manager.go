// Package job runs catalog analysis as a resumable sequence of bounded
// batches over a single durable JobState.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shopmind/internal/analysis"
	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/catalog"
	"github.com/kiranshivaraju/shopmind/internal/config"
	"github.com/kiranshivaraju/shopmind/internal/metrics"
	"github.com/kiranshivaraju/shopmind/internal/notify"
	"github.com/kiranshivaraju/shopmind/internal/store"
	"github.com/kiranshivaraju/shopmind/internal/subscription"
	"github.com/kiranshivaraju/shopmind/pkg/models"
	"golang.org/x/sync/singleflight"
)

// Store is the subset of store.Store the manager needs.
type Store interface {
	GetJobState(ctx context.Context) (*models.JobState, error)
	SaveJobState(ctx context.Context, st *models.JobState) error
}

// EntityAnalyzer is satisfied by *analysis.Analyzer.
type EntityAnalyzer interface {
	AnalyzeEntity(ctx context.Context, id int64) (*analysis.Outcome, error)
}

// ActionCreator is satisfied by *actions.Service.
type ActionCreator interface {
	CreateFromSuggestion(ctx context.Context, analysis *models.AnalysisRecord, sg models.Suggestion) (*models.ActionRecord, error)
}

// BatchSizer is satisfied by *settings.Service.
type BatchSizer interface {
	BatchSize(ctx context.Context) int
}

type Deps struct {
	Store     Store
	Source    catalog.Source
	Products  EntityAnalyzer
	Customers EntityAnalyzer
	Actions   ActionCreator
	// Meter, Settings and Notifier are optional.
	Meter    *subscription.Meter
	Settings BatchSizer
	Notifier notify.Notifier
}

// saveAttempts bounds the CAS retry loops of operations that may race a
// concurrent writer.
const saveAttempts = 3

// Manager owns the JobState.
type Manager struct {
	deps  Deps
	cfg   config.JobConfig
	group singleflight.Group
	now   func() time.Time
}

func NewManager(deps Deps, cfg config.JobConfig) *Manager {
	return &Manager{deps: deps, cfg: cfg, now: time.Now}
}

// StartJob queues the entities for a new job. It fails with a conflict while
// a job is active or a finished job has not been acknowledged.
func (m *Manager) StartJob(ctx context.Context, jobType models.JobType) (models.JobProgress, error) {
	if !jobType.Valid() {
		return models.JobProgress{}, apperr.Validation(fmt.Sprintf("invalid job type %q", jobType), "type must be one of all, products, customers")
	}
	cur, err := m.load(ctx)
	if err != nil {
		return models.JobProgress{}, err
	}
	switch {
	case cur.Status.Active():
		return cur.Progress(), apperr.Conflict(apperr.CodeJobRunning, "an analysis job is already running")
	case cur.Status.Terminal():
		return cur.Progress(), apperr.Conflict(apperr.CodeConflict, fmt.Sprintf("the previous job is %s; acknowledge it before starting a new one", cur.Status))
	}

	var products, customers []int64
	if jobType == models.JobTypeAll || jobType == models.JobTypeProducts {
		products, err = m.deps.Source.ListProductIDs(ctx, m.cfg.MaxProducts)
		if err != nil {
			return models.JobProgress{}, err
		}
		products = capIDs(products, m.cfg.MaxProducts)
	}
	if jobType == models.JobTypeAll || jobType == models.JobTypeCustomers {
		customers, err = m.deps.Source.ListCustomerIDs(ctx, m.cfg.MaxCustomers)
		if err != nil {
			return models.JobProgress{}, err
		}
		customers = capIDs(customers, m.cfg.MaxCustomers)
	}
	total, err := m.capTotal(ctx, len(products)+len(customers))
	if err != nil {
		return models.JobProgress{}, err
	}
	// Products take the budget first.
	products = capIDs(products, total)
	customers = capIDs(customers, total-len(products))

	now := m.now().UTC()
	st := &models.JobState{
		ID:             uuid.New(),
		Status:         models.JobStatusRunning,
		Type:           jobType,
		ProductIDs:     products,
		CustomerIDs:    customers,
		ProductsTotal:  len(products),
		CustomersTotal: len(customers),
		Errors:         []models.JobError{},
		StartedAt:      &now,
		UpdatedAt:      now,
		Version:        cur.Version,
	}
	if err := m.save(ctx, st); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return models.JobProgress{}, apperr.Conflict(apperr.CodeJobRunning, "an analysis job was started concurrently")
		}
		return models.JobProgress{}, err
	}

	slog.Info("analysis job started",
		"job_id", st.ID,
		"type", jobType,
		"products", len(products),
		"customers", len(customers),
	)
	return st.Progress(), nil
}

// capTotal bounds the number of queued entities by the tier's per-job limit
// and by the analyses left today.
func (m *Manager) capTotal(ctx context.Context, n int) (int, error) {
	if m.deps.Meter == nil {
		return n, nil
	}
	tier, err := m.deps.Meter.Tier(ctx)
	if err != nil {
		return 0, err
	}
	d, err := m.deps.Meter.Remaining(ctx, models.UsageAnalyses)
	if err != nil {
		return 0, err
	}
	if !d.Allowed {
		return 0, apperr.RateLimited("analyses per day", nextUTCMidnight(m.now()))
	}
	return subscription.CapEntities(tier, n, d.Remaining), nil
}

// GetJobProgress reads the current snapshot. It has no side effects.
func (m *Manager) GetJobProgress(ctx context.Context) (models.JobProgress, error) {
	st, err := m.load(ctx)
	if err != nil {
		return models.JobProgress{}, err
	}
	return st.Progress(), nil
}

// ProcessNextBatch advances the running job by up to one batch and returns
// the snapshot afterwards. Concurrent callers in this process share one
// batch; callers in other processes see the lease and get the snapshot
// without doing work.
func (m *Manager) ProcessNextBatch(ctx context.Context) (models.JobProgress, error) {
	v, err, _ := m.group.Do("batch", func() (any, error) {
		return m.processBatch(ctx)
	})
	p, _ := v.(models.JobProgress)
	return p, err
}

func (m *Manager) processBatch(ctx context.Context) (models.JobProgress, error) {
	st, err := m.load(ctx)
	if err != nil {
		return models.JobProgress{}, err
	}
	now := m.now().UTC()

	switch st.Status {
	case models.JobStatusCancelling:
		return m.finalizeCancel(ctx, st)
	case models.JobStatusRunning:
	default:
		return st.Progress(), nil
	}
	if st.LeaseUntil != nil && now.Before(*st.LeaseUntil) {
		slog.Debug("batch lease held elsewhere", "job_id", st.ID, "lease_until", st.LeaseUntil)
		return st.Progress(), nil
	}
	if err := checkCursors(st); err != nil {
		if ferr := m.fail(ctx, st, err); ferr != nil {
			return models.JobProgress{}, ferr
		}
		return st.Progress(), err
	}

	token := uuid.NewString()
	leaseUntil := now.Add(m.cfg.LeaseTTL)
	st.LeaseToken = token
	st.LeaseUntil = &leaseUntil
	st.UpdatedAt = now
	if err := m.save(ctx, st); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			// Another process claimed the batch first.
			return m.GetJobProgress(ctx)
		}
		return models.JobProgress{}, err
	}

	started := time.Now()
	work := st.Clone()
	batchErr := m.runBatch(ctx, token, work)

	// A cancelled caller still records the progress it made.
	saveCtx := context.WithoutCancel(ctx)
	final, err := m.commit(saveCtx, token, work, batchErr)
	if err != nil {
		metrics.IncJobBatch("error")
		return models.JobProgress{}, err
	}

	outcome := "ok"
	if batchErr != nil {
		outcome = "failed"
	}
	metrics.IncJobBatch(outcome)
	slog.Info("job batch processed",
		"job_id", final.ID,
		"status", final.Status,
		"products_analyzed", final.ProductsAnalyzed,
		"customers_analyzed", final.CustomersAnalyzed,
		"actions_created", final.ActionsCreated,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	m.notifyFinished(saveCtx, final)

	if batchErr != nil {
		return final.Progress(), batchErr
	}
	if err := ctx.Err(); err != nil {
		return final.Progress(), err
	}
	return final.Progress(), nil
}

// runBatch analyzes up to one batch of entities from st's cursors, products
// first. Progress is checkpointed after every entity. It returns the first
// error that should fail the job.
func (m *Manager) runBatch(ctx context.Context, token string, st *models.JobState) error {
	budget := m.batchSize(ctx)
	actionsBlocked := false

	for ; budget > 0; budget-- {
		if ctx.Err() != nil {
			return nil
		}
		entityType, id, ok := next(st)
		if !ok {
			return nil
		}
		st.CurrentItem = fmt.Sprintf("%s %d", entityType, id)

		analyzer := m.deps.Products
		if entityType == models.AnalysisTypeCustomer {
			analyzer = m.deps.Customers
		}
		out, err := analyzer.AnalyzeEntity(ctx, id)
		if err != nil {
			switch apperr.KindOf(err) {
			case apperr.KindPersistence:
				return err
			case apperr.KindCircuitOpen, apperr.KindRateLimit:
				// The provider is unavailable, not the entity. Pause here and
				// let a later batch retry it.
				slog.Warn("LLM unavailable, batch paused",
					"job_id", st.ID,
					"entity_type", entityType,
					"entity_id", id,
					"error", err,
				)
				return nil
			}
			if ctx.Err() != nil {
				// The entity is retried by the next batch.
				return nil
			}
			m.recordError(st, entityType, id, err)
			metrics.IncJobEntity(string(entityType), "error")
			advance(st, entityType)
			if cont, err := m.checkpoint(ctx, token, st); !cont {
				return err
			}
			continue
		}

		if m.deps.Meter != nil {
			if _, err := m.deps.Meter.Record(ctx, models.UsageAnalyses); err != nil {
				slog.Warn("recording analysis usage failed", "job_id", st.ID, "error", err)
			}
		}
		if out.ParseError != nil {
			m.recordError(st, entityType, id, out.ParseError)
			metrics.IncJobEntity(string(entityType), "parse_error")
		} else {
			metrics.IncJobEntity(string(entityType), "ok")
		}
		advance(st, entityType)

		for _, sg := range out.Suggestions {
			if actionsBlocked {
				break
			}
			_, err := m.deps.Actions.CreateFromSuggestion(ctx, out.Record, sg)
			switch {
			case err == nil:
				st.ActionsCreated++
			case errors.Is(err, apperr.ErrRateLimit):
				actionsBlocked = true
				slog.Info("daily action limit reached, analysis continues without creating actions", "job_id", st.ID)
			case errors.Is(err, apperr.ErrPersistence):
				return err
			default:
				slog.Warn("suggestion skipped",
					"job_id", st.ID,
					"entity_id", id,
					"type", sg.Type,
					"error", err,
				)
			}
		}
		if cont, err := m.checkpoint(ctx, token, st); !cont {
			return err
		}
	}
	return nil
}

// checkpoint saves st and renews the batch lease and heartbeat. It reports
// false when the batch must stop: the save failed, or another writer changed
// the state. A cancel keeps the lease token, so commit still merges the
// progress; a reset or resume replaced it, so the batch is abandoned.
func (m *Manager) checkpoint(ctx context.Context, token string, st *models.JobState) (bool, error) {
	now := m.now().UTC()
	leaseUntil := now.Add(m.cfg.LeaseTTL)
	st.LeaseUntil = &leaseUntil
	st.UpdatedAt = now

	err := m.save(context.WithoutCancel(ctx), st)
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, apperr.ErrConflict):
		return false, err
	}
	cur, err := m.load(context.WithoutCancel(ctx))
	if err != nil {
		return false, err
	}
	if cur.LeaseToken != token || cur.ID != st.ID {
		slog.Warn("batch lease lost, stopping batch", "job_id", st.ID)
	}
	return false, nil
}

// commit saves the batch result under the lease identified by token. When a
// concurrent cancel bumped the version, the progress is merged into the
// newer state.
func (m *Manager) commit(ctx context.Context, token string, work *models.JobState, batchErr error) (*models.JobState, error) {
	for attempt := 0; ; attempt++ {
		now := m.now().UTC()
		work.LeaseToken = ""
		work.LeaseUntil = nil
		work.UpdatedAt = now

		switch {
		case batchErr != nil:
			work.Status = models.JobStatusFailed
			work.LastError = apperr.Public(batchErr)
			work.CompletedAt = &now
		case done(work):
			work.Status = models.JobStatusCompleted
			work.CurrentItem = ""
			work.CompletedAt = &now
		}

		err := m.save(ctx, work)
		if err == nil {
			return work, nil
		}
		if !errors.Is(err, apperr.ErrConflict) || attempt+1 >= saveAttempts {
			return nil, err
		}

		cur, lerr := m.load(ctx)
		if lerr != nil {
			return nil, lerr
		}
		if cur.LeaseToken != token || cur.ID != work.ID {
			// Reset or resumed while the batch ran; its progress is discarded.
			slog.Warn("job state replaced during batch", "job_id", work.ID)
			return cur, nil
		}
		merged := cur.Clone()
		copyProgress(merged, work)
		work = merged
	}
}

// CancelJob asks the running job to stop at the next batch boundary.
func (m *Manager) CancelJob(ctx context.Context) (models.JobProgress, error) {
	for attempt := 0; ; attempt++ {
		st, err := m.load(ctx)
		if err != nil {
			return models.JobProgress{}, err
		}
		switch st.Status {
		case models.JobStatusCancelling:
			return st.Progress(), nil
		case models.JobStatusRunning:
		default:
			return st.Progress(), apperr.Conflict(apperr.CodeInvalidTransition, fmt.Sprintf("no running job to cancel (status %s)", st.Status))
		}

		st.Status = models.JobStatusCancelling
		st.UpdatedAt = m.now().UTC()
		err = m.save(ctx, st)
		if err == nil {
			slog.Info("analysis job cancelling", "job_id", st.ID)
			return st.Progress(), nil
		}
		if !errors.Is(err, apperr.ErrConflict) || attempt+1 >= saveAttempts {
			return models.JobProgress{}, err
		}
	}
}

func (m *Manager) finalizeCancel(ctx context.Context, st *models.JobState) (models.JobProgress, error) {
	now := m.now().UTC()
	st.Status = models.JobStatusCancelled
	st.CurrentItem = ""
	st.LeaseToken = ""
	st.LeaseUntil = nil
	st.CompletedAt = &now
	st.UpdatedAt = now
	if err := m.save(ctx, st); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return m.GetJobProgress(ctx)
		}
		return models.JobProgress{}, err
	}
	slog.Info("analysis job cancelled", "job_id", st.ID)
	return st.Progress(), nil
}

// AcknowledgeCompletion clears a finished job so a new one can start.
func (m *Manager) AcknowledgeCompletion(ctx context.Context) (models.JobProgress, error) {
	st, err := m.load(ctx)
	if err != nil {
		return models.JobProgress{}, err
	}
	switch {
	case st.Status == models.JobStatusIdle:
		return st.Progress(), nil
	case !st.Status.Terminal():
		return st.Progress(), apperr.Conflict(apperr.CodeInvalidTransition, fmt.Sprintf("job is %s and cannot be acknowledged", st.Status))
	}

	idle := models.IdleJobState()
	idle.Version = st.Version
	idle.UpdatedAt = m.now().UTC()
	if err := m.save(ctx, idle); err != nil {
		return models.JobProgress{}, err
	}
	slog.Info("analysis job acknowledged", "job_id", st.ID, "status", st.Status)
	return idle.Progress(), nil
}

// ResumeStaleJob takes over a running job whose heartbeat is older than
// StaleAfter. The job continues from its stored cursors; corrupt state is
// marked failed. It reports whether anything changed.
func (m *Manager) ResumeStaleJob(ctx context.Context) (models.JobProgress, bool, error) {
	st, err := m.load(ctx)
	if err != nil {
		return models.JobProgress{}, false, err
	}
	now := m.now().UTC()
	if !st.Status.Active() || now.Sub(st.UpdatedAt) < m.cfg.StaleAfter {
		return st.Progress(), false, nil
	}

	if st.Status == models.JobStatusCancelling {
		p, err := m.finalizeCancel(ctx, st)
		return p, err == nil, err
	}
	if err := checkCursors(st); err != nil {
		if ferr := m.fail(ctx, st, err); ferr != nil {
			return models.JobProgress{}, false, ferr
		}
		return st.Progress(), true, nil
	}

	slog.Warn("resuming stale analysis job",
		"job_id", st.ID,
		"last_heartbeat", st.UpdatedAt,
		"product_cursor", st.ProductCursor,
		"customer_cursor", st.CustomerCursor,
	)
	st.LeaseToken = ""
	st.LeaseUntil = nil
	st.UpdatedAt = now
	if err := m.save(ctx, st); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			p, perr := m.GetJobProgress(ctx)
			return p, false, perr
		}
		return models.JobProgress{}, false, err
	}
	return st.Progress(), true, nil
}

// ResetJobState discards any job and returns to idle.
func (m *Manager) ResetJobState(ctx context.Context) (models.JobProgress, error) {
	for attempt := 0; ; attempt++ {
		st, err := m.load(ctx)
		if err != nil {
			return models.JobProgress{}, err
		}
		idle := models.IdleJobState()
		idle.Version = st.Version
		idle.UpdatedAt = m.now().UTC()
		err = m.save(ctx, idle)
		if err == nil {
			slog.Warn("analysis job state reset", "job_id", st.ID, "previous_status", st.Status)
			return idle.Progress(), nil
		}
		if !errors.Is(err, apperr.ErrConflict) || attempt+1 >= saveAttempts {
			return models.JobProgress{}, err
		}
	}
}

// fail persists st as failed with cause.
func (m *Manager) fail(ctx context.Context, st *models.JobState, cause error) error {
	now := m.now().UTC()
	st.Status = models.JobStatusFailed
	st.LastError = apperr.Public(cause)
	st.LeaseToken = ""
	st.LeaseUntil = nil
	st.CompletedAt = &now
	st.UpdatedAt = now
	if err := m.save(ctx, st); err != nil {
		return err
	}
	slog.Error("analysis job failed", "job_id", st.ID, "error", cause)
	m.notifyFinished(ctx, st)
	return nil
}

func (m *Manager) notifyFinished(ctx context.Context, st *models.JobState) {
	if m.deps.Notifier == nil || !st.Status.Terminal() {
		return
	}
	a := notify.Alert{
		Level:   notify.LevelInfo,
		Subject: fmt.Sprintf("Analysis job %s", st.Status),
		Body: fmt.Sprintf("Analyzed %d of %d products and %d of %d customers; %d actions created.",
			st.ProductsAnalyzed, st.ProductsTotal, st.CustomersAnalyzed, st.CustomersTotal, st.ActionsCreated),
		Fields: map[string]any{"job_id": st.ID.String(), "errors": len(st.Errors)},
	}
	if st.Status == models.JobStatusFailed {
		a.Level = notify.LevelCritical
		a.Fields["last_error"] = st.LastError
	}
	m.deps.Notifier.Notify(ctx, a)
}

func (m *Manager) recordError(st *models.JobState, entityType models.AnalysisType, id int64, err error) {
	e := models.JobError{
		EntityType: string(entityType),
		EntityID:   id,
		Code:       apperr.CodeOf(err),
		Message:    apperr.Public(err),
		At:         m.now().UTC(),
	}
	st.Errors = appendRing(st.Errors, e, m.cfg.MaxErrors)
	st.LastError = e.Message
	slog.Warn("entity analysis failed",
		"job_id", st.ID,
		"entity_type", entityType,
		"entity_id", id,
		"code", e.Code,
		"error", err,
	)
}

func (m *Manager) batchSize(ctx context.Context) int {
	n := m.cfg.BatchSize
	if m.deps.Settings != nil {
		n = m.deps.Settings.BatchSize(ctx)
	}
	return max(1, n)
}

func (m *Manager) load(ctx context.Context) (*models.JobState, error) {
	st, err := m.deps.Store.GetJobState(ctx)
	if err != nil {
		return nil, apperr.Persistence("loading job state", err)
	}
	return st, nil
}

func (m *Manager) save(ctx context.Context, st *models.JobState) error {
	err := m.deps.Store.SaveJobState(ctx, st)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrVersionConflict):
		return apperr.Conflict(apperr.CodeConflict, "job state changed concurrently")
	}
	return apperr.Persistence("saving job state", err)
}

// next returns the entity at the front of st's queues.
func next(st *models.JobState) (models.AnalysisType, int64, bool) {
	if st.ProductCursor < len(st.ProductIDs) {
		return models.AnalysisTypeProduct, st.ProductIDs[st.ProductCursor], true
	}
	if st.CustomerCursor < len(st.CustomerIDs) {
		return models.AnalysisTypeCustomer, st.CustomerIDs[st.CustomerCursor], true
	}
	return "", 0, false
}

func advance(st *models.JobState, entityType models.AnalysisType) {
	if entityType == models.AnalysisTypeCustomer {
		st.CustomerCursor++
		st.CustomersAnalyzed = st.CustomerCursor
		return
	}
	st.ProductCursor++
	st.ProductsAnalyzed = st.ProductCursor
}

func done(st *models.JobState) bool {
	return st.ProductCursor >= len(st.ProductIDs) && st.CustomerCursor >= len(st.CustomerIDs)
}

func checkCursors(st *models.JobState) error {
	switch {
	case st.ProductCursor < 0 || st.ProductCursor > len(st.ProductIDs):
		return apperr.Validation(fmt.Sprintf("job state is corrupt: product cursor %d outside queue of %d", st.ProductCursor, len(st.ProductIDs)))
	case st.CustomerCursor < 0 || st.CustomerCursor > len(st.CustomerIDs):
		return apperr.Validation(fmt.Sprintf("job state is corrupt: customer cursor %d outside queue of %d", st.CustomerCursor, len(st.CustomerIDs)))
	case st.ProductsTotal != len(st.ProductIDs) || st.CustomersTotal != len(st.CustomerIDs):
		return apperr.Validation("job state is corrupt: totals do not match queued entities")
	}
	return nil
}

// copyProgress moves the batch's work fields from src onto dst.
func copyProgress(dst, src *models.JobState) {
	dst.ProductCursor = src.ProductCursor
	dst.CustomerCursor = src.CustomerCursor
	dst.ProductsAnalyzed = src.ProductsAnalyzed
	dst.CustomersAnalyzed = src.CustomersAnalyzed
	dst.ActionsCreated = src.ActionsCreated
	dst.CurrentItem = src.CurrentItem
	dst.Errors = src.Errors
	dst.LastError = src.LastError
}

func appendRing(ring []models.JobError, e models.JobError, size int) []models.JobError {
	if size <= 0 {
		size = 20
	}
	ring = append(ring, e)
	if len(ring) > size {
		ring = append([]models.JobError(nil), ring[len(ring)-size:]...)
	}
	return ring
}

func capIDs(ids []int64, n int) []int64 {
	if ids == nil {
		return []int64{}
	}
	if n >= 0 && len(ids) > n {
		return ids[:n]
	}
	return ids
}

func nextUTCMidnight(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
}
