package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Subscription ---

func (s *PostgresStore) GetSubscription(ctx context.Context) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.pool.QueryRow(ctx,
		`SELECT id, store_name, tier, created_at, updated_at FROM subscriptions ORDER BY created_at LIMIT 1`,
	).Scan(&sub.ID, &sub.StoreName, &sub.Tier, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Analyses ---

const analysisColumns = `id, analysis_type, entity_id, entity_type, analysis_data, suggestions,
	priority_score, status, llm_provider, llm_model, tokens_used, duration_ms, created_at`

func scanAnalysis(row pgx.Row) (*models.AnalysisRecord, error) {
	var r models.AnalysisRecord
	err := row.Scan(&r.ID, &r.AnalysisType, &r.EntityID, &r.EntityType, &r.AnalysisData, &r.Suggestions,
		&r.PriorityScore, &r.Status, &r.LLMProvider, &r.LLMModel, &r.TokensUsed, &r.DurationMs, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if r.Suggestions == nil {
		r.Suggestions = []models.Suggestion{}
	}
	return &r, nil
}

func (s *PostgresStore) CreateAnalysis(ctx context.Context, rec *models.AnalysisRecord) error {
	suggestions := rec.Suggestions
	if suggestions == nil {
		suggestions = []models.Suggestion{}
	}
	data := rec.AnalysisData
	if data == nil {
		data = map[string]any{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO analyses (`+analysisColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.AnalysisType, rec.EntityID, rec.EntityType, data, suggestions,
		rec.PriorityScore, rec.Status, rec.LLMProvider, rec.LLMModel, rec.TokensUsed, rec.DurationMs, rec.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create analysis: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id uuid.UUID) (*models.AnalysisRecord, error) {
	rec, err := scanAnalysis(s.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]*models.AnalysisRecord, int, error) {
	// Build WHERE clause dynamically
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if filter.AnalysisType != "" {
		conditions = append(conditions, fmt.Sprintf("analysis_type = $%d", argIdx))
		args = append(args, filter.AnalysisType)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.EntityID != 0 {
		conditions = append(conditions, fmt.Sprintf("entity_id = $%d", argIdx))
		args = append(args, filter.EntityID)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM analyses WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count analyses: %w", err)
	}

	page, limit := normalizePage(filter.Page, filter.Limit)
	dataQuery := fmt.Sprintf(
		`SELECT %s FROM analyses WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		analysisColumns, where, argIdx, argIdx+1)
	args = append(args, limit, (page-1)*limit)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	out := []*models.AnalysisRecord{}
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan analysis: %w", err)
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) DeleteAnalysesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM analyses WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete analyses: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Actions ---

const actionColumns = `id, analysis_id, action_type, action_data, status, priority_score, requires_approval,
	approved_by, approved_at, executed_at, result, error_message, retry_count, created_at, updated_at`

func scanAction(row pgx.Row) (*models.ActionRecord, error) {
	var a models.ActionRecord
	err := row.Scan(&a.ID, &a.AnalysisID, &a.ActionType, &a.ActionData, &a.Status, &a.PriorityScore,
		&a.RequiresApproval, &a.ApprovedBy, &a.ApprovedAt, &a.ExecutedAt, &a.Result, &a.ErrorMessage,
		&a.RetryCount, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) CreateAction(ctx context.Context, a *models.ActionRecord) error {
	data := a.ActionData
	if data == nil {
		data = map[string]any{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO actions (`+actionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		a.ID, a.AnalysisID, a.ActionType, data, a.Status, a.PriorityScore, a.RequiresApproval,
		a.ApprovedBy, a.ApprovedAt, a.ExecutedAt, a.Result, a.ErrorMessage, a.RetryCount, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create action: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAction(ctx context.Context, id uuid.UUID) (*models.ActionRecord, error) {
	a, err := scanAction(s.pool.QueryRow(ctx, `SELECT `+actionColumns+` FROM actions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get action: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListActions(ctx context.Context, filter ActionFilter) ([]*models.ActionRecord, int, error) {
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", argIdx))
		args = append(args, statuses)
		argIdx++
	}
	if filter.ActionType != "" {
		conditions = append(conditions, fmt.Sprintf("action_type = $%d", argIdx))
		args = append(args, filter.ActionType)
		argIdx++
	}
	if filter.Runnable {
		conditions = append(conditions, "(status = 'approved' OR (status = 'pending' AND NOT requires_approval))")
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM actions WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count actions: %w", err)
	}

	page, limit := normalizePage(filter.Page, filter.Limit)
	dataQuery := fmt.Sprintf(
		`SELECT %s FROM actions WHERE %s ORDER BY priority_score DESC, created_at ASC LIMIT $%d OFFSET $%d`,
		actionColumns, where, argIdx, argIdx+1)
	args = append(args, limit, (page-1)*limit)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	out := []*models.ActionRecord{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) UpdateAction(ctx context.Context, a *models.ActionRecord, from models.ActionStatus) error {
	a.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE actions SET status = $2, action_data = $3, approved_by = $4, approved_at = $5, executed_at = $6,
		   result = $7, error_message = $8, retry_count = $9, updated_at = $10
		 WHERE id = $1 AND status = $11`,
		a.ID, a.Status, a.ActionData, a.ApprovedBy, a.ApprovedAt, a.ExecutedAt,
		a.Result, a.ErrorMessage, a.RetryCount, a.UpdatedAt, from)
	if err != nil {
		return fmt.Errorf("update action: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM actions WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check action: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStatusConflict
	}
	return nil
}

// --- Job State ---

func (s *PostgresStore) GetJobState(ctx context.Context) (*models.JobState, error) {
	var (
		st models.JobState
		id *uuid.UUID
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, type, product_ids, customer_ids, product_cursor, customer_cursor,
		   products_analyzed, products_total, customers_analyzed, customers_total, actions_created,
		   current_item, errors, last_error, lease_token, lease_until, started_at, completed_at, updated_at, version
		 FROM job_state WHERE singleton`,
	).Scan(&id, &st.Status, &st.Type, &st.ProductIDs, &st.CustomerIDs, &st.ProductCursor, &st.CustomerCursor,
		&st.ProductsAnalyzed, &st.ProductsTotal, &st.CustomersAnalyzed, &st.CustomersTotal, &st.ActionsCreated,
		&st.CurrentItem, &st.Errors, &st.LastError, &st.LeaseToken, &st.LeaseUntil, &st.StartedAt, &st.CompletedAt,
		&st.UpdatedAt, &st.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.IdleJobState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job state: %w", err)
	}
	if id != nil {
		st.ID = *id
	}
	return &st, nil
}

func (s *PostgresStore) SaveJobState(ctx context.Context, st *models.JobState) error {
	var id *uuid.UUID
	if st.ID != uuid.Nil {
		id = &st.ID
	}
	productIDs, customerIDs, jobErrors := st.ProductIDs, st.CustomerIDs, st.Errors
	if productIDs == nil {
		productIDs = []int64{}
	}
	if customerIDs == nil {
		customerIDs = []int64{}
	}
	if jobErrors == nil {
		jobErrors = []models.JobError{}
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE job_state SET id = $1, status = $2, type = $3, product_ids = $4, customer_ids = $5,
		   product_cursor = $6, customer_cursor = $7, products_analyzed = $8, products_total = $9,
		   customers_analyzed = $10, customers_total = $11, actions_created = $12, current_item = $13,
		   errors = $14, last_error = $15, lease_token = $16, lease_until = $17, started_at = $18,
		   completed_at = $19, updated_at = $20, version = version + 1
		 WHERE singleton AND version = $21`,
		id, st.Status, st.Type, productIDs, customerIDs, st.ProductCursor, st.CustomerCursor,
		st.ProductsAnalyzed, st.ProductsTotal, st.CustomersAnalyzed, st.CustomersTotal, st.ActionsCreated,
		st.CurrentItem, jobErrors, st.LastError, st.LeaseToken, st.LeaseUntil, st.StartedAt, st.CompletedAt,
		st.UpdatedAt, st.Version)
	if err != nil {
		return fmt.Errorf("save job state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	st.Version++
	return nil
}

// --- Usage ---

func (s *PostgresStore) IncrementUsage(ctx context.Context, usageType models.UsageType, date string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO usage_counters (usage_type, date, count) VALUES ($1, $2::text::date, 1)
		 ON CONFLICT (usage_type, date) DO UPDATE SET count = usage_counters.count + 1
		 RETURNING count`, usageType, date,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) GetUsage(ctx context.Context, date string) (map[models.UsageType]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT usage_type, count FROM usage_counters WHERE date = $1::text::date`, date)
	if err != nil {
		return nil, fmt.Errorf("get usage: %w", err)
	}
	defer rows.Close()

	usage := map[models.UsageType]int{}
	for rows.Next() {
		var (
			t models.UsageType
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		usage[t] = n
	}
	return usage, rows.Err()
}

// --- Circuit Breakers ---

func (s *PostgresStore) GetBreakerState(ctx context.Context, name string) (*models.CircuitBreakerState, error) {
	var st models.CircuitBreakerState
	err := s.pool.QueryRow(ctx,
		`SELECT name, failure_count, state, opened_at, next_retry_at, updated_at
		 FROM circuit_breakers WHERE name = $1`, name,
	).Scan(&st.Name, &st.FailureCount, &st.State, &st.OpenedAt, &st.NextRetryAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get breaker state: %w", err)
	}
	return &st, nil
}

func (s *PostgresStore) SaveBreakerState(ctx context.Context, st *models.CircuitBreakerState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO circuit_breakers (name, failure_count, state, opened_at, next_retry_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (name) DO UPDATE SET
		   failure_count = EXCLUDED.failure_count,
		   state = EXCLUDED.state,
		   opened_at = EXCLUDED.opened_at,
		   next_retry_at = EXCLUDED.next_retry_at,
		   updated_at = EXCLUDED.updated_at`,
		st.Name, st.FailureCount, st.State, st.OpenedAt, st.NextRetryAt, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save breaker state: %w", err)
	}
	return nil
}

// --- Scheduled Tasks ---

func (s *PostgresStore) CreateScheduledTask(ctx context.Context, task *models.ScheduledTask) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scheduled_tasks (id, task_type, action_id, payload, run_at, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		task.ID, task.TaskType, task.ActionID, task.Payload, task.RunAt, task.Status, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("create scheduled task: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDueTasks(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledTask, error) {
	_, limit = normalizePage(1, limit)
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_type, action_id, payload, run_at, status, created_at FROM scheduled_tasks
		 WHERE status = 'scheduled' AND run_at <= $1 ORDER BY run_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.ScheduledTask
	for rows.Next() {
		var t models.ScheduledTask
		if err := rows.Scan(&t.ID, &t.TaskType, &t.ActionID, &t.Payload, &t.RunAt, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scheduled task: %w", err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) SetTaskStatus(ctx context.Context, id uuid.UUID, status models.TaskStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE scheduled_tasks SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set task status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Settings ---

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting: %w", err)
	}
	return value, true, nil
}

func (s *PostgresStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, key, value)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

func (s *PostgresStore) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Store = (*PostgresStore)(nil)
