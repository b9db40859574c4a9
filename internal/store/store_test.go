package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/shopmind/internal/store"
	"github.com/kiranshivaraju/shopmind/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("shopmind_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, store.RunMigrations(connStr))
	// Second run is a no-op.
	require.NoError(t, store.RunMigrations(connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

// storeContract lists behaviors every Store implementation must share.
var storeContract = map[string]func(t *testing.T, s store.Store){
	"Subscription":          testSubscription,
	"APIKeys":               testAPIKeys,
	"AnalysisRoundtrip":     testAnalysisRoundtrip,
	"AnalysisListAndPrune":  testAnalysisListAndPrune,
	"ActionStatusCAS":       testActionStatusCAS,
	"ActionListRunnable":    testActionListRunnable,
	"JobStateIdleByDefault": testJobStateIdleByDefault,
	"JobStateVersionCAS":    testJobStateVersionCAS,
	"UsageIncrement":        testUsageIncrement,
	"UsageConcurrent":       testUsageConcurrent,
	"BreakerState":          testBreakerState,
	"ScheduledTasks":        testScheduledTasks,
	"Settings":              testSettings,
}

func TestMemoryStore(t *testing.T) {
	for name, fn := range storeContract {
		t.Run(name, func(t *testing.T) {
			fn(t, store.NewMemoryStore(models.TierFree))
		})
	}
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)

	for name, fn := range storeContract {
		t.Run(name, func(t *testing.T) {
			resetTables(t, pool)
			fn(t, store.NewPostgresStore(pool))
		})
	}
}

func resetTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		TRUNCATE actions, analyses, usage_counters, circuit_breakers, scheduled_tasks, settings, api_keys;
		UPDATE job_state SET id = NULL, status = 'idle', type = '', product_ids = '{}', customer_ids = '{}',
		  product_cursor = 0, customer_cursor = 0, products_analyzed = 0, products_total = 0,
		  customers_analyzed = 0, customers_total = 0, actions_created = 0, errors = '[]', version = 0;`)
	require.NoError(t, err)
}

func testSubscription(t *testing.T, s store.Store) {
	sub, err := s.GetSubscription(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "default", sub.StoreName)
	assert.Equal(t, models.TierFree, sub.Tier)
}

func testAPIKeys(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "ops-team",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "sm_abcd1",
		Scopes:    []string{"read", "write"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))
	assert.ErrorIs(t, s.CreateAPIKey(ctx, key), store.ErrDuplicateKey)

	keys, err := s.GetAPIKeyByPrefix(ctx, "sm_abcd1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "ops-team", keys[0].Name)
	assert.Equal(t, []string{"read", "write"}, keys[0].Scopes)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))
}

func newAnalysis(entityID int64, createdAt time.Time) *models.AnalysisRecord {
	return &models.AnalysisRecord{
		ID:            uuid.New(),
		AnalysisType:  models.AnalysisTypeProduct,
		EntityID:      entityID,
		EntityType:    "product",
		AnalysisData:  map[string]any{"narrative": "slow mover"},
		Suggestions:   []models.Suggestion{{Type: "create_discount", Priority: "high", Data: map[string]any{"discount_percent": 15.0}}},
		PriorityScore: 80,
		Status:        models.AnalysisStatusCompleted,
		LLMProvider:   "mock",
		LLMModel:      "mock-v1",
		TokensUsed:    120,
		DurationMs:    350,
		CreatedAt:     createdAt.UTC().Truncate(time.Microsecond),
	}
}

func testAnalysisRoundtrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := newAnalysis(101, time.Now())
	require.NoError(t, s.CreateAnalysis(ctx, rec))

	got, err := s.GetAnalysis(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(101), got.EntityID)
	assert.Equal(t, 80, got.PriorityScore)
	assert.Equal(t, "slow mover", got.AnalysisData["narrative"])
	require.Len(t, got.Suggestions, 1)
	assert.Equal(t, "create_discount", got.Suggestions[0].Type)

	_, err = s.GetAnalysis(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testAnalysisListAndPrune(t *testing.T, s store.Store) {
	ctx := context.Background()
	old := newAnalysis(1, time.Now().Add(-100*24*time.Hour))
	recent := newAnalysis(2, time.Now())
	noSuggestions := newAnalysis(3, time.Now())
	noSuggestions.Suggestions = nil
	for _, r := range []*models.AnalysisRecord{old, recent, noSuggestions} {
		require.NoError(t, s.CreateAnalysis(ctx, r))
	}

	list, total, err := s.ListAnalyses(ctx, store.AnalysisFilter{EntityID: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.NotNil(t, list[0].Suggestions, "suggestions must never be null")

	n, err := s.DeleteAnalysesBefore(ctx, time.Now().Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, total, err = s.ListAnalyses(ctx, store.AnalysisFilter{AnalysisType: models.AnalysisTypeProduct})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func newAction(status models.ActionStatus, requiresApproval bool, score int) *models.ActionRecord {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.ActionRecord{
		ID:               uuid.New(),
		ActionType:       models.ActionCreateDiscount,
		ActionData:       map[string]any{"discount_percent": 15.0},
		Status:           status,
		PriorityScore:    score,
		RequiresApproval: requiresApproval,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func testActionStatusCAS(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := newAction(models.ActionStatusPending, true, 60)
	require.NoError(t, s.CreateAction(ctx, a))

	approver := "ops-team"
	a.Status = models.ActionStatusApproved
	a.ApprovedBy = &approver
	require.NoError(t, s.UpdateAction(ctx, a, models.ActionStatusPending))

	// Stale writer still thinks it is pending.
	stale := *a
	stale.Status = models.ActionStatusCancelled
	err := s.UpdateAction(ctx, &stale, models.ActionStatusPending)
	assert.ErrorIs(t, err, store.ErrStatusConflict)

	got, err := s.GetAction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionStatusApproved, got.Status)
	require.NotNil(t, got.ApprovedBy)
	assert.Equal(t, "ops-team", *got.ApprovedBy)

	missing := newAction(models.ActionStatusPending, true, 1)
	assert.ErrorIs(t, s.UpdateAction(ctx, missing, models.ActionStatusPending), store.ErrNotFound)
}

func testActionListRunnable(t *testing.T, s store.Store) {
	ctx := context.Background()
	gated := newAction(models.ActionStatusPending, true, 90)
	auto := newAction(models.ActionStatusPending, false, 40)
	approved := newAction(models.ActionStatusApproved, true, 70)
	done := newAction(models.ActionStatusCompleted, false, 99)
	for _, a := range []*models.ActionRecord{gated, auto, approved, done} {
		require.NoError(t, s.CreateAction(ctx, a))
	}

	list, total, err := s.ListActions(ctx, store.ActionFilter{Runnable: true})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, list, 2)
	assert.Equal(t, approved.ID, list[0].ID, "ordered by priority")
	assert.Equal(t, auto.ID, list[1].ID)

	_, total, err = s.ListActions(ctx, store.ActionFilter{
		Statuses: []models.ActionStatus{models.ActionStatusPending, models.ActionStatusCompleted},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func testJobStateIdleByDefault(t *testing.T, s store.Store) {
	st, err := s.GetJobState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusIdle, st.Status)
	assert.Equal(t, int64(0), st.Version)
}

func testJobStateVersionCAS(t *testing.T, s store.Store) {
	ctx := context.Background()
	first, err := s.GetJobState(ctx)
	require.NoError(t, err)
	second, err := s.GetJobState(ctx)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	first.ID = uuid.New()
	first.Status = models.JobStatusRunning
	first.Type = models.JobTypeProducts
	first.ProductIDs = []int64{10, 11, 12}
	first.ProductsTotal = 3
	first.ProductCursor = 1
	first.ProductsAnalyzed = 1
	first.Errors = []models.JobError{{EntityType: "product", EntityID: 10, Code: "PARSE_ERROR", Message: "bad json", At: now}}
	first.StartedAt = &now
	first.UpdatedAt = now
	require.NoError(t, s.SaveJobState(ctx, first))
	assert.Equal(t, int64(1), first.Version)

	second.Status = models.JobStatusRunning
	assert.ErrorIs(t, s.SaveJobState(ctx, second), store.ErrVersionConflict)

	got, err := s.GetJobState(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, []int64{10, 11, 12}, got.ProductIDs)
	assert.Equal(t, 1, got.ProductCursor)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "PARSE_ERROR", got.Errors[0].Code)
	assert.Equal(t, int64(1), got.Version)
}

func testUsageIncrement(t *testing.T, s store.Store) {
	ctx := context.Background()
	today := models.UsageDate(time.Now())
	yesterday := models.UsageDate(time.Now().Add(-24 * time.Hour))

	for i := 1; i <= 3; i++ {
		n, err := s.IncrementUsage(ctx, models.UsageAnalyses, today)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	_, err := s.IncrementUsage(ctx, models.UsageActionsCreated, yesterday)
	require.NoError(t, err)

	usage, err := s.GetUsage(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, 3, usage[models.UsageAnalyses])
	assert.Equal(t, 0, usage[models.UsageActionsCreated])
}

func testUsageConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	today := models.UsageDate(time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementUsage(ctx, models.UsageActionsExecuted, today)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	usage, err := s.GetUsage(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, 20, usage[models.UsageActionsExecuted])
}

func testBreakerState(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.GetBreakerState(ctx, "llm:openai")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	now := time.Now().UTC().Truncate(time.Microsecond)
	retry := now.Add(time.Minute)
	require.NoError(t, s.SaveBreakerState(ctx, &models.CircuitBreakerState{
		Name: "llm:openai", FailureCount: 5, State: models.CircuitOpen,
		OpenedAt: &now, NextRetryAt: &retry, UpdatedAt: now,
	}))
	require.NoError(t, s.SaveBreakerState(ctx, &models.CircuitBreakerState{
		Name: "llm:openai", FailureCount: 0, State: models.CircuitClosed, UpdatedAt: now,
	}))

	got, err := s.GetBreakerState(ctx, "llm:openai")
	require.NoError(t, err)
	assert.Equal(t, models.CircuitClosed, got.State)
	assert.Equal(t, 0, got.FailureCount)
	assert.Nil(t, got.NextRetryAt)
}

func testScheduledTasks(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	due := &models.ScheduledTask{
		ID: uuid.New(), TaskType: models.TaskFollowup, Payload: map[string]any{"customer_id": 5.0},
		RunAt: now.Add(-time.Minute), Status: models.TaskStatusScheduled, CreatedAt: now,
	}
	later := &models.ScheduledTask{
		ID: uuid.New(), TaskType: models.TaskPriceChange, Payload: map[string]any{"product_id": 9.0},
		RunAt: now.Add(time.Hour), Status: models.TaskStatusScheduled, CreatedAt: now,
	}
	require.NoError(t, s.CreateScheduledTask(ctx, due))
	require.NoError(t, s.CreateScheduledTask(ctx, later))

	tasks, err := s.ListDueTasks(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, due.ID, tasks[0].ID)

	require.NoError(t, s.SetTaskStatus(ctx, due.ID, models.TaskStatusDone))
	tasks, err = s.ListDueTasks(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	assert.ErrorIs(t, s.SetTaskStatus(ctx, uuid.New(), models.TaskStatusDone), store.ErrNotFound)
}

func testSettings(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, ok, err := s.GetSetting(ctx, "ai_debug")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetSetting(ctx, "ai_debug", "true"))
	require.NoError(t, s.SetSetting(ctx, "ai_debug", "false"))

	v, ok, err := s.GetSetting(ctx, "ai_debug")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "false", v)

	all, err := s.AllSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ai_debug": "false"}, all)
}
