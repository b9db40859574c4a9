package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shopmind/internal/analysis"
	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/config"
	"github.com/kiranshivaraju/shopmind/internal/store"
	"github.com/kiranshivaraju/shopmind/internal/subscription"
	"github.com/kiranshivaraju/shopmind/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	products  []int64
	customers []int64
	err       error
}

func (f *fakeSource) ListProductIDs(_ context.Context, limit int) ([]int64, error) {
	return limited(f.products, limit), f.err
}

func (f *fakeSource) ListCustomerIDs(_ context.Context, limit int) ([]int64, error) {
	return limited(f.customers, limit), f.err
}

func (f *fakeSource) GetProduct(context.Context, int64) (*models.Product, error) {
	return nil, errors.New("not used")
}

func (f *fakeSource) GetCustomer(context.Context, int64) (*models.Customer, error) {
	return nil, errors.New("not used")
}

func (f *fakeSource) Ready(context.Context) error { return nil }

func limited(ids []int64, limit int) []int64 {
	if limit > 0 && len(ids) > limit {
		return append([]int64(nil), ids[:limit]...)
	}
	return append([]int64(nil), ids...)
}

type fakeAnalyzer struct {
	mu          sync.Mutex
	kind        models.AnalysisType
	calls       []int64
	errs        map[int64]error
	parseErrs   map[int64]bool
	suggestions []models.Suggestion
	hook        func(id int64)
}

func (f *fakeAnalyzer) AnalyzeEntity(_ context.Context, id int64) (*analysis.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	hook := f.hook
	err := f.errs[id]
	parseErr := f.parseErrs[id]
	f.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	if err != nil {
		return nil, err
	}
	rec := &models.AnalysisRecord{
		ID:            uuid.New(),
		AnalysisType:  f.kind,
		EntityID:      id,
		Status:        models.AnalysisStatusCompleted,
		PriorityScore: 70,
		Suggestions:   f.suggestions,
	}
	if parseErr {
		rec.Status = models.AnalysisStatusFailed
		return &analysis.Outcome{Record: rec, Suggestions: []models.Suggestion{}, ParseError: apperr.Parse("no JSON object in reply", nil)}, nil
	}
	return &analysis.Outcome{Record: rec, Suggestions: f.suggestions}, nil
}

func (f *fakeAnalyzer) called() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.calls...)
}

type fakeActions struct {
	mu      sync.Mutex
	created int
	// limit makes creation fail with a rate limit error after that many.
	limit int
}

func (f *fakeActions) CreateFromSuggestion(_ context.Context, a *models.AnalysisRecord, sg models.Suggestion) (*models.ActionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sg.Type == "bogus" {
		return nil, apperr.Validation(`unknown action type "bogus"`)
	}
	if f.limit > 0 && f.created >= f.limit {
		return nil, apperr.RateLimited("actions per day", time.Now().Add(time.Hour))
	}
	f.created++
	return &models.ActionRecord{ID: uuid.New(), AnalysisID: &a.ID}, nil
}

type fixture struct {
	m         *Manager
	store     *store.MemoryStore
	source    *fakeSource
	products  *fakeAnalyzer
	customers *fakeAnalyzer
	actions   *fakeActions
	clock     time.Time
}

func newFixture(t *testing.T, products, customers int) *fixture {
	t.Helper()
	f := &fixture{
		store:     store.NewMemoryStore(models.TierEnterprise),
		source:    &fakeSource{products: ids(100, products), customers: ids(200, customers)},
		products:  &fakeAnalyzer{kind: models.AnalysisTypeProduct},
		customers: &fakeAnalyzer{kind: models.AnalysisTypeCustomer},
		actions:   &fakeActions{},
		clock:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.m = NewManager(Deps{
		Store:     f.store,
		Source:    f.source,
		Products:  f.products,
		Customers: f.customers,
		Actions:   f.actions,
	}, config.JobConfig{
		BatchSize:    3,
		MaxProducts:  200,
		MaxCustomers: 200,
		StaleAfter:   10 * time.Minute,
		LeaseTTL:     5 * time.Minute,
		MaxErrors:    20,
	})
	f.m.now = func() time.Time { return f.clock }
	return f
}

// ids returns n sequential ids starting at first.
func ids(first int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = first + int64(i)
	}
	return out
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func TestJob_SevenProductsInThreeBatches(t *testing.T) {
	f := newFixture(t, 7, 0)
	ctx := context.Background()

	p, err := f.m.StartJob(ctx, models.JobTypeProducts)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, p.Status)
	assert.Equal(t, 7, p.ProductsTotal)
	assert.Zero(t, p.Percentage)
	require.NotNil(t, p.JobID)

	var progression []int
	calls := 0
	for p.Status == models.JobStatusRunning {
		require.Less(t, calls, 10, "job did not finish")
		f.advance(time.Second)
		p, err = f.m.ProcessNextBatch(ctx)
		require.NoError(t, err)
		calls++
		assert.LessOrEqual(t, p.ProductsAnalyzed, p.ProductsTotal)
		assert.LessOrEqual(t, p.CustomersAnalyzed, p.CustomersTotal)
		progression = append(progression, p.ProductsAnalyzed)
	}

	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{3, 6, 7}, progression)
	assert.Equal(t, models.JobStatusCompleted, p.Status)
	assert.Equal(t, 100, p.Percentage)
	assert.Empty(t, p.CurrentItem)
	assert.NotNil(t, p.CompletedAt)
	assert.Equal(t, ids(100, 7), f.products.called())
	assert.Empty(t, f.customers.called())

	// Further batches do nothing.
	again, err := f.m.ProcessNextBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, p, again)
	assert.Len(t, f.products.called(), 7)
}

func TestJob_ProgressIsIdempotent(t *testing.T) {
	f := newFixture(t, 7, 0)
	ctx := context.Background()

	_, err := f.m.StartJob(ctx, models.JobTypeProducts)
	require.NoError(t, err)
	_, err = f.m.ProcessNextBatch(ctx)
	require.NoError(t, err)

	first, err := f.m.GetJobProgress(ctx)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		f.advance(time.Minute)
		p, err := f.m.GetJobProgress(ctx)
		require.NoError(t, err)
		assert.Equal(t, first, p)
	}
	assert.Equal(t, 42, first.Percentage)
}

func TestJob_SecondStartConflictsAndKeepsCursor(t *testing.T) {
	f := newFixture(t, 7, 0)
	ctx := context.Background()

	_, err := f.m.StartJob(ctx, models.JobTypeProducts)
	require.NoError(t, err)
	before, err := f.m.ProcessNextBatch(ctx)
	require.NoError(t, err)

	_, err = f.m.StartJob(ctx, models.JobTypeAll)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, apperr.CodeJobRunning, apperr.CodeOf(err))

	after, err := f.m.GetJobProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	st, err := f.store.GetJobState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.ProductCursor)
}

func TestJob_FinishedJobMustBeAcknowledged(t *testing.T) {
	f := newFixture(t, 2, 0)
	ctx := context.Background()

	_, err := f.m.StartJob(ctx, models.JobTypeProducts)
	require.NoError(t, err)
	p, err := f.m.ProcessNextBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, p.Status)

	_, err = f.m.StartJob(ctx, models.JobTypeProducts)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	p, err = f.m.AcknowledgeCompletion(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusIdle, p.Status)
	assert.Nil(t, p.JobID)

	p, err = f.m.StartJob(ctx, models.JobTypeProducts)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, p.Status)

	_, err = f.m.AcknowledgeCompletion(ctx)
	assert.Equal(t, apperr.CodeInvalidTransition, apperr.CodeOf(err))
}

func TestJob_StartValidation(t *testing.T) {
	f := newFixture(t, 2, 0)

	_, err := f.m.StartJob(context.Background(), "orders")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	f.source.err = apperr.Transport("catalog unreachable", errors.New("connection refused"))
	_, err = f.m.StartJob(context.Background(), models.JobTypeProducts)
	assert.ErrorIs(t, err, apperr.ErrTransport)

	p, err := f.m.GetJobProgress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusIdle, p.Status)
}

func TestJob_AllContinuesIntoCustomersWithinBatch(t *testing.T) {
	f := newFixture(t, 2, 3)
	ctx := context.Background()

	_, err := f.m.StartJob(ctx, models.JobTypeAll)
	require.NoError(t, err)

	p, err := f.m.ProcessNextBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, p.ProductsAnalyzed)
	assert.Equal(t, 1, p.CustomersAnalyzed)
	assert.Equal(t, "customer 200", p.CurrentItem)
	assert.Equal(t, 60, p.Percentage)

	p, err = f.m.ProcessNextBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, p.Status)
	assert.Equal(t, 3, p.CustomersAnalyzed)
	assert.Equal(t, ids(200, 3), f.customers.called())
}

func TestJob_EntityFailuresDoNotStopBatch(t *testing.T) {
	f := newFixture(t, 5, 0)
	ctx := context.Background()
	f.m.cfg.BatchSize = 5
	f.m.cfg.MaxErrors = 2
	f.products.errs = map[int64]error{
		100: apperr.Timeout("llm call", 30*time.Second),
		101: apperr.CircuitOpen("llm:ollama", f.clock.Add(time.Minute)),
		103: apperr.NotFound("product", 103),
	}
	f.products.parseErrs = map[int64]bool{104: true}

	_, err := f.m.StartJob(ctx, models.JobTypeProducts)
	require.NoError(t, err)
	p, err := f.m.ProcessNextBatch(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusCompleted, p.Status)
	assert.Equal(t, 5, p.ProductsAnalyzed)

	// The ring keeps the most recent errors only.
	require.Len(t, p.Errors, 2)
	assert.Equal(t, int64(103), p.Errors[0].EntityID)
	assert.Equal(t, apperr.CodeNotFound, p.Errors[0].Code)
	assert.Equal(t, "product 103 not found", p.Errors[0].Message)
	assert.Equal(t, int64(104), p.Errors[1].EntityID)
	assert.Equal(t, apperr.CodeParse, p.Errors[1].Code)
	assert.Equal(t, "product", p.Errors[1].EntityType)
	assert.Equal(t, p.Errors[1].Message, p.LastError)
}

func TestJob_PersistenceFailureFailsJob(t *testing.T) {
	f := newFixture(t, 5, 0)
	ctx := context.Background()
	f.products.errs = map[int64]error{
		101: apperr.Persistence("saving analysis", errors.New("pq: relation \"analyses\" does not exist")),
	}

	_, err := f.m.StartJob(ctx, models.JobTypeProducts)
	require.NoError(t, err)
	p, err := f.m.ProcessNextBatch(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrPersistence)

	assert.Equal(t, models.JobStatusFailed, p.Status)
	assert.Equal(t, "failed to save results", p.LastError)
	assert.Equal(t, 1, p.ProductsAnalyzed)
	assert.NotNil(t, p.CompletedAt)

	st, err := f.store.GetJobState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ProductCursor)
	assert.Empty(t, st.LeaseToken)
}

func TestJob_CreatesActionsUntilDailyLimit(t *testing.T) {
	f := newFixture(t, 3, 0)
	ctx := context.Background()
	f.products.suggestions = []models.Suggestion{
		{Type: "create_discount"},
		{Type: "bogus"},
		{Type: "send_email"},
	}
	f.actions.limit = 3

	_, err := f.m.StartJob(ctx, models.JobTypeProducts)
	require.NoError(t, err)
	p, err := f.m.ProcessNextBatch(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, p.ActionsCreated)
	assert.Equal(t, 3, p.ProductsAnalyzed)
	assert.Equal(t, models.JobStatusCompleted, p.Status)
	assert.Empty(t, p.Errors)
}

func TestJob_TierCapsQueuedEntities(t *testing.T) {
	f := newFixture(t, 8, 8)
	ctx := context.Background()
	st := store.NewMemoryStore(models.TierFree)
	f.m.deps.Store = st
	f.m.deps.Meter = subscription.NewMeter(st).WithClock(func() time.Time { return f.clock })

	for i := 0; i < 4; i++ {
		_, err := st.IncrementUsage(ctx, models.UsageAnalyses, models.UsageDate(f.clock))
		require.NoError(t, err)
	}

	p, err := f.m.StartJob(ctx, models.JobTypeAll)
	require.NoError(t, err)
	// Free tier: 10 analyses a day, 4 used.
	assert.Equal(t, 6, p.ProductsTotal)
	assert.Equal(t, 0, p.CustomersTotal)

	f.m.cfg.BatchSize = 10
	_, err = f.m.ProcessNextBatch(ctx)
	require.NoError(t, err)
	usage, err := st.GetUsage(ctx, models.UsageDate(f.clock))
	require.NoError(t, err)
	assert.Equal(t, 10, usage[models.UsageAnalyses])

	_, err = f.m.AcknowledgeCompletion(ctx)
	require.NoError(t, err)
	_, err = f.m.StartJob(ctx, models.JobTypeAll)
	assert.ErrorIs(t, err, apperr.ErrRateLimit)
}

func TestJob_Cancel(t *testing.T) {
	f := newFixture(t, 7, 0)
	ctx := context.Background()

	_, err := f.m.CancelJob(ctx)
	assert.Equal(t, apperr.CodeInvalidTransition, apperr.CodeOf(err))

	_, err = f.m.StartJob(ctx, models.JobTypeProducts)
	require.NoError(t, err)
	_, err = f.m.ProcessNextBatch(ctx)
	require.NoError(t, err)

	p, err := f.m.CancelJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelling, p.Status)
	assert.True(t, p.IsCancelling)

	p, err = f.m.CancelJob(ctx)
	require.NoError(t, err)
	assert.True(t, p.IsCancelling)

	p, err = f.m.ProcessNextBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, p.Status)
	assert.Equal(t, 3, p.ProductsAnalyzed)
	assert.Len(t, f.products.called(), 3)

	p, err = f.m.AcknowledgeCompletion(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusIdle, p.Status)
}

func TestJob_CancelDuringBatchKeepsProgress(t *testing.T) {
	f := newFixture(t, 7, 0)
	ctx := context.Background()

	_, err := f.m.StartJob(ctx, models.JobTypeProducts)
	require.NoError(t, err)

	f.products.hook = func(id int64) {
		if id == 101 {
			_, err := f.m.CancelJob(ctx)
			assert.NoError(t, err)
		}
	}
	p, err := f.m.ProcessNextBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelling, p.Status)
	// The batch stops at the checkpoint after the entity in flight.
	assert.Equal(t, 2, p.ProductsAnalyzed)
	assert.Equal(t, []int64{100, 101}, f.products.called())

	st, err := f.store.GetJobState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.ProductCursor)
	assert.Empty(t, st.LeaseToken)
	assert.Nil(t, st.LeaseUntil)

	p, err = f.m.ProcessNextBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, p.Status)
}

func TestJob_UnavailableProviderPausesWithoutSkipping(t *testing.T) {
	for name, cause := range map[string]error{
		"circuit open": apperr.CircuitOpen("llm", time.Now().Add(time.Minute)),
		"rate limited": apperr.RateLimited("llm ollama", time.Now().Add(time.Minute)),
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, 6, 0)
			ctx := context.Background()
			f.products.errs = map[int64]error{100: cause, 101: cause}

			_, err := f.m.StartJob(ctx, models.JobTypeProducts)
			require.NoError(t, err)

			for i := 0; i < 2; i++ {
				p, err := f.m.ProcessNextBatch(ctx)
				require.NoError(t, err)
				assert.Equal(t, models.JobStatusRunning, p.Status)
				assert.Zero(t, p.ProductsAnalyzed)
			}
			assert.Equal(t, []int64{100, 100}, f.products.called())

			st, err := f.store.GetJobState(ctx)
			require.NoError(t, err)
			assert.Zero(t, st.ProductCursor)
			assert.Empty(t, st.Errors)
			assert.Empty(t, st.LastError)
			assert.Nil(t, st.LeaseUntil)

			// The provider recovers and the job picks up where it paused.
			f.products.mu.Lock()
			f.products.errs = nil
			f.products.mu.Unlock()
			p, err := f.m.ProcessNextBatch(ctx)
			require.NoError(t, err)
			p, err = f.m.ProcessNextBatch(ctx)
			require.NoError(t, err)
			assert.Equal(t, models.JobStatusCompleted, p.Status)
			assert.Equal(t, 6, p.ProductsAnalyzed)
			assert.Empty(t, p.Errors)
			assert.Equal(t, []int64{100, 100, 100, 101, 102, 103, 104, 105}, f.products.called())
		})
	}
}

func TestJob_SlowBatchRenewsLease(t *testing.T) {
	f := newFixture(t, 9, 0)
	ctx := context.Background()

	_, err := f.m.StartJob(ctx, models.JobTypeProducts)
	require.NoError(t, err)

	// A second process sharing the store, with its own analyzer.
	other := &fakeAnalyzer{kind: models.AnalysisTypeProduct}
	m2 := NewManager(Deps{
		Store:     f.store,
		Source:    f.source,
		Products:  other,
		Customers: f.customers,
		Actions:   f.actions,
	}, f.m.cfg)
	m2.now = func() time.Time { return f.clock }

	// Each LLM call takes two minutes; three of them outlast the initial
	// five minute lease.
	f.products.hook = func(id int64) {
		f.advance(2 * time.Minute)
		if id != 102 {
			return
		}
		p, err := m2.ProcessNextBatch(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 2, p.ProductsAnalyzed)

		_, resumed, err := m2.ResumeStaleJob(ctx)
		assert.NoError(t, err)
		assert.False(t, resumed)
	}

	p, err := f.m.ProcessNextBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, p.ProductsAnalyzed)
	assert.Equal(t, []int64{100, 101, 102}, f.products.called())
	assert.Empty(t, other.called(), "second process analyzed an entity under a live lease")

	st, err := f.store.GetJobState(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.LeaseToken)
	assert.Equal(t, f.clock, st.UpdatedAt)
}

// crashMidJob leaves the job as a process that died mid-batch would: cursor
// at k with an unexpired lease.
func crashMidJob(t *testing.T, f *fixture, k int) {
	t.Helper()
	ctx := context.Background()
	st, err := f.store.GetJobState(ctx)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusRunning, st.Status)

	leaseUntil := f.clock.Add(5 * time.Minute)
	st.ProductCursor = k
	st.ProductsAnalyzed = k
	st.LeaseToken = "dead-process"
	st.LeaseUntil = &leaseUntil
	st.UpdatedAt = f.clock
	require.NoError(t, f.store.SaveJobState(ctx, st))
}

func TestJob_ResumeStaleContinuesFromCursor(t *testing.T) {
	f := newFixture(t, 7, 0)
	ctx := context.Background()

	_, err := f.m.StartJob(ctx, models.JobTypeProducts)
	require.NoError(t, err)
	crashMidJob(t, f, 4)

	// The dead process still holds the lease.
	p, err := f.m.ProcessNextBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, p.ProductsAnalyzed)
	assert.Empty(t, f.products.called())

	f.advance(time.Minute)
	_, resumed, err := f.m.ResumeStaleJob(ctx)
	require.NoError(t, err)
	assert.False(t, resumed, "heartbeat is still fresh")

	f.advance(15 * time.Minute)
	p, resumed, err = f.m.ResumeStaleJob(ctx)
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, models.JobStatusRunning, p.Status)
	assert.Equal(t, 4, p.ProductsAnalyzed)

	p, err = f.m.ProcessNextBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, p.Status)
	assert.Equal(t, 7, p.ProductsAnalyzed)
	assert.Equal(t, []int64{104, 105, 106}, f.products.called())
}

func TestJob_ResumeCorruptStateFails(t *testing.T) {
	f := newFixture(t, 3, 0)
	ctx := context.Background()

	_, err := f.m.StartJob(ctx, models.JobTypeProducts)
	require.NoError(t, err)
	crashMidJob(t, f, 9)

	f.advance(time.Hour)
	p, resumed, err := f.m.ResumeStaleJob(ctx)
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, models.JobStatusFailed, p.Status)
	assert.Contains(t, p.LastError, "job state is corrupt")
	assert.Equal(t, 9, p.ProductsAnalyzed, "progress is kept for inspection")
	assert.Empty(t, f.products.called())
}

func TestJob_ResumeFinalizesStaleCancel(t *testing.T) {
	f := newFixture(t, 3, 0)
	ctx := context.Background()

	_, err := f.m.StartJob(ctx, models.JobTypeProducts)
	require.NoError(t, err)
	_, err = f.m.CancelJob(ctx)
	require.NoError(t, err)

	f.advance(time.Hour)
	p, resumed, err := f.m.ResumeStaleJob(ctx)
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, models.JobStatusCancelled, p.Status)
}

func TestJob_Reset(t *testing.T) {
	f := newFixture(t, 7, 0)
	ctx := context.Background()

	_, err := f.m.StartJob(ctx, models.JobTypeProducts)
	require.NoError(t, err)
	_, err = f.m.ProcessNextBatch(ctx)
	require.NoError(t, err)

	p, err := f.m.ResetJobState(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusIdle, p.Status)
	assert.Zero(t, p.ProductsTotal)

	_, err = f.m.StartJob(ctx, models.JobTypeProducts)
	require.NoError(t, err)
}

func TestJob_ConcurrentBatchesDoNotOverlap(t *testing.T) {
	f := newFixture(t, 30, 0)
	ctx := context.Background()

	_, err := f.m.StartJob(ctx, models.JobTypeProducts)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.m.ProcessNextBatch(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	called := f.products.called()
	seen := map[int64]bool{}
	for _, id := range called {
		assert.False(t, seen[id], fmt.Sprintf("product %d analyzed twice", id))
		seen[id] = true
	}
	p, err := f.m.GetJobProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(called), p.ProductsAnalyzed)
}
