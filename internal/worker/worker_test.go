package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/actions"
	"github.com/kiranshivaraju/shopmind/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobs struct {
	mu       sync.Mutex
	status   models.JobStatus
	batches  int
	resumes  int
	panicked bool
}

func (f *fakeJobs) GetJobProgress(context.Context) (models.JobProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.JobProgress{Status: f.status}, nil
}

func (f *fakeJobs) ProcessNextBatch(context.Context) (models.JobProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicked {
		panic("nil pointer dereference")
	}
	f.batches++
	return models.JobProgress{Status: f.status}, nil
}

func (f *fakeJobs) ResumeStaleJob(context.Context) (models.JobProgress, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
	return models.JobProgress{Status: f.status}, false, nil
}

func (f *fakeJobs) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches, f.resumes
}

type fakeActions struct {
	limits []int
	err    error
}

func (f *fakeActions) ExecuteReady(_ context.Context, limit int) (actions.ExecuteSummary, error) {
	f.limits = append(f.limits, limit)
	return actions.ExecuteSummary{Executed: 1}, f.err
}

type fakeTasks struct{ runs int }

func (f *fakeTasks) RunDue(context.Context, int) (actions.TaskSummary, error) {
	f.runs++
	return actions.TaskSummary{}, nil
}

type fakeAnalyses struct {
	cutoffs []time.Time
}

func (f *fakeAnalyses) DeleteAnalysesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return 3, nil
}

func TestTick_DrivesRunningJob(t *testing.T) {
	jobs := &fakeJobs{status: models.JobStatusRunning}
	acts := &fakeActions{}
	tasks := &fakeTasks{}
	w := New(jobs, acts, tasks, nil, Config{SweepLimit: 7})

	w.Tick(context.Background())

	batches, resumes := jobs.counts()
	assert.Equal(t, 1, batches)
	assert.Equal(t, 1, resumes)
	assert.Equal(t, []int{7}, acts.limits)
	assert.Equal(t, 1, tasks.runs)
}

func TestTick_SkipsIdleJob(t *testing.T) {
	for _, status := range []models.JobStatus{models.JobStatusIdle, models.JobStatusCompleted, models.JobStatusFailed} {
		jobs := &fakeJobs{status: status}
		New(jobs, nil, nil, nil, Config{}).Tick(context.Background())
		batches, resumes := jobs.counts()
		assert.Zero(t, batches, status)
		assert.Equal(t, 1, resumes, status)
	}
}

func TestTick_CancellingJobIsFinalized(t *testing.T) {
	jobs := &fakeJobs{status: models.JobStatusCancelling}
	New(jobs, nil, nil, nil, Config{}).Tick(context.Background())
	batches, _ := jobs.counts()
	assert.Equal(t, 1, batches)
}

func TestTick_RecoversPanic(t *testing.T) {
	jobs := &fakeJobs{status: models.JobStatusRunning, panicked: true}
	w := New(jobs, nil, nil, nil, Config{})

	assert.NotPanics(t, func() { w.Tick(context.Background()) })
	jobs.mu.Lock()
	jobs.panicked = false
	jobs.mu.Unlock()
	w.Tick(context.Background())
	batches, _ := jobs.counts()
	assert.Equal(t, 1, batches)
}

func TestTick_ActionErrorDoesNotStopTasks(t *testing.T) {
	tasks := &fakeTasks{}
	w := New(nil, &fakeActions{err: errors.New("connection refused")}, tasks, nil, Config{})
	w.Tick(context.Background())
	assert.Equal(t, 1, tasks.runs)
}

func TestCleanup_RunsOncePerDay(t *testing.T) {
	analyses := &fakeAnalyses{}
	w := New(nil, nil, nil, analyses, Config{RetentionDays: 90})
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	w.Tick(context.Background())
	now = now.Add(time.Hour)
	w.Tick(context.Background())
	require.Len(t, analyses.cutoffs, 1)
	assert.Equal(t, time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC), analyses.cutoffs[0])

	now = now.Add(24 * time.Hour)
	w.Tick(context.Background())
	assert.Len(t, analyses.cutoffs, 2)
}

func TestCleanup_DisabledWithoutRetention(t *testing.T) {
	analyses := &fakeAnalyses{}
	New(nil, nil, nil, analyses, Config{}).Tick(context.Background())
	assert.Empty(t, analyses.cutoffs)
}

func TestRun_StopsOnCancel(t *testing.T) {
	jobs := &fakeJobs{status: models.JobStatusRunning}
	w := New(jobs, nil, nil, nil, Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		batches, _ := jobs.counts()
		return batches >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
