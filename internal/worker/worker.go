// Package worker drives the analysis job and the action queue on a jittered
// ticker so no client has to poll.
package worker

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/actions"
	"github.com/kiranshivaraju/shopmind/pkg/models"
	"github.com/lthibault/jitterbug/v2"
)

// Jobs is satisfied by *job.Manager.
type Jobs interface {
	GetJobProgress(ctx context.Context) (models.JobProgress, error)
	ProcessNextBatch(ctx context.Context) (models.JobProgress, error)
	ResumeStaleJob(ctx context.Context) (models.JobProgress, bool, error)
}

// Actions is satisfied by *actions.Service.
type Actions interface {
	ExecuteReady(ctx context.Context, limit int) (actions.ExecuteSummary, error)
}

// Tasks is satisfied by *actions.TaskRunner.
type Tasks interface {
	RunDue(ctx context.Context, limit int) (actions.TaskSummary, error)
}

// Analyses prunes old analysis records.
type Analyses interface {
	DeleteAnalysesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Config struct {
	Interval time.Duration
	// RetentionDays of zero disables cleanup.
	RetentionDays int
	// SweepLimit bounds actions and tasks run per tick.
	SweepLimit int
}

// Worker runs one tick at a time; ticks never overlap.
type Worker struct {
	jobs     Jobs
	actions  Actions
	tasks    Tasks
	analyses Analyses
	cfg      Config
	now      func() time.Time

	lastCleanup time.Time
}

// New builds a Worker. Any collaborator may be nil to skip its step.
func New(jobs Jobs, acts Actions, tasks Tasks, analyses Analyses, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = 20
	}
	return &Worker{
		jobs:     jobs,
		actions:  acts,
		tasks:    tasks,
		analyses: analyses,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run ticks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := jitterbug.New(w.cfg.Interval, &jitterbug.Norm{Stdev: w.cfg.Interval / 10, Mean: 0})
	defer ticker.Stop()

	slog.Info("worker started", "interval", w.cfg.Interval)
	w.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped")
			return
		case <-ticker.C:
		}
		w.Tick(ctx)
	}
}

// Tick runs every step once. A panic in one tick is logged and the next
// tick runs normally.
func (w *Worker) Tick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("worker tick panicked", "panic", rec, "stack", string(debug.Stack()))
		}
	}()

	w.driveJob(ctx)
	w.runActions(ctx)
	w.runTasks(ctx)
	w.cleanup(ctx)
}

func (w *Worker) driveJob(ctx context.Context) {
	if w.jobs == nil {
		return
	}
	if p, resumed, err := w.jobs.ResumeStaleJob(ctx); err != nil {
		slog.Error("resuming stale job failed", "error", err)
	} else if resumed {
		slog.Warn("stale job taken over", "status", p.Status, "job_id", p.JobID)
	}

	p, err := w.jobs.GetJobProgress(ctx)
	if err != nil {
		slog.Error("reading job progress failed", "error", err)
		return
	}
	if !p.Status.Active() {
		return
	}
	p, err = w.jobs.ProcessNextBatch(ctx)
	if err != nil {
		slog.Error("job batch failed", "job_id", p.JobID, "error", err)
		return
	}
	slog.Debug("job batch done", "job_id", p.JobID, "status", p.Status, "percentage", p.Percentage)
}

func (w *Worker) runActions(ctx context.Context) {
	if w.actions == nil {
		return
	}
	sum, err := w.actions.ExecuteReady(ctx, w.cfg.SweepLimit)
	if err != nil {
		slog.Error("executing ready actions failed", "error", err)
		return
	}
	if sum != (actions.ExecuteSummary{}) {
		slog.Info("ready actions executed", "executed", sum.Executed, "failed", sum.Failed, "skipped", sum.Skipped)
	}
}

func (w *Worker) runTasks(ctx context.Context) {
	if w.tasks == nil {
		return
	}
	sum, err := w.tasks.RunDue(ctx, w.cfg.SweepLimit)
	if err != nil {
		slog.Error("running scheduled tasks failed", "error", err)
		return
	}
	if sum != (actions.TaskSummary{}) {
		slog.Info("scheduled tasks run", "done", sum.Done, "cancelled", sum.Cancelled, "deferred", sum.Deferred)
	}
}

// cleanup prunes analyses older than the retention window at most once a day.
func (w *Worker) cleanup(ctx context.Context) {
	if w.analyses == nil || w.cfg.RetentionDays <= 0 {
		return
	}
	now := w.now().UTC()
	if !w.lastCleanup.IsZero() && now.Sub(w.lastCleanup) < 24*time.Hour {
		return
	}
	cutoff := now.AddDate(0, 0, -w.cfg.RetentionDays)
	n, err := w.analyses.DeleteAnalysesBefore(ctx, cutoff)
	if err != nil {
		slog.Error("analysis retention cleanup failed", "error", err)
		return
	}
	w.lastCleanup = now
	slog.Info("old analyses deleted", "deleted", n, "cutoff", cutoff)
}
