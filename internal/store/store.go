package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateKey = errors.New("duplicate key violation")
	// ErrVersionConflict means the job state changed since it was read.
	ErrVersionConflict = errors.New("job state version conflict")
	// ErrStatusConflict means an action left the expected status concurrently.
	ErrStatusConflict = errors.New("action status changed concurrently")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetSubscription(ctx context.Context) (*models.Subscription, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CreateAnalysis(ctx context.Context, rec *models.AnalysisRecord) error
	GetAnalysis(ctx context.Context, id uuid.UUID) (*models.AnalysisRecord, error)
	ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]*models.AnalysisRecord, int, error)
	DeleteAnalysesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	CreateAction(ctx context.Context, action *models.ActionRecord) error
	GetAction(ctx context.Context, id uuid.UUID) (*models.ActionRecord, error)
	ListActions(ctx context.Context, filter ActionFilter) ([]*models.ActionRecord, int, error)
	// UpdateAction persists action only if its stored status is still from.
	UpdateAction(ctx context.Context, action *models.ActionRecord, from models.ActionStatus) error

	// GetJobState returns the singleton job state; an idle state when none was saved.
	GetJobState(ctx context.Context) (*models.JobState, error)
	// SaveJobState writes st only if the stored version equals st.Version,
	// then increments st.Version.
	SaveJobState(ctx context.Context, st *models.JobState) error

	// IncrementUsage atomically increments-or-creates the counter and returns the new count.
	IncrementUsage(ctx context.Context, usageType models.UsageType, date string) (int, error)
	GetUsage(ctx context.Context, date string) (map[models.UsageType]int, error)

	GetBreakerState(ctx context.Context, name string) (*models.CircuitBreakerState, error)
	SaveBreakerState(ctx context.Context, st *models.CircuitBreakerState) error

	CreateScheduledTask(ctx context.Context, task *models.ScheduledTask) error
	ListDueTasks(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledTask, error)
	SetTaskStatus(ctx context.Context, id uuid.UUID, status models.TaskStatus) error

	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	AllSettings(ctx context.Context) (map[string]string, error)
}

type AnalysisFilter struct {
	AnalysisType models.AnalysisType
	Status       models.AnalysisStatus
	EntityID     int64
	Page         int
	Limit        int
}

type ActionFilter struct {
	Statuses   []models.ActionStatus
	ActionType models.ActionType
	// Runnable selects approved actions plus pending ones that skip approval.
	Runnable bool
	Page     int
	Limit    int
}

// normalizePage clamps pagination to 1-based pages of 20 by default, 100 max.
func normalizePage(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	return page, limit
}
