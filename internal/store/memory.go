package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// MemoryStore is an in-process Store used by tests and local development
// without PostgreSQL. It honors the same CAS semantics as PostgresStore.
type MemoryStore struct {
	mu           sync.Mutex
	subscription models.Subscription
	apiKeys      map[uuid.UUID]*models.APIKey
	analyses     map[uuid.UUID]*models.AnalysisRecord
	actions      map[uuid.UUID]*models.ActionRecord
	jobState     *models.JobState
	usage        map[string]int
	breakers     map[string]*models.CircuitBreakerState
	tasks        map[uuid.UUID]*models.ScheduledTask
	settings     map[string]string
}

// NewMemoryStore returns an empty store on the given tier.
func NewMemoryStore(tier models.Tier) *MemoryStore {
	now := time.Now().UTC()
	return &MemoryStore{
		subscription: models.Subscription{
			ID:        uuid.MustParse("00000000-0000-0000-0000-000000000001"),
			StoreName: "default",
			Tier:      tier,
			CreatedAt: now,
			UpdatedAt: now,
		},
		apiKeys:  make(map[uuid.UUID]*models.APIKey),
		analyses: make(map[uuid.UUID]*models.AnalysisRecord),
		actions:  make(map[uuid.UUID]*models.ActionRecord),
		jobState: models.IdleJobState(),
		usage:    make(map[string]int),
		breakers: make(map[string]*models.CircuitBreakerState),
		tasks:    make(map[uuid.UUID]*models.ScheduledTask),
		settings: make(map[string]string),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) GetSubscription(context.Context) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.subscription
	return &sub, nil
}

// SetTier changes the active tier. Test helper.
func (s *MemoryStore) SetTier(tier models.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscription.Tier = tier
}

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []*models.APIKey
	for _, k := range s.apiKeys {
		if k.KeyPrefix == prefix && k.Active() {
			c := *k
			keys = append(keys, &c)
		}
	}
	return keys, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.apiKeys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apiKeys[key.ID]; ok {
		return ErrDuplicateKey
	}
	c := *key
	s.apiKeys[key.ID] = &c
	return nil
}

// --- Analyses ---

func (s *MemoryStore) CreateAnalysis(_ context.Context, rec *models.AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.analyses[rec.ID]; ok {
		return ErrDuplicateKey
	}
	c := *rec
	if c.Suggestions == nil {
		c.Suggestions = []models.Suggestion{}
	}
	c.Suggestions = append([]models.Suggestion(nil), c.Suggestions...)
	c.AnalysisData = cloneMap(rec.AnalysisData)
	s.analyses[rec.ID] = &c
	return nil
}

func (s *MemoryStore) GetAnalysis(_ context.Context, id uuid.UUID) (*models.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.analyses[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (s *MemoryStore) ListAnalyses(_ context.Context, filter AnalysisFilter) ([]*models.AnalysisRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*models.AnalysisRecord
	for _, rec := range s.analyses {
		if filter.AnalysisType != "" && rec.AnalysisType != filter.AnalysisType {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.EntityID != 0 && rec.EntityID != filter.EntityID {
			continue
		}
		c := *rec
		matched = append(matched, &c)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return paginate(matched, filter.Page, filter.Limit), len(matched), nil
}

func (s *MemoryStore) DeleteAnalysesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.analyses {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.analyses, id)
			n++
		}
	}
	return n, nil
}

// --- Actions ---

func (s *MemoryStore) CreateAction(_ context.Context, a *models.ActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[a.ID]; ok {
		return ErrDuplicateKey
	}
	s.actions[a.ID] = cloneAction(a)
	return nil
}

func (s *MemoryStore) GetAction(_ context.Context, id uuid.UUID) (*models.ActionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAction(a), nil
}

func (s *MemoryStore) ListActions(_ context.Context, filter ActionFilter) ([]*models.ActionRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*models.ActionRecord
	for _, a := range s.actions {
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, a.Status) {
			continue
		}
		if filter.ActionType != "" && a.ActionType != filter.ActionType {
			continue
		}
		if filter.Runnable && !(a.Status == models.ActionStatusApproved ||
			(a.Status == models.ActionStatusPending && !a.RequiresApproval)) {
			continue
		}
		matched = append(matched, cloneAction(a))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].PriorityScore != matched[j].PriorityScore {
			return matched[i].PriorityScore > matched[j].PriorityScore
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return paginate(matched, filter.Page, filter.Limit), len(matched), nil
}

func (s *MemoryStore) UpdateAction(_ context.Context, a *models.ActionRecord, from models.ActionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.actions[a.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != from {
		return ErrStatusConflict
	}
	a.UpdatedAt = time.Now().UTC()
	s.actions[a.ID] = cloneAction(a)
	return nil
}

// --- Job State ---

func (s *MemoryStore) GetJobState(context.Context) (*models.JobState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobState.Clone(), nil
}

func (s *MemoryStore) SaveJobState(_ context.Context, st *models.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.Version != s.jobState.Version {
		return ErrVersionConflict
	}
	st.Version++
	s.jobState = st.Clone()
	return nil
}

// --- Usage ---

func (s *MemoryStore) IncrementUsage(_ context.Context, usageType models.UsageType, date string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(usageType) + "|" + date
	s.usage[key]++
	return s.usage[key], nil
}

func (s *MemoryStore) GetUsage(_ context.Context, date string) (map[models.UsageType]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[models.UsageType]int{}
	for _, t := range []models.UsageType{models.UsageAnalyses, models.UsageActionsCreated, models.UsageActionsExecuted} {
		if n, ok := s.usage[string(t)+"|"+date]; ok {
			out[t] = n
		}
	}
	return out, nil
}

// --- Circuit Breakers ---

func (s *MemoryStore) GetBreakerState(_ context.Context, name string) (*models.CircuitBreakerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.breakers[name]
	if !ok {
		return nil, ErrNotFound
	}
	c := *st
	return &c, nil
}

func (s *MemoryStore) SaveBreakerState(_ context.Context, st *models.CircuitBreakerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *st
	s.breakers[st.Name] = &c
	return nil
}

// --- Scheduled Tasks ---

func (s *MemoryStore) CreateScheduledTask(_ context.Context, task *models.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *task
	c.Payload = cloneMap(task.Payload)
	s.tasks[task.ID] = &c
	return nil
}

func (s *MemoryStore) ListDueTasks(_ context.Context, now time.Time, limit int) ([]*models.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.ScheduledTask
	for _, t := range s.tasks {
		if t.Status == models.TaskStatusScheduled && !t.RunAt.After(now) {
			c := *t
			due = append(due, &c)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	return paginate(due, 1, limit), nil
}

func (s *MemoryStore) SetTaskStatus(_ context.Context, id uuid.UUID, status models.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	return nil
}

// --- Settings ---

func (s *MemoryStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *MemoryStore) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *MemoryStore) AllSettings(context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out, nil
}

func paginate[T any](items []T, page, limit int) []T {
	page, limit = normalizePage(page, limit)
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func containsStatus(list []models.ActionStatus, st models.ActionStatus) bool {
	for _, s := range list {
		if s == st {
			return true
		}
	}
	return false
}

func cloneAction(a *models.ActionRecord) *models.ActionRecord {
	c := *a
	c.ActionData = cloneMap(a.ActionData)
	c.Result = cloneMap(a.Result)
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
