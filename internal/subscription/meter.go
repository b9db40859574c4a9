package subscription

import (
	"context"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// UsageStore is the subset of store.Store the meter needs.
type UsageStore interface {
	GetSubscription(ctx context.Context) (*models.Subscription, error)
	IncrementUsage(ctx context.Context, usageType models.UsageType, date string) (int, error)
	GetUsage(ctx context.Context, date string) (map[models.UsageType]int, error)
}

// Meter applies the tier table to the persisted daily counters.
type Meter struct {
	store UsageStore
	now   func() time.Time
}

func NewMeter(st UsageStore) *Meter {
	return &Meter{store: st, now: time.Now}
}

// WithClock overrides the time source. Test helper.
func (m *Meter) WithClock(now func() time.Time) *Meter {
	m.now = now
	return m
}

// Tier returns the store's active tier.
func (m *Meter) Tier(ctx context.Context) (models.Tier, error) {
	sub, err := m.store.GetSubscription(ctx)
	if err != nil {
		return "", apperr.Persistence("load subscription", err)
	}
	return sub.Tier, nil
}

// Remaining checks op against today's counter.
func (m *Meter) Remaining(ctx context.Context, op models.UsageType) (Decision, error) {
	tier, err := m.Tier(ctx)
	if err != nil {
		return Decision{}, err
	}
	usage, err := m.store.GetUsage(ctx, models.UsageDate(m.now()))
	if err != nil {
		return Decision{}, apperr.Persistence("load usage", err)
	}
	return Check(tier, usage[op], op), nil
}

// Record increments today's counter for op and returns the new count.
func (m *Meter) Record(ctx context.Context, op models.UsageType) (int, error) {
	n, err := m.store.IncrementUsage(ctx, op, models.UsageDate(m.now()))
	if err != nil {
		return 0, apperr.Persistence("record usage", err)
	}
	return n, nil
}

// Report is today's usage for the usage endpoint.
type Report struct {
	Tier      models.Tier              `json:"tier"`
	Date      string                   `json:"date"`
	Counters  map[models.UsageType]int `json:"counters"`
	Remaining map[models.UsageType]int `json:"remaining"`
	Limits    Limits                   `json:"limits"`
}

func (m *Meter) Report(ctx context.Context) (*Report, error) {
	tier, err := m.Tier(ctx)
	if err != nil {
		return nil, err
	}
	date := models.UsageDate(m.now())
	usage, err := m.store.GetUsage(ctx, date)
	if err != nil {
		return nil, apperr.Persistence("load usage", err)
	}

	r := &Report{
		Tier:      tier,
		Date:      date,
		Counters:  map[models.UsageType]int{},
		Remaining: map[models.UsageType]int{},
		Limits:    LimitsFor(tier),
	}
	for _, op := range []models.UsageType{models.UsageAnalyses, models.UsageActionsCreated, models.UsageActionsExecuted} {
		r.Counters[op] = usage[op]
		r.Remaining[op] = Check(tier, usage[op], op).Remaining
	}
	return r, nil
}
