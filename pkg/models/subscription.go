package models

import (
	"time"

	"github.com/google/uuid"
)

// Tier is a subscription level bounding feature access and daily usage.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Subscription is the store's active plan. There is a single row.
type Subscription struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	StoreName string    `db:"store_name" json:"store_name"`
	Tier      Tier      `db:"tier"       json:"tier"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type UsageType string

const (
	UsageAnalyses        UsageType = "analyses"
	UsageActionsCreated  UsageType = "actions_created"
	UsageActionsExecuted UsageType = "actions_executed"
)

// UsageCounter is a per-day counter keyed by (usage_type, date).
type UsageCounter struct {
	UsageType UsageType `db:"usage_type" json:"usage_type"`
	Date      string    `db:"date"       json:"date"`
	Count     int       `db:"count"      json:"count"`
}

// UsageDate returns the counter date key for t (UTC calendar day).
func UsageDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
