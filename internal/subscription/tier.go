// Package subscription holds the tier policy table and the daily usage meter.
package subscription

import (
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// Unlimited disables a numeric limit.
const Unlimited = -1

// Limits is one row of the tier table. Nil Providers or ActionTypes allow all.
type Limits struct {
	AnalysesPerDay    int                 `json:"analyses_per_day"`
	ActionsPerDay     int                 `json:"actions_per_day"`
	MaxEntitiesPerJob int                 `json:"max_entities_per_job"`
	Providers         []string            `json:"providers,omitempty"`
	ActionTypes       []models.ActionType `json:"action_types,omitempty"`
}

var tiers = map[models.Tier]Limits{
	models.TierFree: {
		AnalysesPerDay:    10,
		ActionsPerDay:     5,
		MaxEntitiesPerJob: 10,
		Providers:         []string{"ollama"},
		ActionTypes: []models.ActionType{
			models.ActionSendEmail,
			models.ActionCreateDiscount,
			models.ActionInventoryAlert,
		},
	},
	models.TierBasic: {
		AnalysesPerDay:    100,
		ActionsPerDay:     50,
		MaxEntitiesPerJob: 100,
		Providers:         []string{"ollama", "vllm", "openai"},
		ActionTypes: []models.ActionType{
			models.ActionSendEmail,
			models.ActionSendSMS,
			models.ActionCreateDiscount,
			models.ActionUpdateProduct,
			models.ActionScheduleFollowup,
			models.ActionCreateBundle,
			models.ActionInventoryAlert,
			models.ActionLoyaltyReward,
		},
	},
	models.TierPro: {
		AnalysesPerDay:    1000,
		ActionsPerDay:     500,
		MaxEntitiesPerJob: 500,
	},
	models.TierEnterprise: {
		AnalysesPerDay:    Unlimited,
		ActionsPerDay:     Unlimited,
		MaxEntitiesPerJob: Unlimited,
	},
}

// LimitsFor returns the tier's row. Unknown tiers get the free row.
func LimitsFor(tier models.Tier) Limits {
	if l, ok := tiers[tier]; ok {
		return l
	}
	return tiers[models.TierFree]
}

// DailyLimit returns the per-day cap for op.
func (l Limits) DailyLimit(op models.UsageType) int {
	switch op {
	case models.UsageAnalyses:
		return l.AnalysesPerDay
	case models.UsageActionsCreated:
		return l.ActionsPerDay
	default:
		return Unlimited
	}
}

// ProviderAllowed reports whether the tier may use the named LLM provider.
func ProviderAllowed(tier models.Tier, name string) bool {
	l := LimitsFor(tier)
	if l.Providers == nil {
		return true
	}
	for _, p := range l.Providers {
		if p == name {
			return true
		}
	}
	return false
}

// ActionAllowed reports whether the tier may create actions of kind.
func ActionAllowed(tier models.Tier, kind models.ActionType) bool {
	l := LimitsFor(tier)
	if l.ActionTypes == nil {
		return true
	}
	for _, t := range l.ActionTypes {
		if t == kind {
			return true
		}
	}
	return false
}

// Decision is the outcome of a usage check.
type Decision struct {
	Allowed   bool `json:"allowed"`
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"`
}

// Check decides whether one more op fits in today's quota. Pure.
func Check(tier models.Tier, usageToday int, op models.UsageType) Decision {
	limit := LimitsFor(tier).DailyLimit(op)
	if limit == Unlimited {
		return Decision{Allowed: true, Limit: Unlimited, Remaining: Unlimited}
	}
	remaining := limit - usageToday
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: remaining > 0, Limit: limit, Remaining: remaining}
}

// CapEntities bounds n by the tier's per-job entity limit and by remaining.
// A negative remaining means unlimited.
func CapEntities(tier models.Tier, n, remaining int) int {
	if maxN := LimitsFor(tier).MaxEntitiesPerJob; maxN != Unlimited && n > maxN {
		n = maxN
	}
	if remaining >= 0 && n > remaining {
		n = remaining
	}
	return n
}
