package models

import (
	"time"

	"github.com/google/uuid"
)

// ActionType is the closed set of action kinds the registry can execute.
type ActionType string

const (
	ActionSendEmail           ActionType = "send_email"
	ActionSendSMS             ActionType = "send_sms"
	ActionCreateDiscount      ActionType = "create_discount"
	ActionUpdateProduct       ActionType = "update_product"
	ActionCreateCampaign      ActionType = "create_campaign"
	ActionScheduleFollowup    ActionType = "schedule_followup"
	ActionCreateBundle        ActionType = "create_bundle"
	ActionInventoryAlert      ActionType = "inventory_alert"
	ActionLoyaltyReward       ActionType = "loyalty_reward"
	ActionSchedulePriceChange ActionType = "schedule_price_change"
)

// ActionTypes lists every kind in declaration order.
var ActionTypes = []ActionType{
	ActionSendEmail,
	ActionSendSMS,
	ActionCreateDiscount,
	ActionUpdateProduct,
	ActionCreateCampaign,
	ActionScheduleFollowup,
	ActionCreateBundle,
	ActionInventoryAlert,
	ActionLoyaltyReward,
	ActionSchedulePriceChange,
}

// ParseActionType matches s against the known kinds.
func ParseActionType(s string) (ActionType, bool) {
	for _, t := range ActionTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusApproved  ActionStatus = "approved"
	ActionStatusCompleted ActionStatus = "completed"
	ActionStatusFailed    ActionStatus = "failed"
	ActionStatusCancelled ActionStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s ActionStatus) Terminal() bool {
	return s == ActionStatusCompleted || s == ActionStatusFailed || s == ActionStatusCancelled
}

// ActionRecord is a proposed or executed operation derived from a suggestion.
type ActionRecord struct {
	ID               uuid.UUID      `db:"id"                json:"id"`
	AnalysisID       *uuid.UUID     `db:"analysis_id"       json:"analysis_id,omitempty"`
	ActionType       ActionType     `db:"action_type"       json:"action_type"`
	ActionData       map[string]any `db:"action_data"       json:"action_data"`
	Status           ActionStatus   `db:"status"            json:"status"`
	PriorityScore    int            `db:"priority_score"    json:"priority_score"`
	RequiresApproval bool           `db:"requires_approval" json:"requires_approval"`
	ApprovedBy       *string        `db:"approved_by"       json:"approved_by,omitempty"`
	ApprovedAt       *time.Time     `db:"approved_at"       json:"approved_at,omitempty"`
	ExecutedAt       *time.Time     `db:"executed_at"       json:"executed_at,omitempty"`
	Result           map[string]any `db:"result"            json:"result,omitempty"`
	ErrorMessage     *string        `db:"error_message"     json:"error_message,omitempty"`
	RetryCount       int            `db:"retry_count"       json:"retry_count"`
	CreatedAt        time.Time      `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"        json:"updated_at"`
}

type TaskType string

const (
	TaskFollowup    TaskType = "followup"
	TaskPriceChange TaskType = "price_change"
	TaskCampaign    TaskType = "campaign"
)

type TaskStatus string

const (
	TaskStatusScheduled TaskStatus = "scheduled"
	TaskStatusDone      TaskStatus = "done"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// ScheduledTask is deferred work written by the scheduling executors.
type ScheduledTask struct {
	ID        uuid.UUID      `db:"id"         json:"id"`
	TaskType  TaskType       `db:"task_type"  json:"task_type"`
	ActionID  *uuid.UUID     `db:"action_id"  json:"action_id,omitempty"`
	Payload   map[string]any `db:"payload"    json:"payload"`
	RunAt     time.Time      `db:"run_at"     json:"run_at"`
	Status    TaskStatus     `db:"status"     json:"status"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}
