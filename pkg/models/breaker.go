package models

import "time"

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreakerState is the persisted breaker record for one operation name.
type CircuitBreakerState struct {
	Name         string       `db:"name"          json:"name"`
	FailureCount int          `db:"failure_count" json:"failure_count"`
	State        CircuitState `db:"state"         json:"state"`
	OpenedAt     *time.Time   `db:"opened_at"     json:"opened_at,omitempty"`
	NextRetryAt  *time.Time   `db:"next_retry_at" json:"next_retry_at,omitempty"`
	UpdatedAt    time.Time    `db:"updated_at"    json:"updated_at"`
}
