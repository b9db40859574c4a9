package models

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusIdle       JobStatus = "idle"
	JobStatusRunning    JobStatus = "running"
	JobStatusCancelling JobStatus = "cancelling"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Active reports whether the status blocks a new job from starting.
func (s JobStatus) Active() bool {
	return s == JobStatusRunning || s == JobStatusCancelling
}

// Terminal reports whether the job has finished and awaits acknowledgement.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

type JobType string

const (
	JobTypeAll       JobType = "all"
	JobTypeProducts  JobType = "products"
	JobTypeCustomers JobType = "customers"
)

func (t JobType) Valid() bool {
	return t == JobTypeAll || t == JobTypeProducts || t == JobTypeCustomers
}

// JobError is one entry of the job's bounded recent-errors ring.
type JobError struct {
	EntityType string    `json:"entity_type"`
	EntityID   int64     `json:"entity_id"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// JobState is the singleton record describing in-flight analysis progress.
// Every write bumps Version; writers compare-and-swap on it.
type JobState struct {
	ID                uuid.UUID  `db:"id"                 json:"id"`
	Status            JobStatus  `db:"status"             json:"status"`
	Type              JobType    `db:"type"               json:"type"`
	ProductIDs        []int64    `db:"product_ids"        json:"product_ids"`
	CustomerIDs       []int64    `db:"customer_ids"       json:"customer_ids"`
	ProductCursor     int        `db:"product_cursor"     json:"product_cursor"`
	CustomerCursor    int        `db:"customer_cursor"    json:"customer_cursor"`
	ProductsAnalyzed  int        `db:"products_analyzed"  json:"products_analyzed"`
	ProductsTotal     int        `db:"products_total"     json:"products_total"`
	CustomersAnalyzed int        `db:"customers_analyzed" json:"customers_analyzed"`
	CustomersTotal    int        `db:"customers_total"    json:"customers_total"`
	ActionsCreated    int        `db:"actions_created"    json:"actions_created"`
	CurrentItem       string     `db:"current_item"       json:"current_item"`
	Errors            []JobError `db:"errors"             json:"errors"`
	LastError         string     `db:"last_error"         json:"last_error,omitempty"`
	LeaseToken        string     `db:"lease_token"        json:"-"`
	LeaseUntil        *time.Time `db:"lease_until"        json:"-"`
	StartedAt         *time.Time `db:"started_at"         json:"started_at,omitempty"`
	CompletedAt       *time.Time `db:"completed_at"       json:"completed_at,omitempty"`
	UpdatedAt         time.Time  `db:"updated_at"         json:"updated_at"`
	Version           int64      `db:"version"            json:"version"`
}

// IdleJobState returns the state stored when no job has ever run.
func IdleJobState() *JobState {
	return &JobState{
		Status:      JobStatusIdle,
		ProductIDs:  []int64{},
		CustomerIDs: []int64{},
		Errors:      []JobError{},
	}
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (s *JobState) Clone() *JobState {
	c := *s
	c.ProductIDs = append([]int64(nil), s.ProductIDs...)
	c.CustomerIDs = append([]int64(nil), s.CustomerIDs...)
	c.Errors = append([]JobError(nil), s.Errors...)
	if s.LeaseUntil != nil {
		t := *s.LeaseUntil
		c.LeaseUntil = &t
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// JobProgress is the polled snapshot of a JobState.
type JobProgress struct {
	JobID             *uuid.UUID `json:"job_id,omitempty"`
	Status            JobStatus  `json:"status"`
	Type              JobType    `json:"type,omitempty"`
	Percentage        int        `json:"percentage"`
	ProductsAnalyzed  int        `json:"products_analyzed"`
	ProductsTotal     int        `json:"products_total"`
	CustomersAnalyzed int        `json:"customers_analyzed"`
	CustomersTotal    int        `json:"customers_total"`
	ActionsCreated    int        `json:"actions_created"`
	CurrentItem       string     `json:"current_item"`
	IsCancelling      bool       `json:"is_cancelling"`
	Errors            []JobError `json:"errors"`
	LastError         string     `json:"last_error,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Progress derives the snapshot. Pure: same state, same snapshot.
func (s *JobState) Progress() JobProgress {
	analyzed := s.ProductsAnalyzed + s.CustomersAnalyzed
	total := s.ProductsTotal + s.CustomersTotal

	pct := 0
	switch {
	case total > 0:
		pct = analyzed * 100 / total
	case s.Status == JobStatusCompleted:
		pct = 100
	}
	if pct > 100 {
		pct = 100
	}

	errs := make([]JobError, len(s.Errors))
	copy(errs, s.Errors)

	p := JobProgress{
		Status:            s.Status,
		Type:              s.Type,
		Percentage:        pct,
		ProductsAnalyzed:  s.ProductsAnalyzed,
		ProductsTotal:     s.ProductsTotal,
		CustomersAnalyzed: s.CustomersAnalyzed,
		CustomersTotal:    s.CustomersTotal,
		ActionsCreated:    s.ActionsCreated,
		CurrentItem:       s.CurrentItem,
		IsCancelling:      s.Status == JobStatusCancelling,
		Errors:            errs,
		LastError:         s.LastError,
		StartedAt:         s.StartedAt,
		CompletedAt:       s.CompletedAt,
		UpdatedAt:         s.UpdatedAt,
	}
	if s.ID != uuid.Nil {
		id := s.ID
		p.JobID = &id
	}
	return p
}
