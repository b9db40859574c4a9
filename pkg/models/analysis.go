package models

import (
	"time"

	"github.com/google/uuid"
)

type AnalysisType string

const (
	AnalysisTypeProduct  AnalysisType = "product"
	AnalysisTypeCustomer AnalysisType = "customer"
)

type AnalysisStatus string

const (
	AnalysisStatusCompleted AnalysisStatus = "completed"
	AnalysisStatusFailed    AnalysisStatus = "failed"
)

// Suggestion is one LLM-proposed action embedded in an analysis, before it
// becomes an ActionRecord.
type Suggestion struct {
	Type      string         `json:"type"`
	Priority  string         `json:"priority"`
	Data      map[string]any `json:"data"`
	Reasoning string         `json:"reasoning"`
}

// AnalysisRecord holds the outcome of analyzing one entity. Immutable once stored.
type AnalysisRecord struct {
	ID            uuid.UUID      `db:"id"             json:"id"`
	AnalysisType  AnalysisType   `db:"analysis_type"  json:"analysis_type"`
	EntityID      int64          `db:"entity_id"      json:"entity_id"`
	EntityType    string         `db:"entity_type"    json:"entity_type"`
	AnalysisData  map[string]any `db:"analysis_data"  json:"analysis_data"`
	Suggestions   []Suggestion   `db:"suggestions"    json:"suggestions"`
	PriorityScore int            `db:"priority_score" json:"priority_score"`
	Status        AnalysisStatus `db:"status"         json:"status"`
	LLMProvider   string         `db:"llm_provider"   json:"llm_provider"`
	LLMModel      string         `db:"llm_model"      json:"llm_model"`
	TokensUsed    int            `db:"tokens_used"    json:"tokens_used"`
	DurationMs    int64          `db:"duration_ms"    json:"duration_ms"`
	CreatedAt     time.Time      `db:"created_at"     json:"created_at"`
}
