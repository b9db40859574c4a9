// Package analysis turns catalog entities into scored suggestions by asking
// the configured LLM provider.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/breaker"
	"github.com/kiranshivaraju/shopmind/internal/catalog"
	"github.com/kiranshivaraju/shopmind/internal/ratelimit"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// maxRawResponse bounds the raw reply kept on a failed record.
const maxRawResponse = 8000

// AnalysisWriter persists analysis records.
type AnalysisWriter interface {
	CreateAnalysis(ctx context.Context, rec *models.AnalysisRecord) error
}

// Deps are the collaborators shared by both analyzers.
type Deps struct {
	Source   catalog.Source
	Provider models.LLMProvider
	Store    AnalysisWriter
	// Guard and Limiter are optional.
	Guard   *breaker.Guard
	Limiter *ratelimit.Limiter
	// ActionTypes returns the kinds the model may suggest. Nil means all.
	ActionTypes func(ctx context.Context) []models.ActionType
	Options     models.CallOptions
}

// Analyzer analyzes one kind of entity.
type Analyzer struct {
	kind models.AnalysisType
	deps Deps
	now  func() time.Time
}

// Outcome is the result of analyzing one entity. ParseError is set when the
// model reply could not be parsed; Record is then the persisted failed record.
type Outcome struct {
	Record      *models.AnalysisRecord
	Suggestions []models.Suggestion
	ParseError  error
}

type RunOptions struct {
	// Limit caps how many entities are analyzed; zero means no cap.
	Limit int
	// IDs analyzes exactly these entities instead of listing the catalog.
	IDs []int64
}

type RunSummary struct {
	Analyzed int               `json:"analyzed"`
	Total    int               `json:"total"`
	Errors   []models.JobError `json:"errors"`
}

func NewProductAnalyzer(deps Deps) *Analyzer {
	return &Analyzer{kind: models.AnalysisTypeProduct, deps: deps, now: time.Now}
}

func NewCustomerAnalyzer(deps Deps) *Analyzer {
	return &Analyzer{kind: models.AnalysisTypeCustomer, deps: deps, now: time.Now}
}

func (a *Analyzer) Type() models.AnalysisType { return a.kind }

// Analyze runs AnalyzeEntity over opts.IDs, or over the catalog listing up to
// opts.Limit. Entity failures are collected; only a persistence failure stops
// the run.
func (a *Analyzer) Analyze(ctx context.Context, opts RunOptions) (RunSummary, error) {
	ids := opts.IDs
	if len(ids) == 0 {
		var err error
		ids, err = a.listIDs(ctx, opts.Limit)
		if err != nil {
			return RunSummary{Errors: []models.JobError{}}, err
		}
	}
	if opts.Limit > 0 && len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}

	sum := RunSummary{Total: len(ids), Errors: []models.JobError{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		out, err := a.AnalyzeEntity(ctx, id)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindPersistence {
				return sum, err
			}
			sum.Errors = append(sum.Errors, a.entityError(id, err))
			continue
		}
		sum.Analyzed++
		if out.ParseError != nil {
			sum.Errors = append(sum.Errors, a.entityError(id, out.ParseError))
		}
	}
	return sum, nil
}

// AnalyzeEntity fetches one entity, asks the model about it, and persists
// the record. An unparseable reply is persisted as a failed record and
// reported through Outcome.ParseError rather than as an error.
func (a *Analyzer) AnalyzeEntity(ctx context.Context, id int64) (*Outcome, error) {
	entity, err := a.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	var allowed []models.ActionType
	if a.deps.ActionTypes != nil {
		allowed = a.deps.ActionTypes(ctx)
	}
	messages, err := BuildPrompt(entity, allowed)
	if err != nil {
		return nil, err
	}

	provider := a.deps.Provider.Name()
	if a.deps.Limiter != nil {
		if err := a.deps.Limiter.Check(ctx, provider); err != nil {
			return nil, err
		}
	}

	completion, err := a.call(ctx, messages)
	if err != nil {
		slog.Warn("llm call failed",
			"provider", provider,
			"entity_type", a.kind,
			"entity_id", id,
			"error", err,
		)
		return nil, err
	}

	rec := &models.AnalysisRecord{
		ID:           uuid.New(),
		AnalysisType: a.kind,
		EntityID:     id,
		EntityType:   string(a.kind),
		Suggestions:  []models.Suggestion{},
		LLMProvider:  provider,
		LLMModel:     completion.Model,
		TokensUsed:   completion.TokensUsed,
		DurationMs:   completion.DurationMs,
		CreatedAt:    a.now().UTC(),
	}

	parsed, perr := Parse(completion.Content)
	if perr != nil {
		rec.Status = models.AnalysisStatusFailed
		rec.AnalysisData = map[string]any{
			"raw_response": truncate(completion.Content, maxRawResponse),
			"parse_error":  perr.Error(),
		}
		if err := a.save(ctx, rec); err != nil {
			return nil, err
		}
		slog.Warn("unparseable analysis reply",
			"entity_type", a.kind,
			"entity_id", id,
			"analysis_id", rec.ID,
		)
		return &Outcome{Record: rec, Suggestions: []models.Suggestion{}, ParseError: perr}, nil
	}

	rec.Status = models.AnalysisStatusCompleted
	rec.PriorityScore = parsed.PriorityScore
	rec.Suggestions = parsed.Suggestions
	rec.AnalysisData = map[string]any{
		"analysis": parsed.Analysis,
		"metrics":  entity.Metrics,
	}
	if len(parsed.Extra) > 0 {
		rec.AnalysisData["extra"] = parsed.Extra
	}
	if err := a.save(ctx, rec); err != nil {
		return nil, err
	}

	slog.Info("entity analyzed",
		"entity_type", a.kind,
		"entity_id", id,
		"analysis_id", rec.ID,
		"priority_score", rec.PriorityScore,
		"suggestions", len(rec.Suggestions),
	)
	return &Outcome{Record: rec, Suggestions: rec.Suggestions}, nil
}

func (a *Analyzer) fetch(ctx context.Context, id int64) (Entity, error) {
	e := Entity{Type: a.kind, ID: id}
	switch a.kind {
	case models.AnalysisTypeProduct:
		p, err := a.deps.Source.GetProduct(ctx, id)
		if err != nil {
			return e, err
		}
		e.Metrics = p.Metrics()
	case models.AnalysisTypeCustomer:
		c, err := a.deps.Source.GetCustomer(ctx, id)
		if err != nil {
			return e, err
		}
		e.Metrics = c.Metrics()
	default:
		return e, fmt.Errorf("unknown analysis type %q", a.kind)
	}
	return e, nil
}

func (a *Analyzer) listIDs(ctx context.Context, limit int) ([]int64, error) {
	if a.kind == models.AnalysisTypeCustomer {
		return a.deps.Source.ListCustomerIDs(ctx, limit)
	}
	return a.deps.Source.ListProductIDs(ctx, limit)
}

func (a *Analyzer) call(ctx context.Context, messages []models.Message) (models.Completion, error) {
	opts := a.deps.Options
	opts.JSONMode = true

	if a.deps.Guard == nil {
		return a.deps.Provider.Call(ctx, messages, opts)
	}

	var out models.Completion
	err := a.deps.Guard.Do(ctx, "llm:"+a.deps.Provider.Name(), func(ctx context.Context) error {
		c, err := a.deps.Provider.Call(ctx, messages, opts)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return models.Completion{}, err
	}
	return out, nil
}

func (a *Analyzer) save(ctx context.Context, rec *models.AnalysisRecord) error {
	if err := a.deps.Store.CreateAnalysis(ctx, rec); err != nil {
		return apperr.Persistence("saving analysis", err)
	}
	return nil
}

func (a *Analyzer) entityError(id int64, err error) models.JobError {
	return models.JobError{
		EntityType: string(a.kind),
		EntityID:   id,
		Code:       apperr.CodeOf(err),
		Message:    apperr.Public(err),
		At:         a.now().UTC(),
	}
}

// truncate cuts s to maxBytes without splitting UTF-8 runes.
func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
