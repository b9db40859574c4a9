package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shopmind/internal/api/response"
	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/store"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// AnalysisReader is the read side of store.Store for analyses.
type AnalysisReader interface {
	GetAnalysis(ctx context.Context, id uuid.UUID) (*models.AnalysisRecord, error)
	ListAnalyses(ctx context.Context, filter store.AnalysisFilter) ([]*models.AnalysisRecord, int, error)
}

type Analyses struct {
	store AnalysisReader
}

func NewAnalyses(s AnalysisReader) *Analyses {
	return &Analyses{store: s}
}

// List handles GET /analyses?type=product&status=failed&entity_id=42.
func (h *Analyses) List(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageParams(r)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	filter := store.AnalysisFilter{Page: page, Limit: limit}

	q := r.URL.Query()
	switch t := models.AnalysisType(q.Get("type")); t {
	case "":
	case models.AnalysisTypeProduct, models.AnalysisTypeCustomer:
		filter.AnalysisType = t
	default:
		response.FromError(w, r, apperr.Validation("invalid query", fmt.Sprintf("unknown analysis type %q", t)))
		return
	}
	switch s := models.AnalysisStatus(q.Get("status")); s {
	case "":
	case models.AnalysisStatusCompleted, models.AnalysisStatusFailed:
		filter.Status = s
	default:
		response.FromError(w, r, apperr.Validation("invalid query", fmt.Sprintf("unknown analysis status %q", s)))
		return
	}
	if v := q.Get("entity_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			response.FromError(w, r, apperr.Validation("invalid query", "entity_id must be a positive integer"))
			return
		}
		filter.EntityID = id
	}

	items, total, err := h.store.ListAnalyses(r.Context(), filter)
	if err != nil {
		response.FromError(w, r, apperr.Persistence("listing analyses", err))
		return
	}
	if items == nil {
		items = []*models.AnalysisRecord{}
	}
	response.Collection(w, items, response.NewMeta(page, limit, total))
}

// Get handles GET /analyses/{id}.
func (h *Analyses) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	rec, err := h.store.GetAnalysis(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.FromError(w, r, apperr.NotFound("analysis", id))
	case err != nil:
		response.FromError(w, r, apperr.Persistence("loading analysis", err))
	default:
		response.JSON(w, rec)
	}
}
