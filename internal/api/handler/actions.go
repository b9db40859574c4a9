package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shopmind/internal/actions"
	mw "github.com/kiranshivaraju/shopmind/internal/api/middleware"
	"github.com/kiranshivaraju/shopmind/internal/api/response"
	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/store"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// ActionService is satisfied by *actions.Service.
type ActionService interface {
	List(ctx context.Context, filter store.ActionFilter) ([]*models.ActionRecord, int, error)
	Get(ctx context.Context, id uuid.UUID) (*models.ActionRecord, error)
	ExecuteByID(ctx context.Context, id uuid.UUID) (*models.ActionRecord, error)
	ApproveAction(ctx context.Context, id uuid.UUID, approver string) (*models.ActionRecord, error)
	DismissAction(ctx context.Context, id uuid.UUID) (*models.ActionRecord, error)
	ApproveAllPending(ctx context.Context, approver string) (int, error)
	DismissAllByStatus(ctx context.Context, statuses []models.ActionStatus) (int, error)
	Kinds() []actions.Meta
}

type Actions struct {
	svc ActionService
}

func NewActions(svc ActionService) *Actions {
	return &Actions{svc: svc}
}

var actionStatuses = map[models.ActionStatus]bool{
	models.ActionStatusPending:   true,
	models.ActionStatusApproved:  true,
	models.ActionStatusCompleted: true,
	models.ActionStatusFailed:    true,
	models.ActionStatusCancelled: true,
}

// List handles GET /actions?status=pending,approved&type=create_discount.
func (h *Actions) List(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageParams(r)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	filter := store.ActionFilter{Page: page, Limit: limit}

	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		statuses, err := parseStatuses(strings.Split(v, ","))
		if err != nil {
			response.FromError(w, r, err)
			return
		}
		filter.Statuses = statuses
	}
	if v := q.Get("type"); v != "" {
		kind, ok := models.ParseActionType(v)
		if !ok {
			response.FromError(w, r, apperr.Validation("invalid query", fmt.Sprintf("unknown action type %q", v)))
			return
		}
		filter.ActionType = kind
	}

	items, total, err := h.svc.List(r.Context(), filter)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if items == nil {
		items = []*models.ActionRecord{}
	}
	response.Collection(w, items, response.NewMeta(page, limit, total))
}

// Kinds handles GET /actions/kinds.
func (h *Actions) Kinds(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, h.svc.Kinds())
}

// Get handles GET /actions/{id}.
func (h *Actions) Get(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.svc.Get)
}

// Execute handles POST /actions/{id}/execute. The record is returned even
// when execution failed; its status and result say how it went.
func (h *Actions) Execute(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.svc.ExecuteByID)
}

// Approve handles POST /actions/{id}/approve. The calling key's name is
// recorded as the approver.
func (h *Actions) Approve(w http.ResponseWriter, r *http.Request) {
	approver, ok := mw.KeyName(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing API key", nil)
		return
	}
	h.byID(w, r, func(ctx context.Context, id uuid.UUID) (*models.ActionRecord, error) {
		return h.svc.ApproveAction(ctx, id, approver)
	})
}

// Dismiss handles POST /actions/{id}/dismiss.
func (h *Actions) Dismiss(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.svc.DismissAction)
}

// ApproveAll handles POST /actions/approve-all.
func (h *Actions) ApproveAll(w http.ResponseWriter, r *http.Request) {
	approver, ok := mw.KeyName(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing API key", nil)
		return
	}
	n, err := h.svc.ApproveAllPending(r.Context(), approver)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Message(w, fmt.Sprintf("%d actions approved", n), map[string]int{"count": n})
}

type dismissRequest struct {
	Statuses []string `json:"statuses" validate:"required,min=1"`
}

// DismissAll handles POST /actions/dismiss.
func (h *Actions) DismissAll(w http.ResponseWriter, r *http.Request) {
	var req dismissRequest
	if err := decodeBody(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	statuses, err := parseStatuses(req.Statuses)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	n, err := h.svc.DismissAllByStatus(r.Context(), statuses)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Message(w, fmt.Sprintf("%d actions dismissed", n), map[string]int{"count": n})
}

func (h *Actions) byID(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) (*models.ActionRecord, error)) {
	id, err := pathUUID(r, "id")
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	a, err := op(r.Context(), id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, a)
}

func parseStatuses(raw []string) ([]models.ActionStatus, error) {
	out := make([]models.ActionStatus, 0, len(raw))
	for _, s := range raw {
		st := models.ActionStatus(strings.TrimSpace(s))
		if !actionStatuses[st] {
			return nil, apperr.Validation("invalid status", fmt.Sprintf("unknown action status %q", s))
		}
		out = append(out, st)
	}
	return out, nil
}
