package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/shopmind/internal/api/response"
)

// SettingsService is satisfied by *settings.Service.
type SettingsService interface {
	All(ctx context.Context) (map[string]string, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

type Settings struct {
	svc SettingsService
}

func NewSettings(svc SettingsService) *Settings {
	return &Settings{svc: svc}
}

// All handles GET /settings.
func (h *Settings) All(w http.ResponseWriter, r *http.Request) {
	all, err := h.svc.All(r.Context())
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, all)
}

type setSettingRequest struct {
	Value *string `json:"value" validate:"required"`
}

// Set handles PUT /settings/{key} and returns the stored, normalized value.
func (h *Settings) Set(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req setSettingRequest
	if err := decodeBody(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	if err := h.svc.Set(r.Context(), key, *req.Value); err != nil {
		response.FromError(w, r, err)
		return
	}
	v, err := h.svc.Get(r.Context(), key)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, map[string]string{"key": key, "value": v})
}
