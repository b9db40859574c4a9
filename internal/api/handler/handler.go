// Package handler implements the /api/v1 endpoints. Handlers decode and
// validate the request, call one service method, and map its error through
// response.FromError.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/validate"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	maxBodyBytes     = 1 << 20
)

var validator = validate.New()

// decodeBody reads a JSON body into v and validates its struct tags. An
// empty body leaves v at its zero value.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("invalid JSON body", err.Error())
	}
	if details := validator.Struct(v); len(details) > 0 {
		return apperr.Validation("invalid request", details...)
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id", name+" must be a UUID")
	}
	return id, nil
}

// pageParams reads page and limit, clamped the way the store clamps them.
func pageParams(r *http.Request) (page, limit int, err error) {
	q := r.URL.Query()
	page, limit = 1, defaultPageLimit
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, apperr.Validation("invalid query", "page must be a positive integer")
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return 0, 0, apperr.Validation("invalid query", "limit must be a positive integer")
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit, nil
}
