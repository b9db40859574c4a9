package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/shopmind/internal/api/response"
	"github.com/kiranshivaraju/shopmind/internal/subscription"
)

// UsageReporter is satisfied by *subscription.Meter.
type UsageReporter interface {
	Report(ctx context.Context) (*subscription.Report, error)
}

// Usage handles GET /usage.
func Usage(meter UsageReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := meter.Report(r.Context())
		if err != nil {
			response.FromError(w, r, err)
			return
		}
		response.JSON(w, rep)
	}
}
