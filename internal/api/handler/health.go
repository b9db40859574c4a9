package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/api/response"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

const healthTimeout = 3 * time.Second

// Health handles GET /health. Any failing check answers 503 and names the
// degraded dependencies.
func Health(checks map[string]Check) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		services := make(map[string]string, len(names))
		var degraded []string
		for _, name := range names {
			services[name] = "ok"
			if err := checks[name](ctx); err != nil {
				slog.Warn("health check failed", "service", name, "error", err)
				services[name] = "degraded"
				degraded = append(degraded, name+" is degraded")
			}
		}

		if len(degraded) > 0 {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", degraded)
			return
		}
		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": services,
		})
	}
}
