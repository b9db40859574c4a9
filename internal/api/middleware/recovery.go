package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/kiranshivaraju/shopmind/internal/api/response"
)

// Recovery answers a handler panic with a 500 envelope. http.ErrAbortHandler
// is re-raised so net/http can drop the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.Error("handler panicked",
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", middleware.GetReqID(r.Context()),
				"stack", string(debug.Stack()),
			)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "An unexpected error occurred", nil)
		}()
		next.ServeHTTP(w, r)
	})
}
