package middleware

import (
	"context"
	"net/http"
)

type callerKey struct{}

// Caller is the authenticated API key behind a request.
type Caller struct {
	Name   string
	Prefix string
	Scopes []string
}

// WithCaller records c on ctx. Tests use it to act as a caller without
// going through Authenticate.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller recorded by Authenticate.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// KeyName returns the name of the calling key, used as the approver.
func KeyName(r *http.Request) (string, bool) {
	c, ok := CallerFrom(r.Context())
	return c.Name, ok && c.Name != ""
}
