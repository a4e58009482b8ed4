// Package cid propagates a correlation id through request contexts and onto
// audit log entries. The id is read from a configurable header when present
// and generated otherwise.
package cid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// DefaultHeader is the header carrying the correlation id unless configured
// otherwise.
const DefaultHeader = "X-Correlation-ID"

type contextKey string

const cidKey contextKey = "correlation_id"

// Generator produces a new correlation id. Replaceable at configuration time.
type Generator func() string

// NewID is the default generator.
func NewID() string {
	return uuid.NewString()
}

// WithCID attaches a correlation id to the context.
func WithCID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cidKey, id)
}

// FromContext returns the correlation id, or empty when none is set.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(cidKey).(string); ok {
		return id
	}
	return ""
}

// Middleware reads the correlation id from the request header, generating one
// when absent, and echoes it on the response.
func Middleware(header string, generate Generator) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultHeader
	}
	if generate == nil {
		generate = NewID
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(header)
			if id == "" {
				id = generate()
			}
			w.Header().Set(header, id)
			next.ServeHTTP(w, r.WithContext(WithCID(r.Context(), id)))
		})
	}
}
