package server

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMiddleware puts a deadline on each request's context. Tool dispatch
// and transcript ingestion have to answer within the media layer's turn
// budget; cancellation is cooperative, handlers watch context.Done().
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
