package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthResponse struct {
	Status string `json:"status"`
}

// Healthz returns 200 while db answers a ping and 503 otherwise. A nil db
// always reports healthy.
func Healthz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
	}
}
