package handler

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// Checker is a dependency reported by health endpoint
type Checker interface {
	Name() string
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health reports state of dependencies
// 200 - every dependency is reachable;
// 503 - at least one dependency failed.
func Health(checkers ...Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checkers))}
		code := http.StatusOK

		for _, c := range checkers {
			if err := c.Ping(ctx); err != nil {
				resp.Checks[c.Name()] = err.Error()
				resp.Status = "unavailable"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[c.Name()] = "ok"
		}

		writeJSON(w, code, resp)
	}
}
