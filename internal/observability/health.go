package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus is the payload returned by the health endpoint
type HealthStatus struct {
	Status         string                      `json:"status"`
	Service        string                      `json:"service"`
	Version        string                      `json:"version"`
	Model          string                      `json:"model"`
	ActiveSessions int                         `json:"active_sessions"`
	Timestamp      string                      `json:"timestamp"`
	Dependencies   map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// SessionCounter reports the number of currently active sessions.
// The session registry satisfies this.
type SessionCounter interface {
	Count() int
}

// HealthCheckHandler handles health check requests
func HealthCheckHandler(model string, sessions SessionCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{
			Status:         "healthy",
			Service:        "transcription-gateway",
			Version:        "1.0.0",
			Model:          model,
			ActiveSessions: sessions.Count(),
			Timestamp:      time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(status)
	}
}

// HealthCheckFunc probes one dependency for the readiness endpoint
type HealthCheckFunc func(ctx context.Context) (bool, error)

// ReadinessHandler handles readiness check requests.
// It accepts named health check functions for each dependency to avoid import cycles.
func ReadinessHandler(model string, sessions SessionCounter, checks map[string]HealthCheckFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dependencies := make(map[string]DependencyStatus)
		allHealthy := true
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		for name, check := range checks {
			if check == nil {
				continue
			}
			start := time.Now()
			healthy, err := check(ctx)
			latency := time.Since(start).Milliseconds()

			status := "healthy"
			message := ""
			if err != nil || !healthy {
				status = "unhealthy"
				allHealthy = false
				if err != nil {
					message = err.Error()
				}
			}

			dependencies[name] = DependencyStatus{
				Status:    status,
				Message:   message,
				LatencyMs: latency,
			}
		}

		status := HealthStatus{
			Status:         "ready",
			Service:        "transcription-gateway",
			Version:        "1.0.0",
			Model:          model,
			ActiveSessions: sessions.Count(),
			Timestamp:      time.Now().UTC().Format(time.RFC3339),
			Dependencies:   dependencies,
		}

		w.Header().Set("Content-Type", "application/json")
		if !allHealthy {
			status.Status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(status)
	}
}
