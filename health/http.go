package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// LivenessHandler reports that the process is running.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// checkResponse is the JSON shape of one check in the readiness response.
type checkResponse struct {
	Status   string `json:"status"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

// ReadinessHandler runs all registered checks and reports 503 when any
// dependency is unavailable.
func ReadinessHandler(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		results := reg.CheckAll(ctx)
		status := Overall(results)

		body := struct {
			Status string                   `json:"status"`
			Checks map[string]checkResponse `json:"checks,omitempty"`
		}{
			Status: status.String(),
			Checks: make(map[string]checkResponse, len(results)),
		}
		for name, result := range results {
			cr := checkResponse{
				Status:   result.Status.String(),
				Duration: result.Duration.String(),
			}
			if result.Error != nil {
				cr.Error = result.Error.Error()
			}
			body.Checks[name] = cr
		}

		w.Header().Set("Content-Type", "application/json")
		if status == StatusHealthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(body)
	}
}
