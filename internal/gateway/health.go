package gateway

import (
	"net/http"
	"time"

	"github.com/flemzord/chatbot/internal/dispatch"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status  string        `json:"status"` // "ok" or "degraded"
	Backend BackendHealth `json:"backend"`
	Turns   int           `json:"turns"`
}

// BackendHealth reports the engine's view of the completion backend.
type BackendHealth struct {
	State     string    `json:"state"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since,omitzero"`
}

func backendHealth(h dispatch.Health) BackendHealth {
	return BackendHealth{
		State:     h.State.String(),
		Failures:  h.Failures,
		LastError: h.LastError,
		Since:     h.Since,
	}
}

// handleHealth returns 200 while the backend is healthy and 503 otherwise.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		h := g.engine.Health()
		resp := HealthResponse{
			Status:  "ok",
			Backend: backendHealth(h),
			Turns:   len(g.engine.Transcript(0)),
		}

		code := http.StatusOK
		if h.State != dispatch.StateHealthy {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}
