package gateway

import (
	"net/http"
	"time"

	"github.com/flemzord/chatbot/internal/core"
)

// StatusResponse is the JSON response for GET /api/status.
type StatusResponse struct {
	Uptime     int64           `json:"uptime_seconds"`
	Modules    []core.ModuleID `json:"modules"` // compiled-in modules
	Processing bool            `json:"processing"`
	Turns      int             `json:"turns"`
	Backend    BackendHealth   `json:"backend"`
	Clients    int             `json:"websocket_clients"`
}

func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		modules := make([]core.ModuleID, 0, len(core.GetModules()))
		for _, info := range core.GetModules() {
			modules = append(modules, info.ID)
		}

		writeJSON(w, http.StatusOK, StatusResponse{
			Uptime:     int64(time.Since(g.startedAt) / time.Second),
			Modules:    modules,
			Processing: g.engine.Processing(),
			Turns:      len(g.engine.Transcript(0)),
			Backend:    backendHealth(g.engine.Health()),
			Clients:    g.hub.Len(),
		})
	}
}
