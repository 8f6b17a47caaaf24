package api

import (
	"net/http"
)

// StatsProvider reports node statistics: identity, wiring and timer counts.
type StatsProvider interface {
	GetStats() map[string]any
}

// StatsHandler serves a node's statistics snapshot.
type StatsHandler struct {
	provider StatsProvider
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(provider StatsProvider) *StatsHandler {
	return &StatsHandler{provider: provider}
}

// HandleStats handles GET /stats requests.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	stats := h.provider.GetStats()
	if stats == nil {
		stats = map[string]any{}
	}
	writeJSON(w, http.StatusOK, stats)
}
