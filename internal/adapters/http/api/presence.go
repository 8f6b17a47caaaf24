package api

import (
	"errors"
	"net/http"
)

// PresenceHandler handles presence reads.
type PresenceHandler struct {
	deps PresenceDependencies
}

// NewPresenceHandler creates a new presence handler.
func NewPresenceHandler(deps PresenceDependencies) *PresenceHandler {
	return &PresenceHandler{deps: deps}
}

// HandleGetPresence handles GET /presence?context=&user= requests. Without a
// user it lists the whole context.
func (h *PresenceHandler) HandleGetPresence(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_presence"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	contextID := q.Get("context")
	if contextID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing context")))
		return
	}

	user := q.Get("user")
	if user == "" {
		writeJSON(w, http.StatusOK, h.deps.PresenceList(contextID))
		return
	}
	entry, ok := h.deps.Presence(user, contextID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", NewKind(op, ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
