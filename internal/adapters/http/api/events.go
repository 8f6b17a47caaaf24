package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	service "github.com/okian/chorus/internal/app"
	"github.com/okian/chorus/internal/domain/bus"
)

const maxEventName = 64

// eventRequest is the body of POST /events.
type eventRequest struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

func (e eventRequest) validate() error {
	name := strings.TrimSpace(e.Name)
	switch {
	case name == "":
		return errors.New("missing name")
	case len(name) > maxEventName:
		return errors.New("name too long")
	case name != e.Name:
		return errors.New("name must not contain surrounding spaces")
	case len(e.Payload) == 0 || string(e.Payload) == "null":
		return errors.New("missing payload")
	}
	if !json.Valid(e.Payload) {
		return errors.New("payload is not valid JSON")
	}
	return nil
}

type ackResponse struct {
	Status string `json:"status"`
}

// EventsHandler handles event requests.
type EventsHandler struct {
	deps EventDependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

// HandlePostEvent handles POST /events requests.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	err := h.deps.Emit(r.Context(), req.Name, req.Payload)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
	case errors.Is(err, bus.ErrPublish):
		// Delivered locally; other nodes did not get it.
		writeJSON(w, http.StatusAccepted, ackResponse{Status: "local_only"})
	case errors.Is(err, bus.ErrClosed), errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
	case errors.Is(err, bus.ErrEncode), errors.Is(err, bus.ErrEmptyName):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal", WrapKind(op, ErrInternal, err))
	}
}
