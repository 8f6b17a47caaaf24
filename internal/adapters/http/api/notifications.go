package api

import (
	"errors"
	"net/http"

	"github.com/okian/chorus/internal/domain/notify"
)

type notificationsResponse struct {
	Notifications []notify.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
}

// NotificationHandler handles notification reads and read-state changes.
type NotificationHandler struct {
	deps NotificationDependencies
}

// NewNotificationHandler creates a new notification handler.
func NewNotificationHandler(deps NotificationDependencies) *NotificationHandler {
	return &NotificationHandler{deps: deps}
}

// HandleNotifications serves GET and DELETE /notifications.
func (h *NotificationHandler) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodDelete:
		h.delete(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *NotificationHandler) list(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_notifications"
	user, ok := requireUser(w, r, op)
	if !ok {
		return
	}
	list, err := h.deps.Notifications(r.Context(), user)
	if err != nil {
		writeStoreError(w, op, err)
		return
	}
	unread, err := h.deps.UnreadCount(r.Context(), user)
	if err != nil {
		writeStoreError(w, op, err)
		return
	}
	if list == nil {
		list = []notify.Notification{}
	}
	writeJSON(w, http.StatusOK, notificationsResponse{Notifications: list, Unread: unread})
}

func (h *NotificationHandler) delete(w http.ResponseWriter, r *http.Request) {
	const op = "api.delete_notification"
	user, ok := requireUser(w, r, op)
	if !ok {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing id")))
		return
	}
	if err := h.deps.DeleteNotification(r.Context(), user, id); err != nil {
		writeStoreError(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMarkRead handles POST /notifications/read?user=[&id=]. Without an id
// every notification is marked read.
func (h *NotificationHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	const op = "api.mark_read"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	user, ok := requireUser(w, r, op)
	if !ok {
		return
	}
	if err := h.deps.MarkRead(r.Context(), user, r.URL.Query().Get("id")); err != nil {
		writeStoreError(w, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeStoreError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, notify.ErrMissingUser) {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	writeError(w, http.StatusInternalServerError, "internal", WrapKind(op, ErrInternal, err))
}
