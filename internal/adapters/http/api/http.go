// Package api exposes a node over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/chorus/internal/domain/achievement"
	"github.com/okian/chorus/internal/domain/notify"
	"github.com/okian/chorus/internal/domain/presence"
	"github.com/okian/chorus/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	EventDependencies
	PresenceDependencies
	NotificationDependencies
	BadgeDependencies
	StatsProvider
}

// EventDependencies emits domain actions onto the bus.
type EventDependencies interface {
	Emit(ctx context.Context, name string, payload any) error
}

// PresenceDependencies reads presence state.
type PresenceDependencies interface {
	Presence(userID, contextID string) (presence.Entry, bool)
	PresenceList(contextID string) []presence.Entry
}

// NotificationDependencies reads and updates notifications.
type NotificationDependencies interface {
	Notifications(ctx context.Context, userID string) ([]notify.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, id string) error
	DeleteNotification(ctx context.Context, userID, id string) error
}

// BadgeDependencies reads the catalog and earned badges.
type BadgeDependencies interface {
	Catalog() []achievement.BadgeDefinition
	Badges(ctx context.Context, userID string) ([]achievement.Award, error)
}

// Server wires HTTP routes for the node API.
type Server struct {
	healthHandler       *HealthHandler
	statsHandler        *StatsHandler
	eventsHandler       *EventsHandler
	presenceHandler     *PresenceHandler
	notificationHandler *NotificationHandler
	badgeHandler        *BadgeHandler
	logger              logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:       NewHealthHandler(),
		statsHandler:        NewStatsHandler(deps),
		eventsHandler:       NewEventsHandler(deps),
		presenceHandler:     NewPresenceHandler(deps),
		notificationHandler: NewNotificationHandler(deps),
		badgeHandler:        NewBadgeHandler(deps),
		logger:              logger.Get().Named("http"),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	route := func(path, endpoint string, h http.HandlerFunc) {
		mux.HandleFunc(path, RecoverMiddleware(MetricsMiddleware(h, endpoint), s.logger))
	}
	route("/healthz", "healthz", s.healthHandler.HandleHealth)
	route("/stats", "stats", s.statsHandler.HandleStats)
	route("/events", "events", s.eventsHandler.HandlePostEvent)
	route("/presence", "presence", s.presenceHandler.HandleGetPresence)
	route("/notifications", "notifications", s.notificationHandler.HandleNotifications)
	route("/notifications/read", "notifications_read", s.notificationHandler.HandleMarkRead)
	route("/badges", "badges", s.badgeHandler.HandleGetBadges)
	mux.Handle("/metrics", s.healthHandler.MetricsHandler())
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// requireUser reads the user query parameter or answers 400.
func requireUser(w http.ResponseWriter, r *http.Request, op string) (string, bool) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errMissingUser))
		return "", false
	}
	return user, true
}
