// Package service wires one node: the event bus, the consumers deriving
// state from it and the synthetic actors reacting to local actions.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/chorus/internal/adapters/repository"
	"github.com/okian/chorus/internal/adapters/transport"
	"github.com/okian/chorus/internal/domain/achievement"
	"github.com/okian/chorus/internal/domain/bots"
	"github.com/okian/chorus/internal/domain/bus"
	"github.com/okian/chorus/internal/domain/model"
	"github.com/okian/chorus/internal/domain/notify"
	"github.com/okian/chorus/internal/domain/presence"
	"github.com/okian/chorus/internal/domain/progress"
	"github.com/okian/chorus/pkg/clock"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/random"
)

// ErrNotStarted is returned by operations that need a running node.
var ErrNotStarted = errors.New("service not started")

// Service is one node.
type Service struct {
	mu sync.RWMutex

	// Core components
	bus      *bus.Bus
	presence *presence.Tracker
	progress *progress.Store
	engine   *achievement.Engine
	notifier *notify.Dispatcher
	bots     *bots.Scheduler
	activity *bots.Handle
	unsubs   []func()

	// Configuration
	nodeID        string
	userID        string
	queueSize     int
	typingTimeout time.Duration
	sharedStore   bool
	autonomous    bool
	store         repository.Store
	catalog       *achievement.Catalog
	botOpts       []bots.Option
	notifyOpts    []notify.Option

	// State
	started bool
	stopped bool

	clock  clock.Clock
	rand   random.Source
	logger logger.Logger
}

// New builds a node on top of t. Nothing runs until Start.
func New(t transport.Transport, opts ...Option) *Service {
	s := &Service{
		clock:  clock.Real(),
		logger: logger.Get().Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	if s.catalog == nil {
		s.catalog = achievement.DefaultCatalog()
	}
	if s.rand == nil {
		s.rand = random.Seeded()
	}

	busOpts := []bus.Option{bus.WithClock(s.clock), bus.WithLogger(s.logger.Named("bus"))}
	if s.nodeID != "" {
		busOpts = append(busOpts, bus.WithID(s.nodeID))
	}
	if s.queueSize > 0 {
		busOpts = append(busOpts, bus.WithQueueSize(s.queueSize))
	}
	s.bus = bus.New(t, busOpts...)

	presenceOpts := []presence.Option{presence.WithClock(s.clock), presence.WithLogger(s.logger.Named("presence"))}
	if s.typingTimeout > 0 {
		presenceOpts = append(presenceOpts, presence.WithTypingTimeout(s.typingTimeout))
	}
	s.presence = presence.New(presenceOpts...)

	s.progress = progress.New(s.store,
		progress.WithClock(s.clock),
		progress.WithLogger(s.logger.Named("progress")),
		progress.WithSharedStore(s.sharedStore),
	)
	s.engine = achievement.NewEngine(s.catalog, s.progress,
		achievement.WithClock(s.clock),
		achievement.WithLogger(s.logger.Named("achievement")),
	)

	notifyOpts := append([]notify.Option{
		notify.WithRecipient(s.userID),
		notify.WithRand(s.rand),
		notify.WithClock(s.clock),
		notify.WithLogger(s.logger.Named("notify")),
		notify.WithSharedStore(s.sharedStore),
	}, s.notifyOpts...)
	s.notifier = notify.New(s.store, notifyOpts...)

	botOpts := append([]bots.Option{
		bots.WithClock(s.clock),
		bots.WithRand(s.rand),
		bots.WithLogger(s.logger.Named("bots")),
	}, s.botOpts...)
	s.bots = bots.New(s.bus, botOpts...)

	return s
}

// Start subscribes the consumers and starts the bus. Autonomous synthetic
// activity starts too when enabled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return bus.ErrClosed
	}
	if s.started {
		return nil
	}
	if err := s.restore(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	s.unsubs = []func(){
		s.bus.On(model.EventPresenceUpdate, s.presence.HandleEvent),
		s.bus.On(model.EventProgressUpdate, s.onProgress),
		s.bus.On(model.EventNotification, s.onNotification),
		s.bus.On(model.EventClubUpdate, s.onNotification),
		s.bus.On(model.EventActivityUpdate, s.onNotification),
		s.bus.On(model.EventNewMessage, s.onAction),
		s.bus.On(model.EventVoteCast, s.onAction),
	}
	if err := s.bus.Start(ctx); err != nil {
		for _, unsub := range s.unsubs {
			unsub()
		}
		s.unsubs = nil
		return fmt.Errorf("start node: %w", err)
	}
	if s.autonomous {
		s.activity = s.bots.Start(ctx)
	}

	s.started = true
	s.logger.Info(ctx, "node started",
		logger.String("node", s.bus.ID()),
		logger.String("user", s.userID),
		logger.Int("badges", s.catalog.Len()),
		logger.Bool("autonomous", s.autonomous),
		logger.Bool("shared_store", s.sharedStore),
	)
	return nil
}

// restore warms the progress and notification caches from a private store.
func (s *Service) restore(ctx context.Context) error {
	users, err := s.progress.Preload(ctx)
	if err != nil {
		return err
	}
	inboxes, err := s.notifier.Preload(ctx)
	if err != nil {
		return err
	}
	if users > 0 || inboxes > 0 {
		s.logger.Info(ctx, "restored persisted state", logger.Int("users", users), logger.Int("inboxes", inboxes))
	}
	return nil
}

// Shutdown stops synthetic activity, drains the bus and cancels every
// presence timer. No timer is pending once it returns.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true
	s.logger.Info(ctx, "stopping node...", logger.String("node", s.bus.ID()))

	if s.activity != nil {
		s.activity.Stop()
	}
	s.bots.Shutdown()

	err := s.bus.Close(ctx)
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.presence.Shutdown()

	s.started = false
	s.logger.Info(ctx, "node stopped", logger.String("node", s.bus.ID()))
	return err
}

// ID returns the node id.
func (s *Service) ID() string {
	return s.bus.ID()
}

// UserID returns the local user this node acts for.
func (s *Service) UserID() string {
	return s.userID
}

// Emit publishes a domain action.
func (s *Service) Emit(ctx context.Context, name string, payload any) error {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	return s.bus.Emit(ctx, name, payload)
}

// Subscribe registers h for events named name on this node's dispatch loop.
func (s *Service) Subscribe(name string, h bus.Handler) (unsubscribe func()) {
	return s.bus.On(name, h)
}

// Flush waits until every event accepted so far has been handled.
func (s *Service) Flush(ctx context.Context) error {
	return s.bus.Flush(ctx)
}

// onProgress applies a progress delta, awards any newly earned badges and
// notifies the user about each one.
func (s *Service) onProgress(ctx context.Context, ev model.Event) error {
	if !s.owns(ev) {
		return nil
	}
	var u model.ProgressUpdate
	if err := ev.Decode(&u); err != nil {
		return fmt.Errorf("decode progress update: %w", err)
	}
	if err := s.progress.Apply(ctx, u); err != nil {
		return err
	}

	awards, err := s.engine.Evaluate(ctx, u.UserID)
	if err != nil {
		return err
	}
	var errs []error
	for _, a := range awards {
		if err := s.notifyBadge(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// notifyBadge hands a badge_earned notification straight to the local
// dispatcher. Every node derives awards itself, so it is not broadcast.
func (s *Service) notifyBadge(ctx context.Context, a achievement.Award) error {
	ev, err := localEvent(s.bus.ID(), model.EventNotification, a.EarnedAt, model.NotificationRequest{
		Kind:      model.NotifyBadgeEarned,
		UserID:    a.UserID,
		BadgeID:   a.Badge.ID,
		BadgeName: a.Badge.Name,
	})
	if err != nil {
		return err
	}
	_, err = s.notifier.Dispatch(ctx, ev)
	return err
}

func (s *Service) onNotification(ctx context.Context, ev model.Event) error {
	if !s.owns(ev) {
		return nil
	}
	return s.notifier.HandleEvent(ctx, ev)
}

// onAction lets synthetic actors react to real actions taken on this node.
func (s *Service) onAction(ctx context.Context, ev model.Event) error {
	if ev.OriginID != s.bus.ID() {
		return nil
	}
	switch ev.Name {
	case model.EventNewMessage:
		var m model.NewMessage
		if err := ev.Decode(&m); err != nil {
			return fmt.Errorf("decode new message: %w", err)
		}
		if m.Synthetic {
			return nil
		}
		s.bots.ReactToAction(ctx, bots.ActionDiscussionPost, bots.ActionContext{UserID: m.UserID, ClubID: m.ClubID})
	case model.EventVoteCast:
		var v model.VoteCast
		if err := ev.Decode(&v); err != nil {
			return fmt.Errorf("decode vote: %w", err)
		}
		if v.Synthetic {
			return nil
		}
		s.bots.ReactToAction(ctx, bots.ActionVoteCast, bots.ActionContext{UserID: v.UserID, ClubID: v.ClubID, BookID: v.BookID})
	}
	return nil
}

// owns reports whether this node persists state derived from ev. With a
// store shared between nodes only the originating node writes.
func (s *Service) owns(ev model.Event) bool {
	return !s.sharedStore || ev.OriginID == s.bus.ID()
}

// Presence returns the status of userID in contextID.
func (s *Service) Presence(userID, contextID string) (presence.Entry, bool) {
	return s.presence.GetPresence(userID, contextID)
}

// PresenceList returns every status recorded in contextID.
func (s *Service) PresenceList(contextID string) []presence.Entry {
	return s.presence.List(contextID)
}

// Notifications returns userID's notifications, newest first.
func (s *Service) Notifications(ctx context.Context, userID string) ([]notify.Notification, error) {
	return s.notifier.List(ctx, userID)
}

// UnreadCount returns how many notifications of userID are unread.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.notifier.UnreadCount(ctx, userID)
}

// MarkRead marks one notification read, or all of them when id is empty.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	if id == "" {
		return s.notifier.MarkAllRead(ctx, userID)
	}
	return s.notifier.MarkRead(ctx, userID, id)
}

// DeleteNotification removes one notification.
func (s *Service) DeleteNotification(ctx context.Context, userID, id string) error {
	return s.notifier.Delete(ctx, userID, id)
}

// Badges returns the badges userID has earned, oldest first.
func (s *Service) Badges(ctx context.Context, userID string) ([]achievement.Award, error) {
	return s.engine.Earned(ctx, userID)
}

// Catalog returns the badge catalog.
func (s *Service) Catalog() []achievement.BadgeDefinition {
	return s.catalog.All()
}

// Progress returns userID's progress snapshot.
func (s *Service) Progress(ctx context.Context, userID string) (progress.Snapshot, error) {
	return s.progress.Snapshot(ctx, userID)
}

// Pending returns the number of armed presence and scheduler timers.
func (s *Service) Pending() int {
	return s.presence.Pending() + s.bots.Pending()
}

// GetStats returns node statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subscribers := make(map[string]int)
	for _, name := range []string{
		model.EventPresenceUpdate, model.EventNewMessage, model.EventActivityUpdate, model.EventVoteCast,
		model.EventClubUpdate, model.EventNotification, model.EventProgressUpdate,
	} {
		subscribers[name] = s.bus.Subscribers(name)
	}

	return map[string]any{
		"node":            s.bus.ID(),
		"user":            s.userID,
		"started":         s.started,
		"autonomous":      s.autonomous,
		"sharedStore":     s.sharedStore,
		"subscribers":     subscribers,
		"presenceEntries": s.presence.Len(),
		"presenceTimers":  s.presence.Pending(),
		"schedulerTimers": s.bots.Pending(),
		"badges":          s.catalog.Len(),
	}
}

func localEvent(origin, name string, at time.Time, payload any) (model.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return model.Event{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return model.Event{Name: name, Payload: raw, OriginID: origin, Timestamp: at.UnixMilli()}, nil
}
