// Package notify turns bus events into per-user notifications and keeps
// their read state.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/chorus/internal/adapters/repository"
	"github.com/okian/chorus/internal/domain/model"
	"github.com/okian/chorus/pkg/clock"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/metrics"
	"github.com/okian/chorus/pkg/random"
)

const (
	keyPrefix = "notifications/"

	defaultActivitySuppression = 0.7
	defaultLimit               = 200
)

// Type classifies a notification.
type Type string

// Notification types.
const (
	TypeFriendRequest Type = "friend_request"
	TypeAchievement   Type = "achievement"
	TypeClubUpdate    Type = "club_update"
	TypeActivity      Type = "activity"
)

// Notification is one entry in a user's inbox.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	Timestamp time.Time `json:"timestamp"`
	ActionRef string    `json:"actionRef,omitempty"`
}

// Key returns the store key holding userID's notifications.
func Key(userID string) string {
	return keyPrefix + userID
}

// Dispatcher maps events to notifications and persists each user's inbox,
// newest first.
type Dispatcher struct {
	mu     sync.Mutex
	kv     repository.Store
	users  map[string][]Notification
	shared bool

	recipient   string
	suppression float64
	limit       int

	rand   random.Source
	clock  clock.Clock
	logger logger.Logger
}

// New creates a dispatcher persisting through kv.
func New(kv repository.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		kv:          kv,
		users:       make(map[string][]Notification),
		suppression: defaultActivitySuppression,
		limit:       defaultLimit,
		rand:        random.Seeded(),
		clock:       clock.Real(),
		logger:      logger.Get().Named("notify"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch creates the notification ev maps to. Events that map to nothing,
// lack a recipient, or are throttled return nil without error.
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.Event) (*Notification, error) {
	n, throttled, err := d.build(ev)
	if err != nil || n == nil {
		return nil, err
	}
	if throttled && d.rand.Float64() < d.suppression {
		metrics.RecordNotificationSuppressed(string(n.Type))
		d.logger.Debug(ctx, "activity notification suppressed", logger.String("user", n.UserID))
		return nil, nil
	}

	n.ID = uuid.NewString()
	n.Timestamp = d.clock.Now()
	err = d.mutate(ctx, n.UserID, func(list []Notification) ([]Notification, bool) {
		next := make([]Notification, 0, len(list)+1)
		next = append(next, *n)
		next = append(next, list...)
		if d.limit > 0 && len(next) > d.limit {
			next = next[:d.limit]
		}
		return next, true
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordNotificationCreated(string(n.Type))
	return n, nil
}

// HandleEvent dispatches ev, discarding the created notification.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev model.Event) error {
	_, err := d.Dispatch(ctx, ev)
	return err
}

// build maps ev to an unsaved notification. throttled reports whether the
// activity suppression applies.
func (d *Dispatcher) build(ev model.Event) (n *Notification, throttled bool, err error) {
	switch ev.Name {
	case model.EventNotification:
		var req model.NotificationRequest
		if err := ev.Decode(&req); err != nil {
			return nil, false, fmt.Errorf("decode notification: %w", err)
		}
		return fromRequest(req), false, nil

	case model.EventClubUpdate:
		var u model.ClubUpdate
		if err := ev.Decode(&u); err != nil {
			return nil, false, fmt.Errorf("decode club update: %w", err)
		}
		if u.UserID == "" {
			return nil, false, nil
		}
		title := u.ClubName
		if title == "" {
			title = "Club update"
		}
		return &Notification{
			UserID:    u.UserID,
			Type:      TypeClubUpdate,
			Title:     title,
			Message:   u.Message,
			ActionRef: ref("club", u.ClubID),
		}, false, nil

	case model.EventActivityUpdate:
		var a model.ActivityUpdate
		if err := ev.Decode(&a); err != nil {
			return nil, false, fmt.Errorf("decode activity update: %w", err)
		}
		user := a.UserID
		if user == "" {
			user = d.recipient
		}
		if user == "" || user == a.ActorID {
			return nil, false, nil
		}
		return &Notification{
			UserID:    user,
			Type:      TypeActivity,
			Title:     "Friend activity",
			Message:   activityMessage(a),
			ActionRef: ref("user", a.ActorID),
		}, true, nil
	}
	return nil, false, nil
}

func fromRequest(req model.NotificationRequest) *Notification {
	if req.UserID == "" {
		return nil
	}
	switch req.Kind {
	case model.NotifyFriendRequest:
		from := req.FromName
		if from == "" {
			from = req.FromUserID
		}
		return &Notification{
			UserID:    req.UserID,
			Type:      TypeFriendRequest,
			Title:     "New friend request",
			Message:   from + " sent you a friend request",
			ActionRef: ref("user", req.FromUserID),
		}
	case model.NotifyBadgeEarned:
		name := req.BadgeName
		if name == "" {
			name = req.BadgeID
		}
		return &Notification{
			UserID:    req.UserID,
			Type:      TypeAchievement,
			Title:     "Badge earned",
			Message:   "You earned the " + name + " badge",
			ActionRef: ref("badge", req.BadgeID),
		}
	}
	return nil
}

func activityMessage(a model.ActivityUpdate) string {
	actor := a.ActorName
	if actor == "" {
		actor = a.ActorID
	}
	switch a.Activity {
	case model.ActivityReadingUpdate:
		if a.Progress > 0 {
			return fmt.Sprintf("%s is %d%% through %s", actor, a.Progress, a.BookTitle)
		}
		return actor + " is reading " + a.BookTitle
	case model.ActivityRating:
		if a.Rating > 0 {
			return fmt.Sprintf("%s rated %s %d stars", actor, a.BookTitle, a.Rating)
		}
		return actor + " rated " + a.BookTitle
	case model.ActivityClubJoin:
		return actor + " joined " + a.ClubName
	}
	return actor + " has new activity"
}

func ref(kind, id string) string {
	if id == "" {
		return ""
	}
	return kind + "/" + id
}

// List returns userID's notifications, newest first.
func (d *Dispatcher) List(ctx context.Context, userID string) ([]Notification, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	list, err := d.loadLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append([]Notification(nil), list...), nil
}

// UnreadCount returns how many of userID's notifications are unread.
func (d *Dispatcher) UnreadCount(ctx context.Context, userID string) (int, error) {
	list, err := d.List(ctx, userID)
	if err != nil {
		return 0, err
	}
	unread := 0
	for _, n := range list {
		if !n.Read {
			unread++
		}
	}
	return unread, nil
}

// MarkRead marks one notification read. Unknown ids are ignored.
func (d *Dispatcher) MarkRead(ctx context.Context, userID, id string) error {
	return d.mutate(ctx, userID, func(list []Notification) ([]Notification, bool) {
		for i := range list {
			if list[i].ID == id && !list[i].Read {
				next := append([]Notification(nil), list...)
				next[i].Read = true
				return next, true
			}
		}
		return list, false
	})
}

// MarkAllRead marks every notification of userID read.
func (d *Dispatcher) MarkAllRead(ctx context.Context, userID string) error {
	return d.mutate(ctx, userID, func(list []Notification) ([]Notification, bool) {
		changed := false
		next := append([]Notification(nil), list...)
		for i := range next {
			if !next[i].Read {
				next[i].Read = true
				changed = true
			}
		}
		return next, changed
	})
}

// Delete removes one notification. Unknown ids are ignored.
func (d *Dispatcher) Delete(ctx context.Context, userID, id string) error {
	return d.mutate(ctx, userID, func(list []Notification) ([]Notification, bool) {
		for i := range list {
			if list[i].ID == id {
				next := make([]Notification, 0, len(list)-1)
				next = append(next, list[:i]...)
				next = append(next, list[i+1:]...)
				return next, true
			}
		}
		return list, false
	})
}

// Preload reads every persisted inbox into memory and returns how many were
// loaded. Undecodable entries are logged and skipped. A shared store is never
// cached, so Preload does nothing there.
func (d *Dispatcher) Preload(ctx context.Context) (int, error) {
	if d.shared {
		return 0, nil
	}
	entries, err := d.kv.List(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("preload notifications: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	loaded := 0
	for _, e := range entries {
		userID := strings.TrimPrefix(e.Key, keyPrefix)
		list, err := decodeInbox(userID, e.Value)
		if err != nil {
			d.logger.Warn(ctx, "skipping unreadable notifications", logger.String("key", e.Key), logger.Error(err))
			continue
		}
		d.users[userID] = list
		loaded++
	}
	return loaded, nil
}

// loadLocked returns the cached inbox, reading it from the store on first
// use. A shared store is read every time.
func (d *Dispatcher) loadLocked(ctx context.Context, userID string) ([]Notification, error) {
	if list, ok := d.users[userID]; ok && !d.shared {
		return list, nil
	}
	raw, err := d.kv.Get(ctx, Key(userID))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load notifications of %s: %w", userID, err)
	}
	list, err := decodeInbox(userID, raw)
	if err != nil {
		return nil, err
	}
	if !d.shared {
		d.users[userID] = list
	}
	return list, nil
}

func decodeInbox(userID string, raw []byte) ([]Notification, error) {
	if raw == nil {
		return nil, nil
	}
	var list []Notification
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode notifications of %s: %w", userID, err)
	}
	return list, nil
}

// mutate applies fn to userID's inbox and, when fn reports a change,
// persists the result before making it current. With a shared store the
// read, fn and the write run as one store update.
func (d *Dispatcher) mutate(ctx context.Context, userID string, fn func([]Notification) ([]Notification, bool)) error {
	if userID == "" {
		return ErrMissingUser
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.shared {
		var decodeErr error
		err := d.kv.Update(ctx, Key(userID), func(raw []byte) ([]byte, error) {
			cur, err := decodeInbox(userID, raw)
			decodeErr = err
			if err != nil {
				return nil, err
			}
			next, changed := fn(cur)
			if !changed {
				return nil, nil
			}
			return encodeInbox(userID, next)
		})
		if decodeErr != nil {
			return decodeErr
		}
		return d.persisted(ctx, userID, err)
	}

	cur, err := d.loadLocked(ctx, userID)
	if err != nil {
		return err
	}
	next, changed := fn(cur)
	if !changed {
		return nil
	}
	raw, err := encodeInbox(userID, next)
	if err != nil {
		return err
	}
	if err := d.persisted(ctx, userID, d.kv.Set(ctx, Key(userID), raw)); err != nil {
		return err
	}
	d.users[userID] = next
	return nil
}

func encodeInbox(userID string, list []Notification) ([]byte, error) {
	raw, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %w", ErrPersist, userID, err)
	}
	return raw, nil
}

// persisted logs and wraps store write failures.
func (d *Dispatcher) persisted(ctx context.Context, userID string, err error) error {
	if err == nil || errors.Is(err, ErrPersist) {
		return err
	}
	metrics.RecordStoreError("notifications")
	d.logger.Error(ctx, "failed to persist notifications", logger.String("user", userID), logger.Error(err))
	return fmt.Errorf("%w: %s: %w", ErrPersist, userID, err)
}
