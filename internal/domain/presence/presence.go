// Package presence tracks ephemeral per-user status inside a context.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/chorus/internal/domain/model"
	"github.com/okian/chorus/pkg/clock"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/metrics"
)

const defaultTypingTimeout = 3 * time.Second

var (
	// ErrInvalidStatus is returned for a status outside online, typing and idle.
	ErrInvalidStatus = errors.New("invalid presence status")
	// ErrMissingKey is returned when the user or context id is empty.
	ErrMissingKey = errors.New("user and context are required")
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("presence tracker closed")
)

// Entry is the current status of one user in one context.
type Entry struct {
	UserID      string               `json:"userId"`
	Status      model.PresenceStatus `json:"status"`
	ContextID   string               `json:"contextId"`
	LastUpdated time.Time            `json:"lastUpdated"`
}

type key struct {
	user    string
	context string
}

type state struct {
	entry Entry
	timer clock.Timer
	gen   uint64
}

// Tracker holds one entry per (user, context). Entries are overwritten, never removed.
type Tracker struct {
	mu      sync.Mutex
	entries map[key]*state
	pending int
	closed  bool

	typingTimeout time.Duration
	clock         clock.Clock
	logger        logger.Logger
}

// New creates an empty tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		entries:       make(map[key]*state),
		typingTimeout: defaultTypingTimeout,
		clock:         clock.Real(),
		logger:        logger.Get().Named("presence"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetPresence upserts the entry for (userID, contextID). Typing arms a single
// expiry timer that demotes the entry to idle; setting any status replaces a
// pending timer rather than stacking another.
func (t *Tracker) SetPresence(userID string, status model.PresenceStatus, contextID string) error {
	if userID == "" || contextID == "" {
		return ErrMissingKey
	}
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}

	k := key{user: userID, context: contextID}
	st, ok := t.entries[k]
	if !ok {
		st = &state{}
		t.entries[k] = st
		metrics.UpdatePresenceEntries(len(t.entries))
	}
	t.cancelLocked(st)

	st.gen++
	st.entry = Entry{
		UserID:      userID,
		Status:      status,
		ContextID:   contextID,
		LastUpdated: t.clock.Now(),
	}

	if status == model.StatusTyping {
		gen := st.gen
		st.timer = t.clock.AfterFunc(t.typingTimeout, func() { t.expire(k, gen) })
		t.pending++
		metrics.UpdatePendingTimers("presence", t.pending)
	}
	return nil
}

func (t *Tracker) expire(k key, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.entries[k]
	if !ok || st.gen != gen || st.timer == nil {
		return
	}
	st.timer = nil
	t.pending--
	metrics.UpdatePendingTimers("presence", t.pending)

	if st.entry.Status != model.StatusTyping {
		return
	}
	st.entry.Status = model.StatusIdle
	st.entry.LastUpdated = t.clock.Now()
	metrics.RecordPresenceExpiration()
}

func (t *Tracker) cancelLocked(st *state) {
	if st.timer == nil {
		return
	}
	st.timer.Stop()
	st.timer = nil
	t.pending--
	metrics.UpdatePendingTimers("presence", t.pending)
}

// GetPresence returns the entry for (userID, contextID).
func (t *Tracker) GetPresence(userID, contextID string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.entries[key{user: userID, context: contextID}]
	if !ok {
		return Entry{}, false
	}
	return st.entry, true
}

// List returns every entry of contextID ordered by user id.
func (t *Tracker) List(contextID string) []Entry {
	t.mu.Lock()
	out := make([]Entry, 0)
	for k, st := range t.entries {
		if k.context == contextID {
			out = append(out, st.entry)
		}
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// HandleEvent applies a presence_update event.
func (t *Tracker) HandleEvent(ctx context.Context, ev model.Event) error {
	var p model.PresenceUpdate
	if err := ev.Decode(&p); err != nil {
		return fmt.Errorf("decode presence update: %w", err)
	}
	if err := t.SetPresence(p.UserID, p.Status, p.ContextID); err != nil {
		return err
	}
	t.logger.Debug(ctx, "presence updated",
		logger.String("user", p.UserID),
		logger.String("status", string(p.Status)),
		logger.String("context", p.ContextID),
	)
	return nil
}

// Pending returns the number of armed expiry timers.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Len returns the number of tracked entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Shutdown cancels every expiry timer. Entries stay readable.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, st := range t.entries {
		t.cancelLocked(st)
	}
}
