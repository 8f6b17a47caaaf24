// Package progress keeps per-user progress snapshots derived from domain actions.
//
// Every mutation is written to the key-value store before the in-memory copy
// changes. A failed write leaves the previous snapshot in place.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/okian/chorus/internal/adapters/repository"
	"github.com/okian/chorus/internal/domain/model"
	"github.com/okian/chorus/pkg/clock"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/metrics"
)

const (
	keyPrefix   = "progress/"
	monthLayout = "2006-01"
)

var (
	// ErrPersist wraps failures to write a snapshot.
	ErrPersist = errors.New("persist progress")
	// ErrMissingUser is returned when no user id is given.
	ErrMissingUser = errors.New("user id is required")
	// ErrMissingGroup is returned when a group operation has no group id.
	ErrMissingGroup = errors.New("group id is required")
	// ErrInvalidMonth is returned for a month not formatted as YYYY-MM.
	ErrInvalidMonth = errors.New("invalid month")
	// ErrInvalidMinutes is returned for non-positive listening minutes.
	ErrInvalidMinutes = errors.New("listening minutes must be positive")
	// ErrUnknownKind is returned by Apply for an unsupported update kind.
	ErrUnknownKind = errors.New("unknown progress kind")
)

// Key returns the store key holding userID's snapshot.
func Key(userID string) string {
	return keyPrefix + userID
}

// Store owns the snapshots of every user seen by this node.
type Store struct {
	mu     sync.Mutex
	kv     repository.Store
	users  map[string]Snapshot
	shared bool

	clock  clock.Clock
	logger logger.Logger
}

// New creates a store persisting through kv.
func New(kv repository.Store, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		users:  make(map[string]Snapshot),
		clock:  clock.Real(),
		logger: logger.Get().Named("progress"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a copy of userID's progress. Unknown users get an empty snapshot.
func (s *Store) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	if userID == "" {
		return Snapshot{}, ErrMissingUser
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.loadLocked(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return cur.Clone(), nil
}

// loadLocked returns the cached snapshot, reading it from the store on first
// use. A shared store is read every time.
func (s *Store) loadLocked(ctx context.Context, userID string) (Snapshot, error) {
	if cur, ok := s.users[userID]; ok && !s.shared {
		return cur, nil
	}
	raw, err := s.kv.Get(ctx, Key(userID))
	if errors.Is(err, repository.ErrNotFound) {
		return newSnapshot(userID), nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load progress of %s: %w", userID, err)
	}
	snap, err := decodeSnapshot(userID, raw)
	if err != nil {
		return Snapshot{}, err
	}
	if !s.shared {
		s.users[userID] = snap
	}
	return snap, nil
}

func decodeSnapshot(userID string, raw []byte) (Snapshot, error) {
	snap := newSnapshot(userID)
	if raw == nil {
		return snap, nil
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode progress of %s: %w", userID, err)
	}
	if snap.Groups == nil {
		snap.Groups = make(map[string]GroupProgress)
	}
	if snap.EarnedBadges == nil {
		snap.EarnedBadges = make(map[string]EarnedBadge)
	}
	return snap, nil
}

// Preload reads every persisted snapshot into memory and returns how many
// were loaded. Undecodable entries are logged and skipped. A shared store is
// never cached, so Preload does nothing there.
func (s *Store) Preload(ctx context.Context) (int, error) {
	if s.shared {
		return 0, nil
	}
	entries, err := s.kv.List(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("preload progress: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := 0
	for _, e := range entries {
		userID := strings.TrimPrefix(e.Key, keyPrefix)
		snap, err := decodeSnapshot(userID, e.Value)
		if err != nil {
			s.logger.Warn(ctx, "skipping unreadable progress", logger.String("key", e.Key), logger.Error(err))
			continue
		}
		s.users[userID] = snap
		loaded++
	}
	return loaded, nil
}

// mutate applies fn to a copy of userID's snapshot, persists it, and only
// then makes it current. With a shared store the read, fn and the write run
// as one store update.
func (s *Store) mutate(ctx context.Context, userID string, fn func(*Snapshot, time.Time) error) error {
	if userID == "" {
		return ErrMissingUser
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shared {
		var applyErr error
		err := s.kv.Update(ctx, Key(userID), func(raw []byte) ([]byte, error) {
			cur, err := decodeSnapshot(userID, raw)
			if err != nil {
				applyErr = err
				return nil, err
			}
			_, data, err := s.advance(cur, fn)
			applyErr = err
			return data, err
		})
		if applyErr != nil {
			return applyErr
		}
		return s.persisted(ctx, userID, err)
	}

	cur, err := s.loadLocked(ctx, userID)
	if err != nil {
		return err
	}
	next, data, err := s.advance(cur, fn)
	if err != nil {
		return err
	}
	if err := s.persisted(ctx, userID, s.kv.Set(ctx, Key(userID), data)); err != nil {
		return err
	}
	s.users[userID] = next
	return nil
}

// advance applies fn to a copy of cur and encodes the result.
func (s *Store) advance(cur Snapshot, fn func(*Snapshot, time.Time) error) (Snapshot, []byte, error) {
	next := cur.Clone()
	now := s.clock.Now()
	if next.JoinedAt.IsZero() {
		next.JoinedAt = now
	}
	if err := fn(&next, now); err != nil {
		return Snapshot{}, nil, err
	}
	data, err := json.Marshal(next)
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("%w: encode %s: %w", ErrPersist, next.UserID, err)
	}
	return next, data, nil
}

// persisted logs and wraps store write failures.
func (s *Store) persisted(ctx context.Context, userID string, err error) error {
	if err == nil {
		return nil
	}
	metrics.RecordStoreError("progress")
	s.logger.Error(ctx, "failed to persist progress", logger.String("user", userID), logger.Error(err))
	return fmt.Errorf("%w: %s: %w", ErrPersist, userID, err)
}

func group(snap *Snapshot, groupID string, now time.Time) GroupProgress {
	g, ok := snap.Groups[groupID]
	if !ok {
		g = GroupProgress{JoinedAt: now}
	}
	return g
}

func addGenre(g *GroupProgress, genre string) {
	if genre == "" {
		return
	}
	if g.Genres == nil {
		g.Genres = make(map[string]bool)
	}
	g.Genres[genre] = true
}

// RecordBookCompleted counts a finished book and its genre in groupID.
func (s *Store) RecordBookCompleted(ctx context.Context, userID, groupID, genre string) error {
	if groupID == "" {
		return ErrMissingGroup
	}
	return s.mutate(ctx, userID, func(snap *Snapshot, now time.Time) error {
		g := group(snap, groupID, now)
		g.BooksCompleted++
		addGenre(&g, genre)
		snap.Groups[groupID] = g
		return nil
	})
}

// RecordClubBookCompleted counts a club read finished in month (YYYY-MM) and
// advances the monthly streak. A repeat month leaves the streak unchanged, the
// following month extends it, a gap resets it to one, and a month earlier than
// the last recorded one does not touch it.
func (s *Store) RecordClubBookCompleted(ctx context.Context, userID, groupID, month, genre string) error {
	if groupID == "" {
		return ErrMissingGroup
	}
	m, err := time.Parse(monthLayout, month)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidMonth, month)
	}
	return s.mutate(ctx, userID, func(snap *Snapshot, now time.Time) error {
		g := group(snap, groupID, now)
		g.BooksCompleted++
		addGenre(&g, genre)
		advanceStreak(&g, m)
		snap.Groups[groupID] = g
		return nil
	})
}

func advanceStreak(g *GroupProgress, m time.Time) {
	if g.LastCompletedMonth == "" {
		g.ConsecutiveMonthsCompleted = 1
		g.LastCompletedMonth = m.Format(monthLayout)
		return
	}
	last, err := time.Parse(monthLayout, g.LastCompletedMonth)
	if err != nil {
		g.ConsecutiveMonthsCompleted = 1
		g.LastCompletedMonth = m.Format(monthLayout)
		return
	}
	switch {
	case m.Equal(last), m.Before(last):
		return
	case m.Equal(last.AddDate(0, 1, 0)):
		g.ConsecutiveMonthsCompleted++
	default:
		g.ConsecutiveMonthsCompleted = 1
	}
	g.LastCompletedMonth = m.Format(monthLayout)
}

// RecordSession counts a held session and whether the user attended it.
func (s *Store) RecordSession(ctx context.Context, userID, groupID string, attended bool) error {
	if groupID == "" {
		return ErrMissingGroup
	}
	return s.mutate(ctx, userID, func(snap *Snapshot, now time.Time) error {
		g := group(snap, groupID, now)
		g.SessionsHeld++
		if attended {
			g.SessionsAttended++
		}
		snap.Groups[groupID] = g
		return nil
	})
}

// RecordShare counts a share in groupID.
func (s *Store) RecordShare(ctx context.Context, userID, groupID string) error {
	if groupID == "" {
		return ErrMissingGroup
	}
	return s.mutate(ctx, userID, func(snap *Snapshot, now time.Time) error {
		g := group(snap, groupID, now)
		g.Shares++
		snap.Groups[groupID] = g
		return nil
	})
}

// RecordDiscussionPost counts a discussion post in groupID.
func (s *Store) RecordDiscussionPost(ctx context.Context, userID, groupID string) error {
	if groupID == "" {
		return ErrMissingGroup
	}
	return s.mutate(ctx, userID, func(snap *Snapshot, now time.Time) error {
		g := group(snap, groupID, now)
		g.DiscussionPosts++
		snap.Groups[groupID] = g
		return nil
	})
}

// RecordClubJoined adds groupID to the user's clubs. Joining twice is a no-op.
func (s *Store) RecordClubJoined(ctx context.Context, userID, groupID string) error {
	if groupID == "" {
		return ErrMissingGroup
	}
	return s.mutate(ctx, userID, func(snap *Snapshot, now time.Time) error {
		snap.Groups[groupID] = group(snap, groupID, now)
		return nil
	})
}

// RecordListening adds one listening session of minutes.
func (s *Store) RecordListening(ctx context.Context, userID string, minutes int) error {
	if minutes <= 0 {
		return ErrInvalidMinutes
	}
	return s.mutate(ctx, userID, func(snap *Snapshot, _ time.Time) error {
		snap.Listening.MinutesListened += minutes
		snap.Listening.SessionsListened++
		return nil
	})
}

// AwardBadges marks ids as earned. Already earned ids are skipped; the newly
// earned badges are returned once they are persisted.
func (s *Store) AwardBadges(ctx context.Context, userID string, ids ...string) ([]EarnedBadge, error) {
	var awarded []EarnedBadge
	err := s.mutate(ctx, userID, func(snap *Snapshot, now time.Time) error {
		awarded = awarded[:0]
		for _, id := range ids {
			if id == "" || snap.HasBadge(id) {
				continue
			}
			b := EarnedBadge{BadgeID: id, EarnedAt: now}
			snap.EarnedBadges[id] = b
			awarded = append(awarded, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return awarded, nil
}

// Apply routes a progress_update payload to the matching record operation.
func (s *Store) Apply(ctx context.Context, u model.ProgressUpdate) error {
	switch u.Kind {
	case model.ProgressBookCompleted:
		return s.RecordBookCompleted(ctx, u.UserID, u.GroupID, u.Genre)
	case model.ProgressClubBookCompleted:
		return s.RecordClubBookCompleted(ctx, u.UserID, u.GroupID, u.Month, u.Genre)
	case model.ProgressSessionAttended:
		return s.RecordSession(ctx, u.UserID, u.GroupID, true)
	case model.ProgressSessionMissed:
		return s.RecordSession(ctx, u.UserID, u.GroupID, false)
	case model.ProgressShared:
		return s.RecordShare(ctx, u.UserID, u.GroupID)
	case model.ProgressDiscussionPost:
		return s.RecordDiscussionPost(ctx, u.UserID, u.GroupID)
	case model.ProgressListening:
		return s.RecordListening(ctx, u.UserID, u.Minutes)
	case model.ProgressClubJoined:
		return s.RecordClubJoined(ctx, u.UserID, u.GroupID)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, u.Kind)
	}
}

// HandleEvent applies a progress_update event.
func (s *Store) HandleEvent(ctx context.Context, ev model.Event) error {
	var u model.ProgressUpdate
	if err := ev.Decode(&u); err != nil {
		return fmt.Errorf("decode progress update: %w", err)
	}
	return s.Apply(ctx, u)
}
