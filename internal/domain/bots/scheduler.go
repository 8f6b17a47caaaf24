// Package bots drives synthetic actors that make a club feel busy.
//
// The scheduler owns every timer it creates. Autonomous activity runs until
// its Handle is stopped; reactions to real user actions are bounded in count
// and delay. All randomness comes from an injected source.
package bots

import (
	"context"
	"sync"
	"time"

	"github.com/okian/chorus/internal/domain/model"
	"github.com/okian/chorus/pkg/clock"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/metrics"
	"github.com/okian/chorus/pkg/random"
)

// Action types a real user can perform that synthetic actors react to.
const (
	ActionDiscussionPost = "discussion_post"
	ActionVoteCast       = "vote_cast"
)

const (
	minDelay = time.Millisecond

	defaultActivityMin   = 8 * time.Second
	defaultActivityMax   = 20 * time.Second
	defaultReactionMin   = time.Second
	defaultReactionMax   = 5 * time.Second
	defaultTyping        = 2 * time.Second
	defaultMaxReactions  = 3
	defaultProbability   = 0.5
	activityRatingLevels = 5
	activityProgressMax  = 100
)

var activityKinds = []string{
	model.ActivityReadingUpdate,
	model.ActivityRating,
	model.ActivityClubJoin,
}

var replies = []string{
	"Totally agree, that chapter stayed with me too.",
	"Interesting take. I read it the other way round.",
	"Ha, I was about to say the same thing!",
	"The ending made a lot more sense after that.",
	"Adding this to my notes for the next meeting.",
}

// Actor is a synthetic community member.
type Actor struct {
	ID   string `koanf:"id" json:"id"`
	Name string `koanf:"name" json:"name"`
}

// ActionContext describes the real action being reacted to.
type ActionContext struct {
	UserID string
	ClubID string
	BookID string
}

// Emitter publishes events. The bus satisfies it.
type Emitter interface {
	Emit(ctx context.Context, name string, payload any) error
}

type delayRange struct {
	lo, hi time.Duration
}

// newDelayRange clamps lo to at least 1ms and hi to at least lo.
func newDelayRange(lo, hi time.Duration) delayRange {
	if lo < minDelay {
		lo = minDelay
	}
	if hi < lo {
		hi = lo
	}
	return delayRange{lo: lo, hi: hi}
}

func (r delayRange) draw(src random.Source) time.Duration {
	span := r.hi - r.lo
	if span <= 0 {
		return r.lo
	}
	return r.lo + time.Duration(src.Float64()*float64(span))
}

// Scheduler produces synthetic activity and reactions.
type Scheduler struct {
	emitter Emitter
	actors  []Actor
	books   []string
	clubs   []string

	activity     delayRange
	reaction     delayRange
	typing       time.Duration
	maxReactions int
	probability  float64

	clock  clock.Clock
	rand   random.Source
	logger logger.Logger

	// fireMu is held while a timer callback emits, so Stop and Shutdown
	// return only after any in-flight emission has finished.
	fireMu sync.Mutex

	mu     sync.Mutex
	timers map[uint64]clock.Timer
	nextID uint64
	closed bool
}

// New creates a scheduler emitting through e.
func New(e Emitter, opts ...Option) *Scheduler {
	s := &Scheduler{
		emitter:      e,
		actors:       DefaultActors(),
		books:        []string{"The Left Hand of Darkness", "Middlemarch", "Piranesi", "Beloved"},
		clubs:        []string{"Sci-Fi Circle", "Classics Club", "Night Readers"},
		activity:     newDelayRange(defaultActivityMin, defaultActivityMax),
		reaction:     newDelayRange(defaultReactionMin, defaultReactionMax),
		typing:       defaultTyping,
		maxReactions: defaultMaxReactions,
		probability:  defaultProbability,
		clock:        clock.Real(),
		logger:       logger.Get().Named("bots"),
		timers:       make(map[uint64]clock.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rand == nil {
		s.rand = random.Seeded()
	}
	return s
}

// DefaultActors returns the built-in synthetic community.
func DefaultActors() []Actor {
	return []Actor{
		{ID: "bot-ada", Name: "Ada"},
		{ID: "bot-basil", Name: "Basil"},
		{ID: "bot-cleo", Name: "Cleo"},
		{ID: "bot-dev", Name: "Dev"},
		{ID: "bot-elif", Name: "Elif"},
	}
}

// schedule arms f after d and tracks the timer. It returns 0 once closed.
func (s *Scheduler) schedule(d time.Duration, f func()) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	s.nextID++
	id := s.nextID
	s.timers[id] = s.clock.AfterFunc(d, func() { s.fire(id, f) })
	metrics.UpdatePendingTimers("bots", len(s.timers))
	return id
}

func (s *Scheduler) fire(id uint64, f func()) {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()

	s.mu.Lock()
	_, live := s.timers[id]
	delete(s.timers, id)
	closed := s.closed
	metrics.UpdatePendingTimers("bots", len(s.timers))
	s.mu.Unlock()

	if !live || closed {
		return
	}
	f()
}

func (s *Scheduler) cancel(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
		metrics.UpdatePendingTimers("bots", len(s.timers))
	}
}

func (s *Scheduler) emit(name string, payload any) {
	ctx := context.Background()
	if err := s.emitter.Emit(ctx, name, payload); err != nil {
		s.logger.Warn(ctx, "synthetic emit failed", logger.String("event", name), logger.Error(err))
	}
}

// Handle controls one autonomous activity loop.
type Handle struct {
	s       *Scheduler
	timerID uint64
	stopped bool
}

// Start begins autonomous activity. Each tick emits one activity_update from a
// random actor and re-arms after a delay drawn from the activity range.
func (s *Scheduler) Start(ctx context.Context) *Handle {
	h := &Handle{s: s}

	s.fireMu.Lock()
	defer s.fireMu.Unlock()
	if len(s.actors) == 0 {
		h.stopped = true
		s.logger.Warn(ctx, "no synthetic actors configured, autonomous activity disabled")
		return h
	}
	h.timerID = s.schedule(s.activity.draw(s.rand), h.tick)
	s.logger.Info(ctx, "autonomous activity started",
		logger.Int("actors", len(s.actors)),
		logger.Duration("min_delay", s.activity.lo),
		logger.Duration("max_delay", s.activity.hi),
	)
	return h
}

// tick runs with fireMu held.
func (h *Handle) tick() {
	if h.stopped {
		return
	}
	s := h.s
	actor := s.actors[s.rand.IntN(len(s.actors))]
	kind := activityKinds[s.rand.IntN(len(activityKinds))]

	u := model.ActivityUpdate{
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Activity:  kind,
		Synthetic: true,
	}
	switch kind {
	case model.ActivityReadingUpdate:
		u.BookTitle = s.books[s.rand.IntN(len(s.books))]
		u.Progress = s.rand.IntN(activityProgressMax + 1)
	case model.ActivityRating:
		u.BookTitle = s.books[s.rand.IntN(len(s.books))]
		u.Rating = 1 + s.rand.IntN(activityRatingLevels)
	case model.ActivityClubJoin:
		u.ClubName = s.clubs[s.rand.IntN(len(s.clubs))]
	}

	s.emit(model.EventActivityUpdate, u)
	metrics.RecordSyntheticActivity(kind)

	h.timerID = s.schedule(s.activity.draw(s.rand), h.tick)
}

// Stop cancels the pending tick. No activity is emitted after Stop returns.
func (h *Handle) Stop() {
	s := h.s
	s.fireMu.Lock()
	defer s.fireMu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	s.cancel(h.timerID)
}

// ReactToAction decides how many synthetic actors react to a real action and
// schedules their reactions. It returns the number scheduled, which never
// exceeds the configured maximum or the number of other actors.
func (s *Scheduler) ReactToAction(ctx context.Context, actionType string, ac ActionContext) int {
	if actionType != ActionDiscussionPost && actionType != ActionVoteCast {
		return 0
	}

	candidates := make([]Actor, 0, len(s.actors))
	for _, a := range s.actors {
		if a.ID != ac.UserID {
			candidates = append(candidates, a)
		}
	}
	limit := min(s.maxReactions, len(candidates))

	scheduled := 0
	for i := 0; i < limit; i++ {
		if s.rand.Float64() >= s.probability {
			continue
		}
		idx := s.rand.IntN(len(candidates))
		actor := candidates[idx]
		candidates = append(candidates[:idx:idx], candidates[idx+1:]...)
		delay := s.reaction.draw(s.rand)

		var id uint64
		switch actionType {
		case ActionDiscussionPost:
			id = s.schedule(delay, func() { s.startReply(actor, ac) })
		case ActionVoteCast:
			id = s.schedule(delay, func() { s.echoVote(actor, ac) })
		}
		if id == 0 {
			break
		}
		scheduled++
	}

	metrics.RecordReactionsScheduled(actionType, scheduled)
	s.logger.Debug(ctx, "reactions scheduled",
		logger.String("action", actionType),
		logger.Int("count", scheduled),
	)
	return scheduled
}

func (s *Scheduler) startReply(actor Actor, ac ActionContext) {
	s.emit(model.EventPresenceUpdate, model.PresenceUpdate{
		UserID:    actor.ID,
		Status:    model.StatusTyping,
		ContextID: ac.ClubID,
		Synthetic: true,
	})
	text := replies[s.rand.IntN(len(replies))]
	s.schedule(s.typing, func() {
		s.emit(model.EventNewMessage, model.NewMessage{
			ClubID:    ac.ClubID,
			UserID:    actor.ID,
			UserName:  actor.Name,
			Text:      text,
			Synthetic: true,
		})
		s.emit(model.EventPresenceUpdate, model.PresenceUpdate{
			UserID:    actor.ID,
			Status:    model.StatusOnline,
			ContextID: ac.ClubID,
			Synthetic: true,
		})
	})
}

func (s *Scheduler) echoVote(actor Actor, ac ActionContext) {
	s.emit(model.EventVoteCast, model.VoteCast{
		BookID:    ac.BookID,
		ClubID:    ac.ClubID,
		UserID:    actor.ID,
		Synthetic: true,
	})
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Shutdown cancels every timer. Nothing is emitted after it returns and no
// further timers can be armed.
func (s *Scheduler) Shutdown() {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	metrics.UpdatePendingTimers("bots", 0)
}
