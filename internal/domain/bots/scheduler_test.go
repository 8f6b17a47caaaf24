package bots_test

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/chorus/internal/domain/bots"
	"github.com/okian/chorus/internal/domain/model"
	"github.com/okian/chorus/pkg/clock"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/random"
)

type emitted struct {
	name    string
	payload any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) Emit(_ context.Context, name string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{name: name, payload: payload})
	return nil
}

func (r *recordingEmitter) all() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.events...)
}

func (r *recordingEmitter) names() []string {
	var out []string
	for _, e := range r.all() {
		out = append(out, e.name)
	}
	return out
}

var fiveActors = []bots.Actor{
	{ID: "a1", Name: "One"}, {ID: "a2", Name: "Two"}, {ID: "a3", Name: "Three"},
	{ID: "a4", Name: "Four"}, {ID: "a5", Name: "Five"},
}

func TestReactionBounds(t *testing.T) {
	Convey("Given a scheduler capped at three reactions", t, func() {
		em := &recordingEmitter{}
		clk := clock.NewManual(time.Unix(0, 0))

		Convey("When 1000 actions are reacted to with a seeded source", func() {
			s := bots.New(em,
				bots.WithActors(fiveActors...),
				bots.WithMaxReactions(3),
				bots.WithReactionProbability(0.5),
				bots.WithClock(clk),
				bots.WithRand(random.New(7)),
				bots.WithLogger(logger.Nop()),
			)
			defer s.Shutdown()

			seen := map[int]int{}
			for i := 0; i < 1000; i++ {
				action := bots.ActionDiscussionPost
				if i%2 == 1 {
					action = bots.ActionVoteCast
				}
				n := s.ReactToAction(context.Background(), action, bots.ActionContext{UserID: "reader", ClubID: "c1", BookID: "b1"})
				So(n, ShouldBeBetweenOrEqual, 0, 3)
				seen[n]++
			}

			Convey("Then counts stay within bounds and vary", func() {
				So(len(seen), ShouldBeGreaterThan, 1)
				So(seen[0]+seen[1]+seen[2]+seen[3], ShouldEqual, 1000)
			})
		})

		Convey("When there are fewer other actors than the cap", func() {
			s := bots.New(em,
				bots.WithActors(bots.Actor{ID: "reader"}, bots.Actor{ID: "a1"}),
				bots.WithMaxReactions(3),
				bots.WithReactionProbability(1),
				bots.WithClock(clk),
				bots.WithRand(random.New(1)),
				bots.WithLogger(logger.Nop()),
			)
			defer s.Shutdown()

			Convey("Then the acting user never reacts to themselves", func() {
				n := s.ReactToAction(context.Background(), bots.ActionVoteCast, bots.ActionContext{UserID: "reader", BookID: "b1"})
				So(n, ShouldEqual, 1)
				clk.Advance(time.Minute)
				events := em.all()
				So(len(events), ShouldEqual, 1)
				So(events[0].payload.(model.VoteCast).UserID, ShouldEqual, "a1")
			})
		})

		Convey("When reactions are certain", func() {
			s := bots.New(em,
				bots.WithActors(fiveActors...),
				bots.WithMaxReactions(3),
				bots.WithReactionProbability(1),
				bots.WithClock(clk),
				bots.WithRand(random.New(3)),
				bots.WithLogger(logger.Nop()),
			)
			defer s.Shutdown()

			Convey("Then exactly the cap is scheduled, each by a different actor", func() {
				So(s.ReactToAction(context.Background(), bots.ActionVoteCast, bots.ActionContext{BookID: "b1"}), ShouldEqual, 3)
				clk.Advance(time.Minute)
				voters := map[string]bool{}
				for _, e := range em.all() {
					voters[e.payload.(model.VoteCast).UserID] = true
				}
				So(len(voters), ShouldEqual, 3)
			})
		})

		Convey("When the action type is unknown", func() {
			s := bots.New(em, bots.WithClock(clk), bots.WithLogger(logger.Nop()))
			defer s.Shutdown()
			So(s.ReactToAction(context.Background(), "shrug", bots.ActionContext{}), ShouldEqual, 0)
			So(s.Pending(), ShouldEqual, 0)
		})
	})
}

func TestReactionSequence(t *testing.T) {
	Convey("Given a scripted scheduler", t, func() {
		em := &recordingEmitter{}
		clk := clock.NewManual(time.Unix(0, 0))
		// yes, actor index 0, delay at range start, no, no, then reply index 0
		src := random.NewScripted(0.1, 0, 0, 0.9, 0.9, 0)
		s := bots.New(em,
			bots.WithActors(fiveActors...),
			bots.WithMaxReactions(3),
			bots.WithReactionProbability(0.5),
			bots.WithReactionDelay(time.Second, 3*time.Second),
			bots.WithTypingDuration(2*time.Second),
			bots.WithClock(clk),
			bots.WithRand(src),
			bots.WithLogger(logger.Nop()),
		)
		defer s.Shutdown()

		Convey("When a discussion post is reacted to", func() {
			n := s.ReactToAction(context.Background(), bots.ActionDiscussionPost, bots.ActionContext{UserID: "reader", ClubID: "club-1"})
			So(n, ShouldEqual, 1)
			So(s.Pending(), ShouldEqual, 1)

			Convey("Then nothing is emitted before the reaction delay", func() {
				clk.Advance(999 * time.Millisecond)
				So(em.all(), ShouldBeEmpty)
			})

			Convey("Then the actor types, then posts and goes back online", func() {
				clk.Advance(time.Second)
				So(em.names(), ShouldResemble, []string{model.EventPresenceUpdate})
				typing := em.all()[0].payload.(model.PresenceUpdate)
				So(typing.UserID, ShouldEqual, "a1")
				So(typing.Status, ShouldEqual, model.StatusTyping)
				So(typing.ContextID, ShouldEqual, "club-1")
				So(typing.Synthetic, ShouldBeTrue)

				clk.Advance(2 * time.Second)
				So(em.names(), ShouldResemble, []string{
					model.EventPresenceUpdate, model.EventNewMessage, model.EventPresenceUpdate,
				})
				msg := em.all()[1].payload.(model.NewMessage)
				So(msg.Synthetic, ShouldBeTrue)
				So(msg.Text, ShouldNotBeBlank)
				So(em.all()[2].payload.(model.PresenceUpdate).Status, ShouldEqual, model.StatusOnline)
				So(s.Pending(), ShouldEqual, 0)
			})
		})
	})
}

func TestAutonomousActivity(t *testing.T) {
	Convey("Given a scheduler with a fixed activity delay", t, func() {
		em := &recordingEmitter{}
		clk := clock.NewManual(time.Unix(0, 0))
		s := bots.New(em,
			bots.WithActors(fiveActors...),
			bots.WithActivityDelay(time.Second, time.Second),
			bots.WithClock(clk),
			bots.WithRand(random.New(11)),
			bots.WithLogger(logger.Nop()),
		)

		Convey("When it is started", func() {
			h := s.Start(context.Background())
			So(s.Pending(), ShouldEqual, 1)

			Convey("Then it emits one synthetic activity per delay", func() {
				clk.Advance(3500 * time.Millisecond)
				events := em.all()
				So(len(events), ShouldEqual, 3)
				for _, e := range events {
					So(e.name, ShouldEqual, model.EventActivityUpdate)
					u := e.payload.(model.ActivityUpdate)
					So(u.Synthetic, ShouldBeTrue)
					So(u.ActorID, ShouldStartWith, "a")
					So(u.Activity, ShouldBeIn, model.ActivityReadingUpdate, model.ActivityRating, model.ActivityClubJoin)
				}
				So(s.Pending(), ShouldEqual, 1)
			})

			Convey("Then stopping it leaves no timers and no further events", func() {
				clk.Advance(time.Second)
				h.Stop()
				h.Stop()
				So(s.Pending(), ShouldEqual, 0)
				So(clk.Pending(), ShouldEqual, 0)
				before := len(em.all())
				clk.Advance(time.Hour)
				So(len(em.all()), ShouldEqual, before)
			})
		})

		Convey("When it shuts down with reactions in flight", func() {
			s.Start(context.Background())
			s.ReactToAction(context.Background(), bots.ActionDiscussionPost, bots.ActionContext{ClubID: "c"})
			s.Shutdown()

			Convey("Then every timer is gone and nothing is emitted", func() {
				So(s.Pending(), ShouldEqual, 0)
				So(clk.Pending(), ShouldEqual, 0)
				clk.Advance(time.Hour)
				So(em.all(), ShouldBeEmpty)
			})

			Convey("Then new reactions cannot be scheduled", func() {
				n := s.ReactToAction(context.Background(), bots.ActionVoteCast, bots.ActionContext{BookID: "b"})
				So(n, ShouldEqual, 0)
				So(s.Pending(), ShouldEqual, 0)
			})
		})
	})
}

func TestDelayClamping(t *testing.T) {
	Convey("Given a scheduler configured with zero and inverted delays", t, func() {
		em := &recordingEmitter{}
		clk := clock.NewManual(time.Unix(0, 0))
		s := bots.New(em,
			bots.WithActors(fiveActors...),
			bots.WithActivityDelay(0, 0),
			bots.WithReactionDelay(5*time.Second, time.Second),
			bots.WithReactionProbability(1),
			bots.WithMaxReactions(1),
			bots.WithClock(clk),
			bots.WithRand(random.NewScripted(0)),
			bots.WithLogger(logger.Nop()),
		)
		defer s.Shutdown()

		Convey("Then activity never fires with a zero delay", func() {
			h := s.Start(context.Background())
			defer h.Stop()
			clk.Advance(0)
			So(em.all(), ShouldBeEmpty)
			clk.Advance(time.Millisecond)
			So(len(em.all()), ShouldEqual, 1)
		})

		Convey("Then an inverted reaction range collapses to its minimum", func() {
			So(s.ReactToAction(context.Background(), bots.ActionVoteCast, bots.ActionContext{BookID: "b"}), ShouldEqual, 1)
			clk.Advance(5*time.Second - time.Millisecond)
			So(em.all(), ShouldBeEmpty)
			clk.Advance(time.Millisecond)
			So(len(em.all()), ShouldEqual, 1)
		})
	})
}
