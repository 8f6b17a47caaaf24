package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/chorus/internal/adapters/repository"
	"github.com/okian/chorus/internal/domain/model"
	"github.com/okian/chorus/internal/domain/notify"
	"github.com/okian/chorus/pkg/clock"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/random"
)

var start = time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)

func event(name string, payload any) model.Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return model.Event{Name: name, Payload: raw, OriginID: "node-a", Timestamp: start.UnixMilli()}
}

func friendRequest(user string) model.Event {
	return event(model.EventNotification, model.NotificationRequest{
		Kind: model.NotifyFriendRequest, UserID: user, FromUserID: "u9", FromName: "Maya",
	})
}

// brokenStore fails every Set while fail is true.
type brokenStore struct {
	*repository.MemoryStore
	fail bool
}

func (b *brokenStore) Set(ctx context.Context, key string, value []byte) error {
	if b.fail {
		return repository.ErrWrite
	}
	return b.MemoryStore.Set(ctx, key, value)
}

func TestDispatchMapping(t *testing.T) {
	Convey("Given a dispatcher that never throttles", t, func() {
		ctx := context.Background()
		clk := clock.NewManual(start)
		d := notify.New(repository.NewMemoryStore(),
			notify.WithActivitySuppression(0),
			notify.WithRecipient("me"),
			notify.WithClock(clk),
			notify.WithLogger(logger.Nop()),
		)

		Convey("A friend request maps to friend_request", func() {
			n, err := d.Dispatch(ctx, friendRequest("u1"))
			So(err, ShouldBeNil)
			So(n, ShouldNotBeNil)
			So(n.Type, ShouldEqual, notify.TypeFriendRequest)
			So(n.UserID, ShouldEqual, "u1")
			So(n.Message, ShouldContainSubstring, "Maya")
			So(n.ActionRef, ShouldEqual, "user/u9")
			So(n.ID, ShouldNotBeBlank)
			So(n.Read, ShouldBeFalse)
			So(n.Timestamp.Equal(start), ShouldBeTrue)
		})

		Convey("A badge_earned request maps to achievement", func() {
			n, err := d.Dispatch(ctx, event(model.EventNotification, model.NotificationRequest{
				Kind: model.NotifyBadgeEarned, UserID: "u1", BadgeID: "steady-reader", BadgeName: "Steady Reader",
			}))
			So(err, ShouldBeNil)
			So(n.Type, ShouldEqual, notify.TypeAchievement)
			So(n.Message, ShouldContainSubstring, "Steady Reader")
			So(n.ActionRef, ShouldEqual, "badge/steady-reader")
		})

		Convey("A club update maps to club_update", func() {
			n, err := d.Dispatch(ctx, event(model.EventClubUpdate, model.ClubUpdate{
				UserID: "u1", ClubID: "c1", ClubName: "Night Owls", Message: "Meeting moved to Friday",
			}))
			So(err, ShouldBeNil)
			So(n.Type, ShouldEqual, notify.TypeClubUpdate)
			So(n.Title, ShouldEqual, "Night Owls")
			So(n.Message, ShouldEqual, "Meeting moved to Friday")
		})

		Convey("An activity update without a recipient goes to the configured user", func() {
			n, err := d.Dispatch(ctx, event(model.EventActivityUpdate, model.ActivityUpdate{
				ActorID: "bot-1", ActorName: "Ada", Activity: model.ActivityRating, BookTitle: "Dune", Rating: 5,
			}))
			So(err, ShouldBeNil)
			So(n.Type, ShouldEqual, notify.TypeActivity)
			So(n.UserID, ShouldEqual, "me")
			So(n.Message, ShouldEqual, "Ada rated Dune 5 stars")
		})

		Convey("Events that map to nothing produce no notification", func() {
			for _, ev := range []model.Event{
				event(model.EventVoteCast, model.VoteCast{BookID: "b1"}),
				event("unheard_of", map[string]string{"x": "y"}),
				event(model.EventNotification, model.NotificationRequest{Kind: "wave", UserID: "u1"}),
				event(model.EventNotification, model.NotificationRequest{Kind: model.NotifyFriendRequest}),
				event(model.EventClubUpdate, model.ClubUpdate{ClubID: "c1"}),
			} {
				n, err := d.Dispatch(ctx, ev)
				So(err, ShouldBeNil)
				So(n, ShouldBeNil)
			}
		})

		Convey("An undecodable payload is an error", func() {
			n, err := d.Dispatch(ctx, model.Event{Name: model.EventClubUpdate, Payload: json.RawMessage(`[1,2]`), OriginID: "x"})
			So(err, ShouldNotBeNil)
			So(n, ShouldBeNil)
		})
	})
}

func TestActivityThrottle(t *testing.T) {
	Convey("Given activity updates and the default suppression", t, func() {
		ctx := context.Background()
		ev := event(model.EventActivityUpdate, model.ActivityUpdate{
			UserID: "u1", ActorID: "bot-1", ActorName: "Ada", Activity: model.ActivityReadingUpdate, BookTitle: "Emma",
		})

		Convey("When many are dispatched with a seeded source", func() {
			d := notify.New(repository.NewMemoryStore(),
				notify.WithRand(random.New(7)),
				notify.WithLimit(10),
				notify.WithLogger(logger.Nop()),
			)
			const trials = 10000
			created := 0
			for range trials {
				n, err := d.Dispatch(ctx, ev)
				So(err, ShouldBeNil)
				if n != nil {
					created++
				}
			}

			Convey("Then roughly thirty percent get through", func() {
				So(created, ShouldBeBetween, 2800, 3200)
			})
		})

		Convey("When the draw falls below the suppression probability it is dropped", func() {
			d := notify.New(repository.NewMemoryStore(),
				notify.WithRand(random.NewScripted(0.69, 0.7)),
				notify.WithLogger(logger.Nop()),
			)
			first, _ := d.Dispatch(ctx, ev)
			second, _ := d.Dispatch(ctx, ev)
			So(first, ShouldBeNil)
			So(second, ShouldNotBeNil)
		})

		Convey("Other notification types are never throttled", func() {
			d := notify.New(repository.NewMemoryStore(),
				notify.WithActivitySuppression(1),
				notify.WithLogger(logger.Nop()),
			)
			n, err := d.Dispatch(ctx, friendRequest("u1"))
			So(err, ShouldBeNil)
			So(n, ShouldNotBeNil)
		})
	})
}

func TestReadState(t *testing.T) {
	Convey("Given three notifications for one user", t, func() {
		ctx := context.Background()
		clk := clock.NewManual(start)
		kv := repository.NewMemoryStore()
		d := notify.New(kv, notify.WithClock(clk), notify.WithLogger(logger.Nop()))

		var ids []string
		for range 3 {
			n, err := d.Dispatch(ctx, friendRequest("u1"))
			So(err, ShouldBeNil)
			ids = append(ids, n.ID)
			clk.Advance(time.Minute)
		}

		Convey("Then List is newest first", func() {
			list, err := d.List(ctx, "u1")
			So(err, ShouldBeNil)
			So(len(list), ShouldEqual, 3)
			So(list[0].ID, ShouldEqual, ids[2])
			So(list[2].ID, ShouldEqual, ids[0])
		})

		Convey("Then MarkRead is idempotent and ignores unknown ids", func() {
			So(d.MarkRead(ctx, "u1", ids[1]), ShouldBeNil)
			So(d.MarkRead(ctx, "u1", ids[1]), ShouldBeNil)
			So(d.MarkRead(ctx, "u1", "missing"), ShouldBeNil)
			unread, err := d.UnreadCount(ctx, "u1")
			So(err, ShouldBeNil)
			So(unread, ShouldEqual, 2)
		})

		Convey("Then MarkAllRead clears the unread count", func() {
			So(d.MarkAllRead(ctx, "u1"), ShouldBeNil)
			So(d.MarkAllRead(ctx, "u1"), ShouldBeNil)
			unread, _ := d.UnreadCount(ctx, "u1")
			So(unread, ShouldEqual, 0)
		})

		Convey("Then Delete removes exactly one entry", func() {
			So(d.Delete(ctx, "u1", ids[0]), ShouldBeNil)
			So(d.Delete(ctx, "u1", ids[0]), ShouldBeNil)
			list, _ := d.List(ctx, "u1")
			So(len(list), ShouldEqual, 2)
		})

		Convey("Then a fresh dispatcher loads the persisted inbox", func() {
			So(d.MarkRead(ctx, "u1", ids[0]), ShouldBeNil)
			So(kv.Set(ctx, notify.Key("broken"), []byte("{")), ShouldBeNil)
			other := notify.New(kv, notify.WithLogger(logger.Nop()))
			loaded, err := other.Preload(ctx)
			So(err, ShouldBeNil)
			So(loaded, ShouldEqual, 1)
			list, _ := other.List(ctx, "u1")
			So(len(list), ShouldEqual, 3)
			So(list[2].Read, ShouldBeTrue)
		})

		Convey("Then missing users are rejected", func() {
			_, err := d.List(ctx, "")
			So(errors.Is(err, notify.ErrMissingUser), ShouldBeTrue)
		})
	})
}

func TestLimit(t *testing.T) {
	Convey("Given a dispatcher keeping two notifications", t, func() {
		ctx := context.Background()
		d := notify.New(repository.NewMemoryStore(), notify.WithLimit(2), notify.WithLogger(logger.Nop()))
		var last *notify.Notification
		for range 3 {
			n, err := d.Dispatch(ctx, friendRequest("u1"))
			So(err, ShouldBeNil)
			last = n
		}

		Convey("Then the oldest is dropped", func() {
			list, _ := d.List(ctx, "u1")
			So(len(list), ShouldEqual, 2)
			So(list[0].ID, ShouldEqual, last.ID)
		})
	})
}

func TestWriteThenConfirm(t *testing.T) {
	Convey("Given a store that starts failing", t, func() {
		ctx := context.Background()
		kv := &brokenStore{MemoryStore: repository.NewMemoryStore()}
		d := notify.New(kv, notify.WithLogger(logger.Nop()))
		n, err := d.Dispatch(ctx, friendRequest("u1"))
		So(err, ShouldBeNil)
		kv.fail = true

		Convey("When a new notification is dispatched", func() {
			created, err := d.Dispatch(ctx, friendRequest("u1"))

			Convey("Then the error wraps ErrPersist and the inbox is unchanged", func() {
				So(errors.Is(err, notify.ErrPersist), ShouldBeTrue)
				So(errors.Is(err, repository.ErrWrite), ShouldBeTrue)
				So(created, ShouldBeNil)
				list, _ := d.List(ctx, "u1")
				So(len(list), ShouldEqual, 1)
			})
		})

		Convey("When a notification is marked read", func() {
			err := d.MarkRead(ctx, "u1", n.ID)

			Convey("Then it stays unread", func() {
				So(errors.Is(err, notify.ErrPersist), ShouldBeTrue)
				unread, _ := d.UnreadCount(ctx, "u1")
				So(unread, ShouldEqual, 1)
			})
		})

		Convey("When a no-op operation runs nothing is written", func() {
			So(d.MarkRead(ctx, "u1", "missing"), ShouldBeNil)
			So(d.Delete(ctx, "u1", "missing"), ShouldBeNil)
		})
	})
}

func TestSharedStore(t *testing.T) {
	Convey("Given two dispatchers sharing one key-value store", t, func() {
		ctx := context.Background()
		kv := repository.NewMemoryStore()
		a := notify.New(kv, notify.WithSharedStore(true), notify.WithLogger(logger.Nop()))
		b := notify.New(kv, notify.WithSharedStore(true), notify.WithLogger(logger.Nop()))

		Convey("When both add to the same inbox in turn", func() {
			_, err := b.Dispatch(ctx, friendRequest("u1"))
			So(err, ShouldBeNil)
			n, err := a.Dispatch(ctx, friendRequest("u1"))
			So(err, ShouldBeNil)
			_, err = b.Dispatch(ctx, friendRequest("u1"))
			So(err, ShouldBeNil)

			Convey("Then every notification is kept", func() {
				for _, d := range []*notify.Dispatcher{a, b} {
					list, err := d.List(ctx, "u1")
					So(err, ShouldBeNil)
					So(len(list), ShouldEqual, 3)
				}
			})

			Convey("Then read state written by one is seen by the other", func() {
				So(a.MarkRead(ctx, "u1", n.ID), ShouldBeNil)
				unread, err := b.UnreadCount(ctx, "u1")
				So(err, ShouldBeNil)
				So(unread, ShouldEqual, 2)
			})
		})
	})
}
