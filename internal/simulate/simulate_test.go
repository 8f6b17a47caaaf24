package simulate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/chorus/internal/adapters/http/api"
	"github.com/okian/chorus/internal/adapters/transport/memory"
	service "github.com/okian/chorus/internal/app"
	"github.com/okian/chorus/internal/domain/achievement"
	"github.com/okian/chorus/internal/domain/model"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/random"
)

func TestGenerateScript(t *testing.T) {
	Convey("Given a seeded generator", t, func() {
		rnd := random.New(42)

		Convey("Then every script starts with a finished book", func() {
			for range 50 {
				s := generateScript("reader-1", 30, rnd)
				So(len(s.Updates), ShouldBeBetweenOrEqual, 1, 30)
				So(s.Updates[0].Kind, ShouldEqual, model.ProgressBookCompleted)
				So(s.Updates[0].Genre, ShouldNotBeEmpty)
				So(s.Updates[0].GroupID, ShouldNotBeEmpty)

				var months []string
				for _, u := range s.Updates {
					So(u.UserID, ShouldEqual, "reader-1")
					if u.Kind != model.ProgressListening {
						So(u.GroupID, ShouldNotBeEmpty)
					}
					if u.Kind == model.ProgressClubBookCompleted {
						months = append(months, u.Month)
					}
				}
				So(slices.IsSorted(months), ShouldBeTrue)
				So(len(slices.Compact(slices.Clone(months))), ShouldEqual, len(months))
			}
		})

		Convey("Then a single action budget yields one update", func() {
			s := generateScript("reader-2", 1, rnd)
			So(len(s.Updates), ShouldEqual, 1)
		})

		Convey("Then one script per reader is generated", func() {
			scripts, err := generateScripts(context.Background(), &Config{Users: 5, Actions: 3}, rnd)
			So(err, ShouldBeNil)
			So(len(scripts), ShouldEqual, 5)
			So(scripts[0].UserID, ShouldNotEqual, scripts[1].UserID)
		})
	})
}

func TestExpectBadges(t *testing.T) {
	Convey("Given hand-written scripts", t, func() {
		ctx := context.Background()
		posts := []model.ProgressUpdate{{UserID: "talker", Kind: model.ProgressBookCompleted, GroupID: "c1", Genre: "poetry"}}
		for range 10 {
			posts = append(posts, model.ProgressUpdate{UserID: "talker", Kind: model.ProgressDiscussionPost, GroupID: "c1"})
		}
		scripts := []Script{
			{UserID: "reader", Updates: []model.ProgressUpdate{{UserID: "reader", Kind: model.ProgressBookCompleted, GroupID: "c1", Genre: "poetry"}}},
			{UserID: "talker", Updates: posts},
		}

		So(expectBadges(ctx, achievement.DefaultCatalog(), scripts), ShouldBeNil)

		Convey("Then awards are recorded in the order they are earned", func() {
			So(scripts[0].Expected, ShouldResemble, []string{"first-chapter"})
			So(scripts[1].Expected, ShouldResemble, []string{"first-chapter", "conversation-starter"})
		})

		Convey("Then a finished book outside any club fails the replay", func() {
			bad := []Script{{UserID: "x", Updates: []model.ProgressUpdate{{UserID: "x", Kind: model.ProgressBookCompleted}}}}
			So(expectBadges(ctx, achievement.DefaultCatalog(), bad), ShouldNotBeNil)
		})

		Convey("Then unknown update kinds fail the replay", func() {
			bad := []Script{{UserID: "x", Updates: []model.ProgressUpdate{{UserID: "x", Kind: "levitation"}}}}
			So(expectBadges(ctx, achievement.DefaultCatalog(), bad), ShouldNotBeNil)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a running node behind an HTTP server", t, func() {
		ctx := context.Background()
		svc := service.New(memory.NewHub(),
			service.WithAutonomousActivity(false),
			service.WithLogger(logger.Nop()),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Shutdown(ctx) }()

		mux := http.NewServeMux()
		api.NewServer(svc).Register(mux)
		srv := httptest.NewServer(mux)
		defer srv.Close()

		cfg := &Config{
			BaseURL:    srv.URL,
			Users:      8,
			Actions:    25,
			Workers:    3,
			Timeout:    5 * time.Second,
			Settle:     10 * time.Second,
			Poll:       20 * time.Millisecond,
			Seed:       7,
			OutputFile: filepath.Join(t.TempDir(), "out", "scripts.json"),
		}

		Convey("When the simulation runs", func() {
			stats, err := Run(ctx, cfg)

			Convey("Then the node derives exactly the replayed badges", func() {
				So(err, ShouldBeNil)
				So(stats.ActionsFailed, ShouldEqual, 0)
				So(stats.ActionsAccepted, ShouldEqual, stats.ActionsSubmitted)
				So(stats.BadgesExpected, ShouldBeGreaterThanOrEqualTo, cfg.Users)
				So(stats.BadgesVerified, ShouldEqual, stats.BadgesExpected)
				So(stats.UsersMismatched, ShouldEqual, 0)
				_, statErr := os.Stat(cfg.OutputFile)
				So(statErr, ShouldBeNil)
			})
		})

		Convey("When the configuration is invalid", func() {
			cfg.Workers = 0
			_, err := Run(ctx, cfg)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestVerifyMismatch(t *testing.T) {
	Convey("Given a node that never awards anything", t, func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/badges", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`[]`))
		})
		mux.HandleFunc("/notifications", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"notifications":[],"unread":0}`))
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		cfg := &Config{Settle: 50 * time.Millisecond, Poll: 10 * time.Millisecond, Verbose: true}
		client := newHTTPClient(srv.URL, time.Second)
		scripts := []Script{{UserID: "u1", Expected: []string{"first-chapter"}}, {UserID: "u2"}}
		stats := &Stats{}

		Convey("Then verification gives up with a mismatch", func() {
			err := verifyScripts(context.Background(), cfg, client, scripts, stats)
			So(errors.Is(err, ErrMismatch), ShouldBeTrue)
			So(stats.UsersMismatched, ShouldEqual, 1)
		})
	})

	Convey("Given notification refs", t, func() {
		So(badgeFromRef("badge/bookworm"), ShouldEqual, "bookworm")
		So(badgeFromRef("user/u1"), ShouldEqual, "user/u1")
	})
}
