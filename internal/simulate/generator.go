package simulate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/chorus/internal/adapters/repository"
	"github.com/okian/chorus/internal/domain/achievement"
	"github.com/okian/chorus/internal/domain/model"
	"github.com/okian/chorus/internal/domain/progress"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/random"
)

const (
	minListeningMinutes = 30
	maxListeningMinutes = 120
)

var (
	genres = []string{"fantasy", "mystery", "romance", "history", "poetry", "science", "biography"}
	clubs  = []string{"club-classics", "club-scifi", "club-crime", "club-poetry"}

	// Weighted pool of update kinds; repeats raise the weight.
	kinds = []string{
		model.ProgressBookCompleted, model.ProgressBookCompleted, model.ProgressBookCompleted,
		model.ProgressClubBookCompleted, model.ProgressClubBookCompleted,
		model.ProgressDiscussionPost, model.ProgressDiscussionPost, model.ProgressDiscussionPost,
		model.ProgressShared,
		model.ProgressClubJoined,
		model.ProgressSessionAttended, model.ProgressSessionAttended,
		model.ProgressListening,
	}

	streakStart = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// generateScripts builds one script per reader. Every reader finishes at least
// one book so each script earns something under the built-in catalog.
func generateScripts(ctx context.Context, cfg *Config, rnd random.Source) ([]Script, error) {
	scripts := make([]Script, cfg.Users)
	for i := range scripts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("generate scripts: %w", err)
		}
		scripts[i] = generateScript("reader-"+uuid.NewString(), cfg.Actions, rnd)
	}
	return scripts, nil
}

func generateScript(userID string, maxActions int, rnd random.Source) Script {
	n := 1
	if maxActions > 1 {
		n += rnd.IntN(maxActions)
	}
	home := clubs[rnd.IntN(len(clubs))]
	month := 0

	updates := make([]model.ProgressUpdate, 0, n+1)
	updates = append(updates, model.ProgressUpdate{
		UserID:  userID,
		Kind:    model.ProgressBookCompleted,
		GroupID: home,
		Genre:   genres[rnd.IntN(len(genres))],
	})
	for range n - 1 {
		u := model.ProgressUpdate{UserID: userID, Kind: kinds[rnd.IntN(len(kinds))]}
		switch u.Kind {
		case model.ProgressBookCompleted:
			u.GroupID = home
			u.Genre = genres[rnd.IntN(len(genres))]
		case model.ProgressClubBookCompleted:
			// Months only move forward so streaks can build.
			u.GroupID = home
			u.Genre = genres[rnd.IntN(len(genres))]
			u.Month = streakStart.AddDate(0, month, 0).Format("2006-01")
			month += 1 + rnd.IntN(2)
		case model.ProgressClubJoined:
			u.GroupID = clubs[rnd.IntN(len(clubs))]
		case model.ProgressDiscussionPost, model.ProgressShared, model.ProgressSessionAttended:
			u.GroupID = home
		case model.ProgressListening:
			u.Minutes = minListeningMinutes + rnd.IntN(maxListeningMinutes-minListeningMinutes+1)
		}
		updates = append(updates, u)
	}
	return Script{UserID: userID, Updates: updates}
}

// expectBadges replays each script against a private progress store and
// records the badges the node should award, in order.
func expectBadges(ctx context.Context, catalog *achievement.Catalog, scripts []Script) error {
	store := progress.New(repository.NewMemoryStore(), progress.WithLogger(logger.Nop()))
	engine := achievement.NewEngine(catalog, store, achievement.WithLogger(logger.Nop()))
	for i := range scripts {
		s := &scripts[i]
		s.Expected = s.Expected[:0]
		for _, u := range s.Updates {
			if err := store.Apply(ctx, u); err != nil {
				return fmt.Errorf("replay %s: %w", s.UserID, err)
			}
			awards, err := engine.Evaluate(ctx, s.UserID)
			if err != nil {
				return fmt.Errorf("replay %s: %w", s.UserID, err)
			}
			for _, a := range awards {
				s.Expected = append(s.Expected, a.Badge.ID)
			}
		}
	}
	return nil
}
