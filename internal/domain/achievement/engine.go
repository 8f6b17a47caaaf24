// Package achievement evaluates progress snapshots against the badge catalog.
package achievement

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/chorus/internal/domain/progress"
	"github.com/okian/chorus/pkg/clock"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/metrics"
)

// Award is a badge newly earned by a user.
type Award struct {
	UserID   string          `json:"userId"`
	Badge    BadgeDefinition `json:"badge"`
	EarnedAt time.Time       `json:"earnedAt"`
}

// Qualify returns the catalog badges snap meets and has not earned yet, in
// catalog order. It has no side effects.
func Qualify(c *Catalog, snap progress.Snapshot, now time.Time) []BadgeDefinition {
	var out []BadgeDefinition
	for _, b := range c.badges {
		if snap.HasBadge(b.ID) {
			continue
		}
		if b.Criteria != nil && b.Criteria.eligible(snap, now) {
			out = append(out, b)
		}
	}
	return out
}

// Engine awards badges and persists them through the progress store.
type Engine struct {
	catalog  *Catalog
	progress *progress.Store
	clock    clock.Clock
	logger   logger.Logger
}

// NewEngine creates an engine over catalog and store.
func NewEngine(catalog *Catalog, store *progress.Store, opts ...Option) *Engine {
	e := &Engine{
		catalog:  catalog,
		progress: store,
		clock:    clock.Real(),
		logger:   logger.Get().Named("achievement"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the engine's catalog.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Evaluate awards every badge userID now qualifies for and returns only the
// ones persisted by this call. A second call without new progress returns nothing.
func (e *Engine) Evaluate(ctx context.Context, userID string) ([]Award, error) {
	snap, err := e.progress.Snapshot(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", userID, err)
	}

	candidates := Qualify(e.catalog, snap, e.clock.Now())
	if len(candidates) == 0 {
		return nil, nil
	}
	ids := make([]string, len(candidates))
	for i, b := range candidates {
		ids[i] = b.ID
	}

	earned, err := e.progress.AwardBadges(ctx, userID, ids...)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", userID, err)
	}

	awards := make([]Award, 0, len(earned))
	for _, eb := range earned {
		def, ok := e.catalog.Get(eb.BadgeID)
		if !ok {
			continue
		}
		awards = append(awards, Award{UserID: userID, Badge: def, EarnedAt: eb.EarnedAt})
		metrics.RecordBadgeAwarded(def.ID)
		e.logger.Info(ctx, "badge awarded",
			logger.String("user", userID),
			logger.String("badge", def.ID),
		)
	}
	return awards, nil
}

// Earned returns the catalog definitions of every badge userID holds, oldest first.
func (e *Engine) Earned(ctx context.Context, userID string) ([]Award, error) {
	snap, err := e.progress.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Award, 0, len(snap.EarnedBadges))
	for _, eb := range snap.Badges() {
		def, ok := e.catalog.Get(eb.BadgeID)
		if !ok {
			def = BadgeDefinition{ID: eb.BadgeID, Name: eb.BadgeID, Criteria: Unknown{}}
		}
		out = append(out, Award{UserID: userID, Badge: def, EarnedAt: eb.EarnedAt})
	}
	return out, nil
}
