package simulate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/okian/chorus/pkg/logger"
)

// ErrMismatch is returned when the node's badges or notifications differ
// from the replayed expectation once the settle window has passed.
var ErrMismatch = errors.New("node state does not match expectation")

const achievementType = "achievement"

// mismatch describes how one reader's state differs from expectation.
type mismatch struct {
	UserID        string
	Expected      []string
	Badges        []string
	Notifications []string
}

// verifyScripts polls the node until every reader matches or the settle
// window runs out.
func verifyScripts(ctx context.Context, cfg *Config, client *httpClient, scripts []Script, stats *Stats) error {
	log := logger.Get().Named("simulate")
	deadline := time.Now().Add(cfg.Settle)

	for attempt := 1; ; attempt++ {
		misses, verified, err := checkScripts(ctx, client, scripts)
		if err != nil {
			return err
		}
		stats.BadgesVerified = verified
		stats.UsersMismatched = len(misses)
		if len(misses) == 0 {
			log.Info(ctx, "node state verified",
				logger.Int("readers", len(scripts)),
				logger.Int("badges", verified),
				logger.Int("attempts", attempt))
			return nil
		}
		if time.Now().After(deadline) {
			for _, m := range misses {
				if !cfg.Verbose {
					break
				}
				log.Warn(ctx, "reader mismatch",
					logger.String("user", m.UserID),
					logger.Any("expected", m.Expected),
					logger.Any("badges", m.Badges),
					logger.Any("notifications", m.Notifications))
			}
			return fmt.Errorf("%w: %d of %d readers", ErrMismatch, len(misses), len(scripts))
		}

		log.Debug(ctx, "waiting for node to settle", logger.Int("mismatched", len(misses)))
		select {
		case <-ctx.Done():
			return fmt.Errorf("verify: %w", ctx.Err())
		case <-time.After(cfg.Poll):
		}
	}
}

func checkScripts(ctx context.Context, client *httpClient, scripts []Script) ([]mismatch, int, error) {
	var misses []mismatch
	verified := 0
	for _, s := range scripts {
		m, err := checkScript(ctx, client, s)
		if err != nil {
			return nil, 0, err
		}
		if m != nil {
			misses = append(misses, *m)
			continue
		}
		verified += len(s.Expected)
	}
	return misses, verified, nil
}

func checkScript(ctx context.Context, client *httpClient, s Script) (*mismatch, error) {
	q := url.Values{"user": {s.UserID}}

	var badges []badgeView
	if err := client.getJSON(ctx, "/badges", q, &badges); err != nil {
		return nil, err
	}
	var inbox notificationsResponse
	if err := client.getJSON(ctx, "/notifications", q, &inbox); err != nil {
		return nil, err
	}

	m := &mismatch{UserID: s.UserID, Expected: sortedCopy(s.Expected)}
	for _, b := range badges {
		m.Badges = append(m.Badges, b.ID)
	}
	for _, n := range inbox.Notifications {
		if n.Type == achievementType {
			m.Notifications = append(m.Notifications, badgeFromRef(n.ActionRef))
		}
	}
	slices.Sort(m.Badges)
	slices.Sort(m.Notifications)

	if slices.Equal(m.Expected, m.Badges) && slices.Equal(m.Expected, m.Notifications) {
		return nil, nil
	}
	return m, nil
}

func badgeFromRef(ref string) string {
	return strings.TrimPrefix(ref, "badge/")
}

func sortedCopy(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}
