// Package simulate drives a running node with scripted reader progress and
// checks the badges and notifications it derives.
package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/chorus/internal/domain/achievement"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/random"
)

const (
	directoryPermission = 0o750
	filePermission      = 0o600
	percent             = 100
)

// Run executes a complete simulation against cfg.BaseURL.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	log := logger.Get().Named("simulate")
	stats := &Stats{StartTime: time.Now(), Users: cfg.Users}

	if cfg.Users <= 0 || cfg.Workers <= 0 {
		return stats, errors.New("users and workers must be positive")
	}

	seed := cfg.Seed
	if seed == 0 {
		s, err := random.NewSeed()
		if err != nil {
			return stats, fmt.Errorf("seed: %w", err)
		}
		seed = s
	}

	log.Info(ctx, "starting simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("users", cfg.Users),
		logger.Int("actions", cfg.Actions),
		logger.Int("workers", cfg.Workers),
		logger.Int64("seed", int64(seed)),
		logger.Duration("settle", cfg.Settle))

	catalog, err := achievement.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return stats, fmt.Errorf("load catalog: %w", err)
	}

	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)
	if err := checkServiceHealth(ctx, client); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	scripts, err := generateScripts(ctx, cfg, random.New(seed))
	if err != nil {
		return stats, err
	}
	if err := expectBadges(ctx, catalog, scripts); err != nil {
		return stats, err
	}
	for _, s := range scripts {
		stats.BadgesExpected += len(s.Expected)
	}

	if cfg.OutputFile != "" {
		if err := saveScripts(cfg.OutputFile, scripts); err != nil {
			log.Warn(ctx, "failed to save scripts", logger.Error(err))
		}
	}

	submitScripts(ctx, cfg, client, scripts, stats)
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("submit: %w", err)
	}
	if stats.ActionsFailed > 0 {
		return stats, fmt.Errorf("%d updates were rejected", stats.ActionsFailed)
	}

	verifyErr := verifyScripts(ctx, cfg, client, scripts, stats)

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	if verifyErr != nil {
		return stats, verifyErr
	}
	log.Info(ctx, "simulation completed successfully")
	return stats, nil
}

// checkServiceHealth verifies the node is serving.
func checkServiceHealth(ctx context.Context, client *httpClient) error {
	return client.getJSON(ctx, "/healthz", nil, nil)
}

// saveScripts writes the generated scripts as indented JSON.
func saveScripts(filename string, scripts []Script) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(scripts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scripts: %w", err)
	}
	if err := os.WriteFile(filename, data, filePermission); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return nil
}

func displayFinalStats(ctx context.Context, stats *Stats) {
	var acceptRate, perSecond float64
	if stats.ActionsSubmitted > 0 {
		acceptRate = float64(stats.ActionsAccepted+stats.ActionsLocalOnly) / float64(stats.ActionsSubmitted) * percent
	}
	if stats.Duration > 0 {
		perSecond = float64(stats.ActionsSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Named("simulate").Info(ctx, "final statistics",
		logger.Int("users", stats.Users),
		logger.Int("submitted", stats.ActionsSubmitted),
		logger.Int("accepted", stats.ActionsAccepted),
		logger.Int("localOnly", stats.ActionsLocalOnly),
		logger.Int("failed", stats.ActionsFailed),
		logger.Int("badgesExpected", stats.BadgesExpected),
		logger.Int("badgesVerified", stats.BadgesVerified),
		logger.Int("usersMismatched", stats.UsersMismatched),
		logger.Duration("duration", stats.Duration),
		logger.Float64("acceptRate", acceptRate),
		logger.Float64("actionsPerSecond", perSecond))
}
