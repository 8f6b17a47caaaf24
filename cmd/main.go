package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/okian/chorus/internal/adapters/http/api"
	"github.com/okian/chorus/internal/adapters/repository"
	redisstore "github.com/okian/chorus/internal/adapters/repository/redis"
	"github.com/okian/chorus/internal/adapters/repository/sqlite"
	"github.com/okian/chorus/internal/adapters/transport"
	"github.com/okian/chorus/internal/adapters/transport/memory"
	redistransport "github.com/okian/chorus/internal/adapters/transport/redis"
	service "github.com/okian/chorus/internal/app"
	"github.com/okian/chorus/internal/config"
	"github.com/okian/chorus/internal/domain/achievement"
	"github.com/okian/chorus/internal/domain/bots"
	"github.com/okian/chorus/internal/domain/notify"
	"github.com/okian/chorus/pkg/logger"
	"github.com/okian/chorus/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 10 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	metrics.Configure(metricsOptions(cfg)...)

	deps, err := buildBackends(ctx, cfg)
	if err != nil {
		log.Error(ctx, "failed to build backends", logger.Error(err))
		return 1
	}
	defer deps.close(ctx, log)

	catalog, err := achievement.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		log.Error(ctx, "failed to load badge catalog", logger.String("path", cfg.CatalogPath), logger.Error(err))
		return 1
	}

	svc := service.New(deps.transport, serviceOptions(cfg, catalog, deps.store, log)...)
	if err := svc.Start(ctx); err != nil {
		log.Error(ctx, "failed to start node", logger.Error(err))
		return 1
	}

	go startServiceMetricsUpdater(ctx, svc)

	// HTTP mux and routes.
	mux := http.NewServeMux()
	api.NewServer(svc).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr), logger.String("node", svc.ID()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	code := 0
	select {
	case <-ctx.Done():
		log.Info(ctx, "shutting down server...")
	case err := <-serveErr:
		log.Error(ctx, "HTTP server failed", logger.Error(err))
		code = 1
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "node shutdown failed", logger.Error(err))
		code = 1
	}

	log.Info(shutdownCtx, "server stopped", logger.Int("pending_timers", svc.Pending()))
	return code
}

// backends holds the transport and store picked by configuration.
type backends struct {
	transport transport.Transport
	store     repository.Store
	closers   []func() error
}

func (b *backends) close(ctx context.Context, log logger.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn(ctx, "failed to close backend", logger.Error(err))
		}
	}
}

// buildBackends connects the configured transport and store. A single Redis
// client serves both when both use Redis.
func buildBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}

	var rdb *goredis.Client
	redisClient := func() (*goredis.Client, error) {
		if rdb != nil {
			return rdb, nil
		}
		c, err := redistransport.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		rdb = c
		b.closers = append(b.closers, c.Close)
		return c, nil
	}

	switch cfg.Transport {
	case config.TransportRedis:
		c, err := redisClient()
		if err != nil {
			return nil, fmt.Errorf("transport: %w", err)
		}
		b.transport = redistransport.New(c,
			redistransport.WithChannel(cfg.RedisChannel),
			redistransport.WithLogger(logger.Named("redis-transport")),
		)
	default:
		hub := memory.NewHub(memory.WithLogger(logger.Named("hub")))
		b.transport = hub
		b.closers = append(b.closers, hub.Close)
	}

	switch cfg.Store {
	case config.StoreSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			b.close(ctx, logger.Get())
			return nil, fmt.Errorf("store: %w", err)
		}
		b.store = s
	case config.StoreRedis:
		c, err := redisClient()
		if err != nil {
			b.close(ctx, logger.Get())
			return nil, fmt.Errorf("store: %w", err)
		}
		b.store = redisstore.New(c, redisstore.WithKeyPrefix(cfg.RedisKeyPrefix))
	default:
		b.store = repository.NewMemoryStore()
	}
	b.closers = append(b.closers, b.store.Close)
	return b, nil
}

// serviceOptions maps configuration onto node options.
func serviceOptions(cfg *config.Config, catalog *achievement.Catalog, store repository.Store, log logger.Logger) []service.Option {
	activityLo, activityHi := cfg.ActivityDelay()
	reactionLo, reactionHi := cfg.ReactionDelay()

	botOpts := []bots.Option{
		bots.WithActivityDelay(activityLo, activityHi),
		bots.WithReactionDelay(reactionLo, reactionHi),
		bots.WithTypingDuration(cfg.TypingDuration()),
		bots.WithMaxReactions(cfg.MaxReactions),
		bots.WithReactionProbability(cfg.ReactionProbability),
	}
	if len(cfg.Actors) > 0 {
		actors := make([]bots.Actor, 0, len(cfg.Actors))
		for _, a := range cfg.Actors {
			actors = append(actors, bots.Actor{ID: a.ID, Name: a.Name})
		}
		botOpts = append(botOpts, bots.WithActors(actors...))
	}

	opts := []service.Option{
		service.WithLogger(log.Named("service")),
		service.WithUserID(cfg.UserID),
		service.WithQueueSize(cfg.QueueSize),
		service.WithTypingTimeout(cfg.TypingTimeout()),
		service.WithStore(store),
		service.WithSharedStore(cfg.SharedStore()),
		service.WithCatalog(catalog),
		service.WithAutonomousActivity(cfg.Autonomous),
		service.WithBotOptions(botOpts...),
		service.WithNotifyOptions(
			notify.WithActivitySuppression(cfg.ActivitySuppression),
			notify.WithLimit(cfg.NotificationLimit),
		),
	}
	if cfg.NodeID != "" {
		opts = append(opts, service.WithNodeID(cfg.NodeID))
	}
	return opts
}

// metricsOptions maps configuration onto the process metrics. A fixed node id
// is attached to every series.
func metricsOptions(cfg *config.Config) []metrics.Option {
	opts := []metrics.Option{
		metrics.WithNamespace(cfg.MetricsNamespace),
		metrics.WithSubsystem(cfg.MetricsSubsystem),
		metrics.WithHistogramBuckets(cfg.MetricsLatencyBuckets),
	}
	if cfg.NodeID != "" {
		opts = append(opts, metrics.WithConstLabels(map[string]string{"node": cfg.NodeID}))
	}
	return opts
}

// startServiceMetricsUpdater refreshes node gauges until ctx is done.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateServiceMetrics publishes timer counts from the node stats.
func updateServiceMetrics(svc *service.Service) {
	stats := svc.GetStats()
	if n, ok := stats["presenceTimers"].(int); ok {
		metrics.UpdatePendingTimers("presence", n)
	}
	if n, ok := stats["schedulerTimers"].(int); ok {
		metrics.UpdatePendingTimers("bots", n)
	}
}
