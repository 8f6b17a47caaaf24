package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/chorus/internal/simulate"
	"github.com/okian/chorus/pkg/logger"
)

// Default configuration constants.
const (
	defaultUsers   = 200
	defaultActions = 40
	defaultWorkers = 2 // multiplier for runtime.NumCPU()
	defaultTimeout = 10 * time.Second
	defaultSettle  = 30 * time.Second
	defaultPoll    = 500 * time.Millisecond
	runTimeout     = 10 * time.Minute
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		baseURL   = flag.String("url", "http://localhost:9080", "Base URL of the node")
		users     = flag.Int("users", defaultUsers, "Number of simulated readers")
		actions   = flag.Int("actions", defaultActions, "Maximum progress updates per reader")
		workers   = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent submitters")
		timeout   = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle    = flag.Duration("settle", defaultSettle, "How long to wait for the node to catch up")
		catalog   = flag.String("catalog", "", "Badge catalog the node runs with")
		seed      = flag.Uint64("seed", 0, "Random seed; 0 picks one")
		output    = flag.String("output", "", "Save generated scripts to this JSON file")
		logFile   = flag.String("log", "", "Also write logs to this file")
		logFormat = flag.String("log-format", "text", "Log format: text or json")
		verbose   = flag.Bool("verbose", false, "Log every mismatching reader")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp(os.Stdout)
		return 0
	}

	closeLog, err := simulate.SetupLogging(*logFile, *logFormat)
	if err != nil {
		os.Stderr.WriteString("failed to setup logging: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	cfg := &simulate.Config{
		BaseURL:     *baseURL,
		Users:       *users,
		Actions:     *actions,
		Workers:     *workers,
		Timeout:     *timeout,
		Settle:      *settle,
		Poll:        defaultPoll,
		CatalogPath: *catalog,
		Seed:        *seed,
		OutputFile:  *output,
		Verbose:     *verbose,
	}
	if _, err := simulate.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "simulation failed", logger.Error(err))
		return 1
	}
	return 0
}
