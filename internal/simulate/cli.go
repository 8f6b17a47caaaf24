package simulate

import (
	"fmt"
	"io"
	"os"

	"github.com/okian/chorus/pkg/logger"
)

// SetupLogging initializes the global logger, also writing to logFile when
// it is set. The returned close func releases the file.
func SetupLogging(logFile, format string) (func() error, error) {
	if logFile == "" {
		if err := logger.Init(logger.WithFormat(format)); err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
		return func() error { return nil }, nil
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePermission)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	if err := logger.Init(logger.WithFormat(format), logger.WithWriter(io.MultiWriter(os.Stdout, file))); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return file.Close, nil
}

// ShowHelp prints usage information for the simulator.
func ShowHelp(w io.Writer) {
	_, _ = io.WriteString(w, `Chorus Simulator
================

Drives a running node with scripted reader progress, then checks that the
badges and achievement notifications it derives match a local replay.

Usage:
  go run ./cmd/simulate [options]

Options:
  -url string
        Base URL of the node (default "http://localhost:9080")
  -users int
        Number of simulated readers (default 200)
  -actions int
        Maximum progress updates per reader (default 40)
  -workers int
        Number of concurrent submitters (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 10s)
  -settle duration
        How long to wait for the node to catch up (default 30s)
  -catalog string
        Badge catalog the node runs with (default: built-in)
  -seed uint
        Random seed; 0 picks one
  -output string
        Save generated scripts to this JSON file
  -log string
        Also write logs to this file
  -verbose
        Log every mismatching reader
  -help
        Show this help message

Examples:
  go run ./cmd/simulate -users 1000 -workers 16 -url http://localhost:8080
`)
}
