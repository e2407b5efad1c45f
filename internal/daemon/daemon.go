// Package daemon runs the update pipeline on a wall-clock interval,
// guarding against overlapping instances with a file lock.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"rivulet/internal/logging"
)

// ParseInterval parses a duration string of the form "<number><unit>"
// where unit is one of s, m, h, d (e.g. "30m", "1h", "6h", "1d").
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty interval")
	}
	unit := s[len(s)-1]
	numberPart := s[:len(s)-1]
	n, err := strconv.ParseFloat(numberPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid interval %q: must be positive", s)
	}

	var unitDuration time.Duration
	switch unit {
	case 's':
		unitDuration = time.Second
	case 'm':
		unitDuration = time.Minute
	case 'h':
		unitDuration = time.Hour
	case 'd':
		unitDuration = 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid interval %q: unit must be one of s, m, h, d", s)
	}

	return time.Duration(n * float64(unitDuration)), nil
}

// Lock is a single-instance guard backed by an OS file lock, preventing
// two daemon processes from running updates concurrently.
type Lock struct {
	flock *flock.Flock
}

// AcquireLock attempts to take an exclusive, non-blocking lock at path. A
// false return (with nil error) means another instance already holds it.
func AcquireLock(path string) (*Lock, bool, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, false, nil
	}
	return &Lock{flock: fl}, true, nil
}

// Release unlocks and removes the lock file.
func (l *Lock) Release() error {
	if err := l.flock.Unlock(); err != nil {
		return err
	}
	return os.Remove(l.flock.Path())
}

// UpdateFunc runs one full update sweep; its error is logged but never
// stops the daemon loop.
type UpdateFunc func(ctx context.Context) error

// Config tunes the daemon loop.
type Config struct {
	Interval       time.Duration
	SkipInitialRun bool
	ShutdownGrace  time.Duration
}

// Run performs an initial update (unless SkipInitialRun), then ticks at
// Interval forever until ctx is cancelled or a SIGINT/SIGTERM arrives.
// Each tick's error is logged and the loop continues.
func Run(ctx context.Context, cfg Config, update UpdateFunc, logger logging.Logger) error {
	if cfg.Interval <= 0 {
		return fmt.Errorf("daemon interval must be positive")
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal %v, shutting down", sig)
			cancel()
		case <-runCtx.Done():
		}
	}()

	if !cfg.SkipInitialRun {
		runUpdate(runCtx, update, logger)
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			return nil
		case <-ticker.C:
			runUpdate(runCtx, update, logger)
		}
	}
}

func runUpdate(ctx context.Context, update UpdateFunc, logger logging.Logger) {
	if err := update(ctx); err != nil {
		logger.Error("update sweep failed: %v", err)
	}
}
