package sync

import (
	"context"
	"log"
	"time"
)

// watermarkSweepStartupDelay gives the server time to finish wiring its
// HTTP handlers before the first sweep fires, so a cold start doesn't
// compete with startup for DB connections.
const watermarkSweepStartupDelay = 30 * time.Second

// BackgroundSyncConfig configures how often the watermark sweep runs.
type BackgroundSyncConfig struct {
	// Interval between sweeps (default: 24h)
	Interval time.Duration
	Enabled  bool
}

// DefaultBackgroundSyncConfig returns the default configuration.
func DefaultBackgroundSyncConfig() BackgroundSyncConfig {
	return BackgroundSyncConfig{
		Interval: 24 * time.Hour,
		Enabled:  true,
	}
}

// BackgroundSyncRunner performs one watermark sweep: find calendars whose
// synced range has gone stale and enqueue jobs to refresh them.
type BackgroundSyncRunner interface {
	RunBackgroundSync(ctx context.Context) error
}

// BackgroundScheduler ticks BackgroundSyncRunner.RunBackgroundSync on a fixed
// interval until stopped.
type BackgroundScheduler struct {
	config BackgroundSyncConfig
	runner BackgroundSyncRunner
	stopCh chan struct{}
	doneCh chan struct{}
}

func NewBackgroundScheduler(config BackgroundSyncConfig, runner BackgroundSyncRunner) *BackgroundScheduler {
	return &BackgroundScheduler{
		config: config,
		runner: runner,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the sweep loop in its own goroutine.
func (s *BackgroundScheduler) Start(ctx context.Context) {
	if !s.config.Enabled {
		log.Println("Watermark sweep is disabled")
		close(s.doneCh)
		return
	}

	log.Printf("Starting watermark sweep scheduler (interval: %v)", s.config.Interval)

	go func() {
		defer close(s.doneCh)

		select {
		case <-time.After(watermarkSweepStartupDelay):
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}

		s.sweep(ctx)

		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-s.stopCh:
				log.Println("Watermark sweep scheduler stopped")
				return
			case <-ctx.Done():
				log.Println("Watermark sweep scheduler context cancelled")
				return
			}
		}
	}()
}

// Stop signals the loop to exit and waits for it to finish its current sweep.
func (s *BackgroundScheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *BackgroundScheduler) sweep(ctx context.Context) {
	log.Println("Watermark sweep: starting")

	if err := s.runner.RunBackgroundSync(ctx); err != nil {
		log.Printf("Watermark sweep: failed: %v", err)
		return
	}

	log.Println("Watermark sweep: complete")
}
