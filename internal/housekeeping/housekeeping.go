// Package housekeeping runs the periodic maintenance jobs of the server on a
// cron schedule.
package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yattee/server/internal/logging"
)

// StaleChannelAge is how long a watched channel may go unrequested before it
// is dropped together with its videos.
const StaleChannelAge = 14 * 24 * time.Hour

const (
	sweepSchedule     = "@every 1m"
	limiterSchedule   = "@every 5m"
	retentionSchedule = "@daily"
)

// Sweeper deletes expired staged downloads.
type Sweeper interface {
	Sweep(now time.Time) (int, error)
}

// Cleaner drops expired failed-auth records.
type Cleaner interface {
	Cleanup() int
}

// FeedJanitor removes channels nobody asks for anymore.
type FeedJanitor interface {
	CleanupStale(ctx context.Context, cutoff time.Time) (int, error)
	CleanupOrphans(ctx context.Context) (int, error)
}

// Jobs lists the collaborators the housekeeper maintains. Nil fields are skipped.
type Jobs struct {
	Proxy   Sweeper
	Limiter Cleaner
	Feed    FeedJanitor
}

// Housekeeper owns the cron runner.
type Housekeeper struct {
	cron   *cron.Cron
	jobs   Jobs
	logger *slog.Logger
	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
}

// New registers every configured job. The runner is idle until Start.
func New(jobs Jobs, logger *slog.Logger) (*Housekeeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Housekeeper{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger{logger}))),
		jobs:   jobs,
		logger: logger,
		now:    time.Now,
		ctx:    logging.WithLogger(ctx, logger),
		cancel: cancel,
	}

	entries := []struct {
		name     string
		schedule string
		enabled  bool
		run      func(context.Context) error
	}{
		{"proxy-sweep", sweepSchedule, jobs.Proxy != nil, h.SweepProxy},
		{"auth-limiter-cleanup", limiterSchedule, jobs.Limiter != nil, h.CleanupLimiter},
		{"feed-retention", retentionSchedule, jobs.Feed != nil, h.CleanupFeed},
	}
	for _, e := range entries {
		if !e.enabled {
			continue
		}
		if _, err := h.cron.AddFunc(e.schedule, h.wrap(e.name, e.run)); err != nil {
			cancel()
			return nil, fmt.Errorf("schedule %s: %w", e.name, err)
		}
	}
	return h, nil
}

// Start launches the cron runner in its own goroutine.
func (h *Housekeeper) Start() {
	h.cron.Start()
	h.logger.Info("housekeeping started", "jobs", len(h.cron.Entries()))
}

// Stop prevents new runs and waits for running jobs or ctx.
func (h *Housekeeper) Stop(ctx context.Context) error {
	h.cancel()
	done := h.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SweepProxy removes staged downloads older than the configured max age.
func (h *Housekeeper) SweepProxy(ctx context.Context) error {
	removed, err := h.jobs.Proxy.Sweep(h.now())
	if err != nil {
		return fmt.Errorf("sweep proxy downloads: %w", err)
	}
	if removed > 0 {
		logging.FromContext(ctx).Info("proxy downloads swept", "removed", removed)
	}
	return nil
}

// CleanupLimiter prunes the failed-auth tracker.
func (h *Housekeeper) CleanupLimiter(ctx context.Context) error {
	remaining := h.jobs.Limiter.Cleanup()
	logging.FromContext(ctx).Debug("auth limiter cleaned", "trackedClients", remaining)
	return nil
}

// CleanupFeed unwatches stale channels, then deletes videos left without a channel.
func (h *Housekeeper) CleanupFeed(ctx context.Context) error {
	stale, err := h.jobs.Feed.CleanupStale(ctx, h.now().Add(-StaleChannelAge))
	if err != nil {
		return fmt.Errorf("cleanup stale channels: %w", err)
	}
	orphans, err := h.jobs.Feed.CleanupOrphans(ctx)
	if err != nil {
		return fmt.Errorf("cleanup orphan videos: %w", err)
	}
	logging.FromContext(ctx).Info("feed retention done", "staleChannels", stale, "orphanVideos", orphans)
	return nil
}

func (h *Housekeeper) wrap(name string, run func(context.Context) error) func() {
	return func() {
		if h.ctx.Err() != nil {
			return
		}
		ctx, span := logging.StartSpan(h.ctx, "housekeeping."+name)
		span.EndWithError(run(ctx))
	}
}

// cronLogger routes cron's own messages into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
