// Package scheduler keeps watched channels fresh by fetching them on a timer
// and on demand, one fetch per channel at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yattee/server/internal/feed"
	"github.com/yattee/server/internal/logging"
	"github.com/yattee/server/internal/metrics"
	"github.com/yattee/server/internal/models"
	"github.com/yattee/server/internal/settings"
)

// FeedSource fetches the recent uploads of one channel.
type FeedSource interface {
	ChannelFeed(ctx context.Context, ch models.WatchedChannel) (models.ChannelFeed, error)
}

// SettingsSource supplies the current settings snapshot.
type SettingsSource interface {
	Current() settings.Settings
}

// ChannelFetchError is recorded on a channel whose fetch failed.
type ChannelFetchError struct {
	ChannelID string
	Err       error
}

func (e *ChannelFetchError) Error() string {
	return fmt.Sprintf("fetch channel %s: %v", e.ChannelID, e.Err)
}

func (e *ChannelFetchError) Unwrap() error { return e.Err }

// ErrStopped is returned by operations attempted after Stop.
var ErrStopped = errors.New("scheduler stopped")

// refreshConcurrency bounds on-demand fetches started by RefreshChannels.
const refreshConcurrency = 10

const (
	stateIdle int32 = iota
	stateFetching
	// stateRetired marks a state removed by Forget. It never leaves this
	// state, so a stale pointer can not start a fetch.
	stateRetired
)

type channelState struct {
	state atomic.Int32
}

func (c *channelState) tryBegin() bool { return c.state.CompareAndSwap(stateIdle, stateFetching) }
func (c *channelState) end()           { c.state.Store(stateIdle) }

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running           bool
	ManualCycle       bool
	LastCycleTrigger  string
	LastCycleStarted  time.Time
	LastCycleFinished time.Time
	LastCycleChannels int
	LastCycleFailures int
	FetchingNow       int
}

// Scheduler drives background channel fetches.
type Scheduler struct {
	source   FeedSource
	store    feed.Store
	settings SettingsSource
	metrics  *metrics.Metrics
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	channels sync.Map
	manual   atomic.Bool
	running  atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	statusMu sync.Mutex
	status   Status
}

// New constructs a stopped scheduler. m may be nil.
func New(source FeedSource, store feed.Store, cfg SettingsSource, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	if m == nil {
		m = metrics.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		source:   source,
		store:    store,
		settings: cfg,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
		ctx:      logging.WithLogger(ctx, logger),
		cancel:   cancel,
	}
}

// Start launches the timer loop. Calling Start twice has no effect.
func (s *Scheduler) Start() error {
	if s.ctx.Err() != nil {
		return ErrStopped
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.Run(s.ctx)
	}()
	s.logger.Info("feed scheduler started")
	return nil
}

// Stop cancels the loop and any manual cycle, then waits for in-flight
// fetches to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.once.Do(s.cancel)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		s.logger.Info("feed scheduler stopped")
		return nil
	}
}

// Run executes cycles until ctx is done, waiting feed_fetch_interval between
// the end of one cycle and the start of the next.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		s.cycle(ctx, "timer")
		if err := s.sleep(ctx, s.settings.Current().FeedInterval()); err != nil {
			return
		}
	}
}

// RefreshAll starts a manual cycle in the background. It reports false when a
// manual cycle is already running or the scheduler is stopped.
func (s *Scheduler) RefreshAll() bool {
	if s.ctx.Err() != nil {
		return false
	}
	if !s.manual.CompareAndSwap(false, true) {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.manual.Store(false)
		s.cycle(s.ctx, "manual")
	}()
	return true
}

// RefreshChannels fetches channels immediately, at most refreshConcurrency at
// a time. Channels already being fetched are skipped. Failures are recorded
// on the channels, not returned.
func (s *Scheduler) RefreshChannels(ctx context.Context, channels []models.WatchedChannel) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for _, ch := range channels {
		g.Go(func() error {
			_, _ = s.fetchChannel(gctx, ch)
			return nil
		})
	}
	_ = g.Wait()
}

// RefreshInBackground runs RefreshChannels detached from the caller, bounded
// by the scheduler's lifetime.
func (s *Scheduler) RefreshInBackground(channels []models.WatchedChannel) bool {
	if len(channels) == 0 || s.ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RefreshChannels(s.ctx, channels)
	}()
	return true
}

// RefreshChannel fetches one watched channel now. It reports whether a fetch
// ran; false means another fetch of the channel was already in flight.
func (s *Scheduler) RefreshChannel(ctx context.Context, channelID string) (bool, error) {
	status, err := s.store.ChannelStatus(ctx, []string{channelID})
	if err != nil {
		return false, fmt.Errorf("load channel: %w", err)
	}
	ch, ok := status[channelID]
	if !ok {
		return false, feed.ErrChannelNotWatched
	}
	return s.fetchChannel(ctx, ch)
}

// Fetching reports whether a fetch of channelID is in flight.
func (s *Scheduler) Fetching(channelID string) bool {
	v, ok := s.channels.Load(channelID)
	return ok && v.(*channelState).state.Load() == stateFetching
}

// Forget drops the state of an unwatched channel that is not being fetched.
func (s *Scheduler) Forget(channelID string) {
	v, ok := s.channels.Load(channelID)
	if !ok {
		return
	}
	if v.(*channelState).state.CompareAndSwap(stateIdle, stateRetired) {
		s.channels.CompareAndDelete(channelID, v)
	}
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.statusMu.Lock()
	st := s.status
	s.statusMu.Unlock()

	st.Running = s.running.Load()
	st.ManualCycle = s.manual.Load()
	s.channels.Range(func(_, v any) bool {
		if v.(*channelState).state.Load() == stateFetching {
			st.FetchingNow++
		}
		return true
	})
	return st
}

func (s *Scheduler) cycle(ctx context.Context, trigger string) {
	ctx, span := logging.StartSpan(ctx, "feed.cycle")
	logger := logging.FromContext(ctx)
	started := s.now()
	snap := s.settings.Current()

	channels, err := s.store.ListWatched(ctx)
	if err != nil {
		span.EndWithError(fmt.Errorf("list watched channels: %w", err))
		return
	}
	logger.Info("feed cycle started", "trigger", trigger, "channels", len(channels))

	var (
		fetched   int
		failures  int
		lastStart time.Time
	)
	for _, ch := range channels {
		if ctx.Err() != nil {
			break
		}
		if s.Fetching(ch.ChannelID) {
			logger.Debug("channel already fetching, skipped", "channelId", ch.ChannelID)
			continue
		}
		if !lastStart.IsZero() {
			if wait := snap.FeedDelay() - s.now().Sub(lastStart); wait > 0 {
				if err := s.sleep(ctx, wait); err != nil {
					break
				}
			}
		}
		lastStart = s.now()

		ran, err := s.fetchChannel(ctx, ch)
		if ran {
			fetched++
		}
		if err != nil {
			failures++
		}
	}

	if ctx.Err() == nil {
		cutoff := s.now().Add(-snap.FeedMaxAge())
		if pruned, err := s.store.PruneOlderThan(ctx, cutoff); err != nil {
			logger.Warn("prune feed videos failed", "error", err)
		} else if pruned > 0 {
			logger.Info("pruned aged feed videos", "removed", pruned)
		}
	}

	finished := s.now()
	s.metrics.FeedCycleDuration.Observe(finished.Sub(started).Seconds())
	s.statusMu.Lock()
	s.status.LastCycleTrigger = trigger
	s.status.LastCycleStarted = started
	s.status.LastCycleFinished = finished
	s.status.LastCycleChannels = fetched
	s.status.LastCycleFailures = failures
	s.statusMu.Unlock()

	logger.Info("feed cycle finished", "trigger", trigger, "fetched", fetched, "failures", failures, "duration", finished.Sub(started))
	span.End()
}

// fetchChannel is the single fetch routine behind every trigger. It reports
// whether the fetch ran; a returned error has already been recorded.
func (s *Scheduler) fetchChannel(ctx context.Context, ch models.WatchedChannel) (bool, error) {
	state := s.stateFor(ch.ChannelID)
	if !state.tryBegin() {
		return false, nil
	}
	defer state.end()

	s.metrics.ChannelsFetchingNow.Inc()
	defer s.metrics.ChannelsFetchingNow.Dec()

	ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("channelId", ch.ChannelID, "site", ch.Site))
	snap := s.settings.Current()

	fetchCtx, cancel := context.WithTimeout(ctx, snap.YTDLPTimeoutDuration())
	result, err := s.source.ChannelFeed(fetchCtx, ch)
	cancel()
	if err != nil {
		return true, s.recordFailure(ctx, ch.ChannelID, err)
	}

	merged, err := s.store.MergeChannelVideos(ctx, ch.ChannelID, result.Videos, feed.LimitsFrom(snap))
	if err != nil {
		return true, s.recordFailure(ctx, ch.ChannelID, fmt.Errorf("store videos: %w", err))
	}

	outcome := feed.FetchOutcome{
		At:         s.now(),
		Status:     models.FetchStatusOK,
		Fetched:    len(result.Videos),
		Pagination: result.Pagination,
		Metadata:   result.Metadata,
	}
	if err := s.store.RecordFetch(ctx, ch.ChannelID, outcome); err != nil {
		logging.FromContext(ctx).Warn("record channel fetch failed", "error", err)
	}
	s.metrics.ChannelFetches.WithLabelValues("ok").Inc()
	logging.FromContext(ctx).Info("channel fetched", "backend", result.Backend, "videos", len(result.Videos), "stored", merged.Stored, "removed", merged.Removed)
	return true, nil
}

func (s *Scheduler) recordFailure(ctx context.Context, channelID string, err error) error {
	ferr := &ChannelFetchError{ChannelID: channelID, Err: err}
	s.metrics.ChannelFetches.WithLabelValues("error").Inc()
	logging.FromContext(ctx).Warn("channel fetch failed", "error", err)

	if errors.Is(err, feed.ErrChannelNotWatched) {
		return ferr
	}
	outcome := feed.FetchOutcome{At: s.now(), Status: models.FetchStatusError, Error: err.Error()}
	if rerr := s.store.RecordFetch(ctx, channelID, outcome); rerr != nil {
		logging.FromContext(ctx).Warn("record channel failure failed", "error", rerr)
	}
	return ferr
}

func (s *Scheduler) stateFor(channelID string) *channelState {
	for {
		v, _ := s.channels.LoadOrStore(channelID, &channelState{})
		st := v.(*channelState)
		if st.state.Load() != stateRetired {
			return st
		}
		s.channels.CompareAndDelete(channelID, v)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
