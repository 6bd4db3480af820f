package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yattee/server/internal/feed"
	"github.com/yattee/server/internal/models"
	"github.com/yattee/server/internal/settings"
)

type staticSettings struct{ s settings.Settings }

func (s staticSettings) Current() settings.Settings { return s.s }

type stubSource struct {
	mu       sync.Mutex
	calls    map[string]int
	inFlight map[string]int
	maxSeen  map[string]int
	release  chan struct{}
	started  chan string
	fn       func(ch models.WatchedChannel) (models.ChannelFeed, error)
}

func newStubSource() *stubSource {
	return &stubSource{calls: map[string]int{}, inFlight: map[string]int{}, maxSeen: map[string]int{}}
}

func (s *stubSource) ChannelFeed(ctx context.Context, ch models.WatchedChannel) (models.ChannelFeed, error) {
	s.mu.Lock()
	s.calls[ch.ChannelID]++
	s.inFlight[ch.ChannelID]++
	if s.inFlight[ch.ChannelID] > s.maxSeen[ch.ChannelID] {
		s.maxSeen[ch.ChannelID] = s.inFlight[ch.ChannelID]
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight[ch.ChannelID]--
		s.mu.Unlock()
	}()

	if s.started != nil {
		s.started <- ch.ChannelID
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return models.ChannelFeed{}, ctx.Err()
		}
	}
	if s.fn != nil {
		return s.fn(ch)
	}
	return models.ChannelFeed{Videos: []models.FeedVideo{{VideoID: ch.ChannelID + "-v1", PublishedAt: time.Now().UTC()}}, Backend: "invidious"}, nil
}

func (s *stubSource) count(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func newTestScheduler(t *testing.T, source FeedSource, channels ...string) (*Scheduler, *feed.MemoryStore) {
	t.Helper()
	store := feed.NewMemoryStore()
	var watched []models.WatchedChannel
	for _, id := range channels {
		watched = append(watched, models.WatchedChannel{ChannelID: id, Site: models.SiteYouTube})
	}
	if err := store.Watch(context.Background(), watched); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	s := New(source, store, staticSettings{settings.Defaults()}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s, store
}

func TestCycleRecordsFailuresAndContinues(t *testing.T) {
	source := newStubSource()
	source.fn = func(ch models.WatchedChannel) (models.ChannelFeed, error) {
		if ch.ChannelID == "UC-bad" {
			return models.ChannelFeed{}, errors.New(strings.Repeat("boom ", 100))
		}
		return models.ChannelFeed{
			Videos:     []models.FeedVideo{{VideoID: "v1", PublishedAt: time.Now().UTC()}},
			Pagination: &models.FetchPagination{TotalFetched: 1},
		}, nil
	}
	s, store := newTestScheduler(t, source, "UC-bad", "UC-good")

	s.cycle(context.Background(), "timer")

	status, err := store.ChannelStatus(context.Background(), []string{"UC-bad", "UC-good"})
	if err != nil {
		t.Fatalf("ChannelStatus() error = %v", err)
	}
	bad := status["UC-bad"]
	if bad.LastFetchStatus != models.FetchStatusError || len(bad.LastError) > 200 || bad.LastError == "" {
		t.Fatalf("unexpected failed channel status: %q %q", bad.LastFetchStatus, bad.LastError)
	}
	good := status["UC-good"]
	if good.LastFetchStatus != models.FetchStatusOK || good.VideosFetched != 1 {
		t.Fatalf("unexpected good channel status: %+v", good)
	}
	page, _ := store.CombinedFeed(context.Background(), []string{"UC-good"}, 10, 0)
	if page.Total != 1 {
		t.Fatalf("expected merged video, got %d", page.Total)
	}

	st := s.Status()
	if st.LastCycleChannels != 2 || st.LastCycleFailures != 1 || st.LastCycleTrigger != "timer" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestFetchChannelErrorIsTyped(t *testing.T) {
	source := newStubSource()
	source.fn = func(models.WatchedChannel) (models.ChannelFeed, error) {
		return models.ChannelFeed{}, io.ErrUnexpectedEOF
	}
	s, _ := newTestScheduler(t, source, "UC1")

	ran, err := s.RefreshChannel(context.Background(), "UC1")
	if !ran {
		t.Fatal("expected fetch to run")
	}
	var ferr *ChannelFetchError
	if !errors.As(err, &ferr) || ferr.ChannelID != "UC1" || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected ChannelFetchError wrapping cause, got %v", err)
	}

	if _, err := s.RefreshChannel(context.Background(), "missing"); !errors.Is(err, feed.ErrChannelNotWatched) {
		t.Fatalf("expected ErrChannelNotWatched, got %v", err)
	}
}

func TestManualRefreshNeverOverlapsTimerFetch(t *testing.T) {
	source := newStubSource()
	source.release = make(chan struct{})
	source.started = make(chan string, 16)
	s, _ := newTestScheduler(t, source, "UC1")

	timerDone := make(chan struct{})
	go func() {
		s.cycle(context.Background(), "timer")
		close(timerDone)
	}()

	select {
	case <-source.started:
	case <-time.After(2 * time.Second):
		t.Fatal("timer fetch did not start")
	}
	if !s.Fetching("UC1") {
		t.Fatal("expected UC1 to be fetching")
	}

	if !s.RefreshAll() {
		t.Fatal("expected manual cycle to start")
	}
	if s.RefreshAll() {
		t.Fatal("expected second manual cycle to be refused")
	}
	s.RefreshChannels(context.Background(), []models.WatchedChannel{{ChannelID: "UC1"}})
	if ran, err := s.RefreshChannel(context.Background(), "UC1"); ran || err != nil {
		t.Fatalf("expected in-flight channel to be skipped, got ran=%v err=%v", ran, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.manual.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.manual.Load() {
		t.Fatal("manual cycle did not finish while timer fetch was in flight")
	}

	close(source.release)
	<-timerDone

	if got := source.count("UC1"); got != 1 {
		t.Fatalf("expected exactly one fetch, got %d", got)
	}
	source.mu.Lock()
	peak := source.maxSeen["UC1"]
	source.mu.Unlock()
	if peak != 1 {
		t.Fatalf("expected at most one in-flight fetch, saw %d", peak)
	}
	if s.Fetching("UC1") {
		t.Fatal("expected channel to be idle after fetch")
	}
}

func TestCycleWaitsChannelDelayBetweenFetches(t *testing.T) {
	source := newStubSource()
	s, _ := newTestScheduler(t, source, "UC1", "UC2", "UC3")

	var waits []time.Duration
	var mu sync.Mutex
	s.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
		return nil
	}
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	s.cycle(context.Background(), "timer")

	mu.Lock()
	defer mu.Unlock()
	if len(waits) != 2 {
		t.Fatalf("expected a wait before each channel after the first, got %v", waits)
	}
	for _, w := range waits {
		if w != 2*time.Second {
			t.Fatalf("expected feed_channel_delay wait, got %v", w)
		}
	}
}

func TestStartStopRunsTimerLoop(t *testing.T) {
	source := newStubSource()
	s, _ := newTestScheduler(t, source, "UC1")
	var cycles atomic.Int32
	s.sleep = func(ctx context.Context, d time.Duration) error {
		cycles.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for cycles.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !s.Status().Running {
		t.Fatal("expected running scheduler")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if source.count("UC1") != 1 {
		t.Fatalf("expected one timer fetch, got %d", source.count("UC1"))
	}
	if s.RefreshAll() {
		t.Fatal("expected refresh to be refused after stop")
	}
	if err := s.Start(); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
