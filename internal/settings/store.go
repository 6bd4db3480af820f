package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/yattee/server/internal/logging"
)

// ErrNotFound is returned by a Repository that has no persisted settings yet.
var ErrNotFound = errors.New("settings not found")

// ErrInvalid wraps values rejected by Validate.
var ErrInvalid = errors.New("invalid settings")

// Repository persists the settings document.
type Repository interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) error
}

// ChangeFunc observes a published settings change.
type ChangeFunc func(ctx context.Context, previous, current Settings)

// Store publishes immutable Settings snapshots. Readers call Current once per
// operation; writers are serialized and swap the snapshot atomically.
type Store struct {
	current atomic.Pointer[Settings]
	repo    Repository

	mu        sync.Mutex
	listeners []ChangeFunc
}

// NewStore returns a store seeded with the normalized initial snapshot. repo may be nil.
func NewStore(initial Settings, repo Repository) *Store {
	s := &Store{repo: repo}
	snapshot := initial.Normalize()
	s.current.Store(&snapshot)
	return s
}

// Current returns the active snapshot.
func (s *Store) Current() Settings {
	return *s.current.Load()
}

// OnChange registers fn to run after every successful update.
func (s *Store) OnChange(fn ChangeFunc) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Reload replaces the snapshot with the persisted document. A missing document
// keeps the current snapshot and persists it.
func (s *Store) Reload(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	loaded, err := s.repo.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		if err := s.repo.Save(ctx, s.Current()); err != nil {
			return fmt.Errorf("persist default settings: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.publishLocked(ctx, loaded.Normalize(), false)
	return err
}

// Update applies mutate to a copy of the current snapshot, validates and
// persists the result, then publishes it. Listeners must not call Update.
func (s *Store) Update(ctx context.Context, mutate func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.current.Load()
	if mutate != nil {
		mutate(&next)
	}
	next = next.Normalize()
	if err := next.Validate(); err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	return s.publishLocked(ctx, next, true)
}

func (s *Store) publishLocked(ctx context.Context, next Settings, persist bool) (Settings, error) {
	if persist && s.repo != nil {
		if err := s.repo.Save(ctx, next); err != nil {
			return Settings{}, fmt.Errorf("save settings: %w", err)
		}
	}

	previous := *s.current.Load()
	snapshot := next
	s.current.Store(&snapshot)

	logging.FromContext(ctx).Info("settings updated",
		"invidiousInstance", snapshot.InvidiousInstance,
		"feedFetchInterval", snapshot.FeedFetchInterval,
		"proxyMaxConcurrentDownloads", snapshot.ProxyMaxConcurrentDownloads,
	)

	for _, fn := range s.listeners {
		fn(ctx, previous, snapshot)
	}
	return snapshot, nil
}
