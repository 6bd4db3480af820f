// Package gateway resolves resource descriptors through the cache, the
// Invidious backend and the general extractor, picking the backend per
// resource class from the active settings snapshot.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yattee/server/internal/cache"
	"github.com/yattee/server/internal/extractor"
	"github.com/yattee/server/internal/invidious"
	"github.com/yattee/server/internal/logging"
	"github.com/yattee/server/internal/metrics"
	"github.com/yattee/server/internal/models"
	"github.com/yattee/server/internal/settings"
)

// Extractor runs the general-purpose extractor.
type Extractor interface {
	Extract(ctx context.Context, target string, opts extractor.Options) ([]json.RawMessage, error)
}

// SiteChecker answers whether extraction from a site is allowed.
type SiteChecker interface {
	IsEnabled(ctx context.Context, extractor string) (bool, error)
	URLEnabled(ctx context.Context, rawURL string) (bool, string, error)
}

// SettingsSource hands out the active settings snapshot.
type SettingsSource interface {
	Current() settings.Settings
}

// Result is a resolved resource.
type Result struct {
	Class      Class
	Backend    string
	Data       any
	FromCache  bool
	Pagination *models.FetchPagination
}

// Deps are the collaborators of a Gateway. Cache, Sites and Metrics may be nil.
type Deps struct {
	Settings  SettingsSource
	Extractor Extractor
	Sites     SiteChecker
	Cache     *cache.Cache
	Metrics   *metrics.Metrics
	// Transport is shared by the Invidious client and direct image fetches.
	Transport http.RoundTripper
}

// Gateway is safe for concurrent use.
type Gateway struct {
	settings  SettingsSource
	extractor Extractor
	sites     SiteChecker
	cache     *cache.Cache
	metrics   *metrics.Metrics
	transport http.RoundTripper

	policies map[Class]policy
	group    singleflight.Group

	// NewInvidious builds the client for a snapshot.
	NewInvidious func(s settings.Settings) *invidious.Client
	// Sleep waits between extractor attempts.
	Sleep func(ctx context.Context, d time.Duration) error
	// ExtractRetryDelay is the first backoff delay between extractor attempts.
	ExtractRetryDelay time.Duration
	// LookupIP resolves hosts of arbitrary extraction URLs; nil uses DNS.
	LookupIP extractor.LookupFunc
	// Now stamps relative publication texts.
	Now func() time.Time
}

type cachedResult struct {
	Backend string          `json:"backend"`
	Data    json.RawMessage `json:"data"`
}

// New constructs a Gateway.
func New(deps Deps) *Gateway {
	m := deps.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	c := deps.Cache
	if c == nil {
		c = cache.New()
	}
	g := &Gateway{
		settings:          deps.Settings,
		extractor:         deps.Extractor,
		sites:             deps.Sites,
		cache:             c,
		metrics:           m,
		transport:         deps.Transport,
		policies:          defaultPolicies(),
		Sleep:             sleepContext,
		ExtractRetryDelay: time.Second,
		Now:               time.Now,
	}
	g.NewInvidious = func(s settings.Settings) *invidious.Client {
		return invidious.New(s, g.transport)
	}
	return g
}

// Resolve returns the resource d names, from cache when possible.
func (g *Gateway) Resolve(ctx context.Context, d Descriptor) (Result, error) {
	if d.Class == ClassChannelFeed {
		return g.resolveFeed(ctx, d)
	}
	p, ok := g.policies[d.Class]
	if !ok {
		return Result{}, invalidf("unknown resource class %q", d.Class)
	}
	if p.validate != nil {
		if err := p.validate(d); err != nil {
			return Result{}, err
		}
	}

	s := g.settings.Current()
	if err := g.gate(ctx, p, s, d); err != nil {
		return Result{}, err
	}

	key := CacheKey(d)
	if res, ok := g.lookup(ctx, p, d, key); ok {
		return res, nil
	}

	// Callers sharing key must not inherit each other's cancellation, so the
	// fetch runs detached under its own budget and each caller waits on its own ctx.
	ch := g.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchBudget(p, s, g.ExtractRetryDelay))
		defer cancel()
		return g.fetch(fetchCtx, p, s, d, key)
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Result{}, r.Err
		}
		return r.Val.(Result), nil
	}
}

// fetchBudget bounds one shared fetch: every Invidious attempt with its
// backoff plus every extractor attempt with its backoff.
func fetchBudget(p policy, s settings.Settings, extractDelay time.Duration) time.Duration {
	var budget time.Duration
	if p.invidious != nil {
		retries := max(s.InvidiousMaxRetries, 1)
		budget += time.Duration(retries)*s.InvidiousTimeoutDuration() + s.InvidiousRetryBase()*time.Duration(1<<retries)
	}
	if p.extract != nil {
		attempts := max(p.attempts, 1)
		budget += time.Duration(attempts)*s.YTDLPTimeoutDuration() + extractDelay*time.Duration(1<<attempts)
	}
	return budget + time.Second
}

// InvalidateAll drops every cached resource. It returns the number of L1 entries removed.
func (g *Gateway) InvalidateAll(ctx context.Context) int {
	removed := 0
	for class := range g.policies {
		removed += g.cache.Invalidate(ctx, cache.Prefix(string(class)))
	}
	removed += g.cache.Invalidate(ctx, cache.Prefix(captionContentClass))
	logging.FromContext(ctx).Info("gateway cache invalidated", "entries", removed)
	return removed
}

// SettingsChanged is a settings.ChangeFunc that invalidates the cache when the
// Invidious instance changes, since cached responses carry its URLs.
func (g *Gateway) SettingsChanged(ctx context.Context, previous, current settings.Settings) {
	if previous.InvidiousInstance == current.InvidiousInstance && previous.InvidiousEnabled == current.InvidiousEnabled {
		return
	}
	g.InvalidateAll(ctx)
}

func (g *Gateway) lookup(ctx context.Context, p policy, d Descriptor, key string) (Result, bool) {
	class := string(d.Class)
	entry, ok := cache.GetJSON[cachedResult](ctx, g.cache, key)
	if !ok {
		g.metrics.CacheMisses.WithLabelValues(class).Inc()
		return Result{}, false
	}
	data, err := p.decode(entry.Data)
	if err != nil {
		logging.FromContext(ctx).Warn("discarding undecodable cache entry", "key", key, "error", err)
		g.metrics.CacheMisses.WithLabelValues(class).Inc()
		return Result{}, false
	}
	g.metrics.CacheHits.WithLabelValues(class).Inc()
	return Result{Class: d.Class, Backend: entry.Backend, Data: data, FromCache: true}, true
}

func (g *Gateway) store(ctx context.Context, p policy, s settings.Settings, d Descriptor, key, backend string, data any) Result {
	raw, err := json.Marshal(data)
	if err != nil {
		logging.FromContext(ctx).Warn("result not cacheable", "class", d.Class, "error", err)
	} else if err := cache.SetJSON(ctx, g.cache, key, cachedResult{Backend: backend, Data: raw}, p.ttl(s)); err != nil {
		logging.FromContext(ctx).Warn("cache write failed", "class", d.Class, "error", err)
	}
	return Result{Class: d.Class, Backend: backend, Data: data}
}

func (g *Gateway) fetch(ctx context.Context, p policy, s settings.Settings, d Descriptor, key string) (Result, error) {
	logger := logging.FromContext(ctx).With("class", d.Class)

	if p.invidious != nil && wantsInvidious(p, s, d) {
		client := g.NewInvidious(s)
		if client.Enabled() {
			data, err := p.invidious(ctx, client, d)
			g.observe(d.Class, BackendInvidious, err)
			if err == nil {
				return g.store(ctx, p, s, d, key, BackendInvidious, data), nil
			}
			reason, fallback := fallbackReason(s, err)
			if !fallback || p.extract == nil {
				return Result{}, &ExtractionError{Backend: BackendInvidious, Attempts: invidiousAttempts(err), Err: err}
			}
			logger.Warn("falling back from invidious", "reason", reason, "error", err)
			g.metrics.BackendFallbacks.WithLabelValues(string(d.Class), reason).Inc()
		} else if p.extract == nil {
			return Result{}, &ExtractionError{Backend: BackendInvidious, Err: ErrBackendUnavailable}
		}
	}
	if p.extract == nil {
		return Result{}, &ExtractionError{Backend: BackendInvidious, Err: ErrBackendUnavailable}
	}

	backend := p.extractBackend
	if backend == "" {
		backend = BackendYTDLP
	}
	data, attempts, err := g.runExtract(ctx, p, s, d)
	g.observe(d.Class, backend, err)
	if err != nil {
		return Result{}, &ExtractionError{Backend: backend, Attempts: attempts, Err: err}
	}
	return g.store(ctx, p, s, d, key, backend, data), nil
}

func (g *Gateway) runExtract(ctx context.Context, p policy, s settings.Settings, d Descriptor) (any, int, error) {
	attempts := max(p.attempts, 1)
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := g.ExtractRetryDelay * time.Duration(1<<(attempt-1))
			logging.FromContext(ctx).Info("retrying extraction", "class", d.Class, "attempt", attempt+1, "delay", delay)
			if err := g.Sleep(ctx, delay); err != nil {
				return nil, attempt, err
			}
		}
		data, err := p.extract(ctx, g, s, d)
		if err == nil {
			return data, attempt + 1, nil
		}
		lastErr = err
		if !retryableExtraction(ctx, err) {
			return nil, attempt + 1, err
		}
	}
	return nil, attempts, lastErr
}

func (g *Gateway) gate(ctx context.Context, p policy, s settings.Settings, d Descriptor) error {
	if p.gate == gateURL {
		if err := extractor.CheckSafeURL(ctx, d.URL, g.LookupIP); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}
	if p.gate == gateNone || s.AllowAllSitesForExtraction || g.sites == nil {
		return nil
	}
	switch p.gate {
	case gateYouTube:
		ok, err := g.sites.IsEnabled(ctx, models.SiteYouTube)
		if err != nil {
			return fmt.Errorf("check site %s: %w", models.SiteYouTube, err)
		}
		if !ok {
			return &SiteDisabledError{URL: extractor.VideoURL(d.ID), Extractor: models.SiteYouTube}
		}
	case gateURL:
		ok, hint, err := g.sites.URLEnabled(ctx, d.URL)
		if err != nil {
			return fmt.Errorf("check site for %s: %w", d.URL, err)
		}
		if !ok {
			return &SiteDisabledError{URL: d.URL, Extractor: hint}
		}
	}
	return nil
}

// extract runs the extractor with the snapshot's timeout.
func (g *Gateway) extract(ctx context.Context, s settings.Settings, target string, opts extractor.Options) ([]json.RawMessage, error) {
	if g.extractor == nil {
		return nil, extractor.ErrUnavailable
	}
	opts.Timeout = s.YTDLPTimeoutDuration()
	return g.extractor.Extract(ctx, target, opts)
}

func (g *Gateway) extractInfo(ctx context.Context, s settings.Settings, target string, opts extractor.Options) (extractor.Info, error) {
	docs, err := g.extract(ctx, s, target, opts)
	if err != nil {
		return extractor.Info{}, err
	}
	info, err := extractor.DecodeInfo(docs[0])
	if err != nil {
		return extractor.Info{}, fmt.Errorf("parse yt-dlp response: %w", err)
	}
	return info, nil
}

func (g *Gateway) extractEntries(ctx context.Context, s settings.Settings, target string, opts extractor.Options) ([]extractor.Info, error) {
	docs, err := g.extract(ctx, s, target, opts)
	if err != nil {
		return nil, err
	}
	entries := make([]extractor.Info, 0, len(docs))
	for _, doc := range docs {
		info, err := extractor.DecodeInfo(doc)
		if err != nil {
			continue
		}
		entries = append(entries, info)
	}
	return entries, nil
}

func (g *Gateway) observe(class Class, backend string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	g.metrics.BackendCalls.WithLabelValues(string(class), backend, outcome).Inc()
}

func wantsInvidious(p policy, s settings.Settings, d Descriptor) bool {
	if d.ForceInvidious != nil {
		return *d.ForceInvidious
	}
	return p.useInvidious != nil && p.useInvidious(s, d)
}

// errUseExtractor makes an Invidious fetcher defer to the extractor.
var errUseExtractor = errors.New("resource must be extracted")

// fallbackReason decides whether a failed Invidious call may fall back to the
// extractor and names why.
func fallbackReason(s settings.Settings, err error) (string, bool) {
	if errors.Is(err, errUseExtractor) {
		return "invidious_unsupported", true
	}
	code := invidious.StatusCode(err)
	var decodeErr *invidious.DecodeError
	switch {
	case code == http.StatusRequestURITooLong:
		return "invidious_error_414", s.FeedFallbackYTDLPOn414
	case invidious.IsRetryable(err) && code != 0:
		return fmt.Sprintf("invidious_error_%d", code), s.FeedFallbackYTDLPOnError
	case invidious.IsRetryable(err):
		return "invidious_error_connection", s.FeedFallbackYTDLPOnError
	case errors.As(err, &decodeErr):
		return "invidious_error_other", s.FeedFallbackYTDLPOnError
	}
	return "", false
}

func invidiousAttempts(err error) int {
	var retryErr *invidious.RetryError
	if errors.As(err, &retryErr) {
		return retryErr.Attempts
	}
	return 1
}

func retryableExtraction(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, extractor.ErrInvalidURL) ||
		errors.Is(err, extractor.ErrUnavailable) ||
		errors.Is(err, extractor.ErrNoResults) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrNotFound) {
		return false
	}
	var exitErr *extractor.ExitError
	return !(errors.As(err, &exitErr) && exitErr.NotFound())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
