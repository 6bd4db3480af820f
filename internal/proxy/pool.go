// Package proxy streams extractor downloads to clients through a bounded
// set of download slots, staging every stream on disk while it plays.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yattee/server/internal/extractor"
	"github.com/yattee/server/internal/logging"
	"github.com/yattee/server/internal/metrics"
)

// ErrCapacityExceeded is returned when every download slot is taken. Callers
// should retry later; requests are never queued.
var ErrCapacityExceeded = errors.New("proxy: all download slots are busy")

// ErrInvalidRequest is returned for requests missing a video id or URL.
var ErrInvalidRequest = errors.New("proxy: invalid request")

// Status is the lifecycle state of a download job.
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusReady       Status = "ready"
	StatusExpired     Status = "expired"
	StatusFailed      Status = "failed"
)

// Job is one staged download.
type Job struct {
	ID         string
	VideoID    string
	Format     string
	FilePath   string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     Status
	Bytes      int64
	ArchiveURL string
}

// Request describes a stream to proxy.
type Request struct {
	VideoID string
	Format  string
	URL     string
	Ext     string
}

// Downloader starts an extractor download.
type Downloader interface {
	StartDownload(ctx context.Context, target, format string) (*extractor.Download, error)
}

// Archiver receives jobs whose download completed.
type Archiver interface {
	Enqueue(ctx context.Context, job Job) error
}

const copyBufferSize = 64 * 1024

// Pool bounds concurrent downloads and tracks their staged files.
type Pool struct {
	dir        string
	downloader Downloader
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	active   int
	capacity int
	maxAge   time.Duration
	archiver Archiver
	jobs     map[string]*Job
}

// NewPool returns a pool staging files under dir with capacity slots. m may be nil.
func NewPool(dir string, downloader Downloader, capacity int, maxAge time.Duration, m *metrics.Metrics, logger *slog.Logger) *Pool {
	if m == nil {
		m = metrics.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	capacity = max(capacity, 1)
	return &Pool{
		dir:        dir,
		downloader: downloader,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
		capacity:   capacity,
		maxAge:     maxAge,
		jobs:       make(map[string]*Job),
	}
}

// SetArchiver installs the archive hook called for completed downloads.
func (p *Pool) SetArchiver(a Archiver) {
	p.mu.Lock()
	p.archiver = a
	p.mu.Unlock()
}

// Configure applies new limits. Shrinking below the held permits rejects new
// ones until enough of them are released.
func (p *Pool) Configure(capacity int, maxAge time.Duration) {
	capacity = max(capacity, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if capacity != p.capacity {
		p.capacity = capacity
		p.logger.Info("proxy capacity changed", "capacity", capacity, "active", p.active)
	}
	p.maxAge = maxAge
}

// Dir returns the staging directory.
func (p *Pool) Dir() string { return p.dir }

// Permit is a held download slot.
type Permit struct {
	once    sync.Once
	release func()
}

// Release returns the slot. Calling it more than once is a no-op.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(p.release)
}

// Acquire takes a download slot without waiting.
func (p *Pool) Acquire() (*Permit, error) {
	p.mu.Lock()
	if p.active >= p.capacity {
		p.mu.Unlock()
		p.metrics.ProxyRejected.Inc()
		return nil, ErrCapacityExceeded
	}
	p.active++
	p.mu.Unlock()

	p.metrics.ProxyActiveDownloads.Inc()
	return &Permit{release: func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		p.metrics.ProxyActiveDownloads.Dec()
	}}, nil
}

// Stream downloads req through the extractor and copies the bytes to w while
// staging them on disk. When ctx ends or w stops accepting bytes, the
// download is killed, the partial file removed and nil returned.
func (p *Pool) Stream(ctx context.Context, w io.Writer, req Request) (Job, error) {
	videoID := SanitizeToken(req.VideoID)
	format := SanitizeToken(req.Format)
	if videoID == "" || req.URL == "" {
		return Job{}, ErrInvalidRequest
	}
	if format == "" {
		format = "best"
	}

	permit, err := p.Acquire()
	if err != nil {
		return Job{}, err
	}
	defer permit.Release()

	ctx, span := logging.StartSpan(ctx, "proxy.stream")
	logger := logging.FromContext(ctx).With("videoId", videoID, "format", format)

	job, file, err := p.register(videoID, format, SanitizeExt(req.Ext))
	if err != nil {
		span.EndWithError(err)
		return Job{}, err
	}
	logger = logger.With("jobId", job.ID)

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dl, err := p.downloader.StartDownload(dctx, req.URL, req.Format)
	if err != nil {
		p.discard(job.ID, file)
		span.EndWithError(err)
		return p.snapshot(job.ID), fmt.Errorf("start download: %w", err)
	}

	written, copyErr := relay(w, file, dl.Stdout)
	if copyErr != nil || ctx.Err() != nil {
		cancel()
	}
	_ = dl.Stdout.Close()
	waitErr := dl.Wait()

	switch {
	case errors.Is(copyErr, errClientGone) || ctx.Err() != nil:
		p.discard(job.ID, file)
		logger.Info("proxy client disconnected", "bytes", written)
		span.End()
		return p.snapshot(job.ID), nil
	case copyErr != nil:
		p.discard(job.ID, file)
		span.EndWithError(copyErr)
		return p.snapshot(job.ID), copyErr
	case waitErr != nil:
		p.discard(job.ID, file)
		span.EndWithError(waitErr)
		return p.snapshot(job.ID), fmt.Errorf("download: %w", waitErr)
	}

	if err := file.Close(); err != nil {
		p.discard(job.ID, file)
		span.EndWithError(err)
		return p.snapshot(job.ID), fmt.Errorf("close staged file: %w", err)
	}

	p.mu.Lock()
	if j, ok := p.jobs[job.ID]; ok {
		j.Status = StatusReady
		j.Bytes = written
		j.FinishedAt = p.now()
	}
	archiver := p.archiver
	p.mu.Unlock()

	done := p.snapshot(job.ID)
	logger.Info("proxy download complete", "bytes", written)
	if archiver != nil {
		if err := archiver.Enqueue(ctx, done); err != nil {
			logger.Warn("archive enqueue failed", "error", err)
		}
	}
	span.End()
	return done, nil
}

// Ready returns the newest completed job for videoID and format whose staged
// file still exists.
func (p *Pool) Ready(videoID, format string) (Job, bool) {
	videoID, format = SanitizeToken(videoID), SanitizeToken(format)
	if format == "" {
		format = "best"
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Job
	for _, j := range p.jobs {
		if j.Status != StatusReady || j.VideoID != videoID || j.Format != format {
			continue
		}
		if best == nil || j.FinishedAt.After(best.FinishedAt) {
			best = j
		}
	}
	if best == nil {
		return Job{}, false
	}
	if _, err := os.Stat(best.FilePath); err != nil {
		best.Status = StatusExpired
		return Job{}, false
	}
	return *best, true
}

// Jobs returns the registry ordered by start time.
func (p *Pool) Jobs() []Job {
	p.mu.Lock()
	out := make([]Job, 0, len(p.jobs))
	for _, j := range p.jobs {
		out = append(out, *j)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// SetArchiveURL records where a job's file was archived.
func (p *Pool) SetArchiveURL(jobID, location string) {
	p.mu.Lock()
	if j, ok := p.jobs[jobID]; ok {
		j.ArchiveURL = location
	}
	p.mu.Unlock()
}

// Sweep deletes staged files older than the max age, whatever their job
// status, and files no job refers to. Jobs whose files are gone are marked
// expired; expired and failed jobs past the max age leave the registry.
func (p *Pool) Sweep(now time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries, err := os.ReadDir(p.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read staging dir: %w", err)
	}

	known := make(map[string]*Job, len(p.jobs))
	for _, j := range p.jobs {
		known[j.FilePath] = j
	}

	cutoff := now.Add(-p.maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(p.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		job, tracked := known[path]
		if tracked && !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("remove staged file failed", "path", path, "error", err)
			continue
		}
		removed++
		if tracked {
			job.Status = StatusExpired
		}
	}

	for id, j := range p.jobs {
		if (j.Status == StatusExpired || j.Status == StatusFailed) && j.StartedAt.Before(cutoff) {
			delete(p.jobs, id)
		}
	}

	if removed > 0 {
		p.metrics.ProxySweptFiles.Add(float64(removed))
		p.logger.Info("swept staged proxy files", "removed", removed)
	}
	return removed, nil
}

// ReconcileOnStart prepares the staging directory after a restart. The
// registry is empty then, so every staged file is an orphan.
func (p *Pool) ReconcileOnStart() (int, error) {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return 0, fmt.Errorf("create staging dir: %w", err)
	}
	return p.Sweep(p.now())
}

func (p *Pool) register(videoID, format, ext string) (Job, *os.File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return Job{}, nil, fmt.Errorf("create staging dir: %w", err)
	}
	id := uuid.NewString()
	name := fmt.Sprintf("%s_%s_%s.%s", videoID, format, strings.ReplaceAll(id, "-", ""), ext)
	path := filepath.Join(p.dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Job{}, nil, fmt.Errorf("create staged file: %w", err)
	}

	job := &Job{ID: id, VideoID: videoID, Format: format, FilePath: path, StartedAt: p.now(), Status: StatusDownloading}
	p.jobs[id] = job
	return *job, file, nil
}

func (p *Pool) discard(jobID string, file *os.File) {
	_ = file.Close()
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[jobID]
	if !ok {
		return
	}
	if err := os.Remove(j.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("remove partial file failed", "path", j.FilePath, "error", err)
	}
	j.Status = StatusFailed
	j.FinishedAt = p.now()
}

func (p *Pool) snapshot(jobID string) Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	if j, ok := p.jobs[jobID]; ok {
		return *j
	}
	return Job{}
}

var errClientGone = errors.New("proxy client gone")

// relay copies src into both the staged file and the client as bytes
// arrive, flushing the client after every chunk.
func relay(client io.Writer, staged io.Writer, src io.Reader) (int64, error) {
	flusher, _ := client.(http.Flusher)
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := staged.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write staged file: %w", err)
			}
			if _, err := client.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("%w: %v", errClientGone, err)
			}
			if flusher != nil {
				flusher.Flush()
			}
			written += int64(n)
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("read download: %w", rerr)
		}
	}
}
