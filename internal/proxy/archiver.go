package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/yattee/server/internal/metrics"
)

// ObjectStorage stores an archived file and returns its location.
type ObjectStorage interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
}

// ArchiverConfig controls the concurrency characteristics of the archiver.
type ArchiverConfig struct {
	QueueSize     int
	Workers       int
	UploadTimeout time.Duration
}

var (
	errArchiverClosed = errors.New("archiver closed")
	// ErrArchiveQueueFull is returned when the upload queue has no room.
	ErrArchiveQueueFull = errors.New("archive queue full")
)

// FileArchiver uploads completed downloads to object storage in the background.
type FileArchiver struct {
	storage  ObjectStorage
	onStored func(jobID, location string)
	metrics  *metrics.Metrics
	logger   *slog.Logger
	timeout  time.Duration

	jobs   chan Job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewArchiver starts the worker pool. onStored, when set, receives the
// location of every uploaded job.
func NewArchiver(storage ObjectStorage, cfg ArchiverConfig, onStored func(jobID, location string), m *metrics.Metrics, logger *slog.Logger) *FileArchiver {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 10 * time.Minute
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &FileArchiver{
		storage:  storage,
		onStored: onStored,
		metrics:  m,
		logger:   logger,
		timeout:  cfg.UploadTimeout,
		jobs:     make(chan Job, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	a.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go a.worker()
	}
	return a
}

// Enqueue schedules an upload without blocking the caller.
func (a *FileArchiver) Enqueue(ctx context.Context, job Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.ctx.Done():
		return errArchiverClosed
	default:
	}

	select {
	case a.jobs <- job:
		return nil
	default:
		a.metrics.ArchiveUploads.WithLabelValues("dropped").Inc()
		return ErrArchiveQueueFull
	}
}

// Shutdown stops accepting jobs and waits for in-flight uploads.
func (a *FileArchiver) Shutdown(ctx context.Context) error {
	a.once.Do(func() {
		a.cancel()
		close(a.jobs)
	})

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (a *FileArchiver) worker() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case job, ok := <-a.jobs:
			if !ok {
				return
			}
			a.handle(job)
		}
	}
}

func (a *FileArchiver) handle(job Job) {
	logger := a.logger.With("jobId", job.ID, "videoId", job.VideoID)
	location, err := a.upload(job)
	if err != nil {
		a.metrics.ArchiveUploads.WithLabelValues("error").Inc()
		logger.Error("archive upload failed", "error", err)
		return
	}
	a.metrics.ArchiveUploads.WithLabelValues("ok").Inc()
	logger.Info("archived proxy download", "location", location)
	if a.onStored != nil {
		a.onStored(job.ID, location)
	}
}

func (a *FileArchiver) upload(job Job) (string, error) {
	if a.storage == nil {
		return "", errors.New("archive storage not configured")
	}
	f, err := os.Open(job.FilePath)
	if err != nil {
		return "", fmt.Errorf("open staged file: %w", err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	key := path.Join(job.VideoID, filepath.Base(job.FilePath))
	return a.storage.Save(ctx, key, f)
}

var _ Archiver = (*FileArchiver)(nil)
