package proxy

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type storageStub struct {
	mu    sync.Mutex
	saved map[string][]byte
	err   error
}

func (s *storageStub) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(map[string][]byte)
	}
	s.saved[name] = data
	return fmt.Sprintf("https://cdn.example.com/%s", name), nil
}

func TestArchiverUploadsUnderVideoPrefix(t *testing.T) {
	file := filepath.Join(t.TempDir(), "vid_18_abc.mp4")
	if err := os.WriteFile(file, []byte("media"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	storage := &storageStub{}
	var (
		mu      sync.Mutex
		located = map[string]string{}
	)
	archiver := NewArchiver(storage, ArchiverConfig{QueueSize: 1, Workers: 1}, func(jobID, location string) {
		mu.Lock()
		located[jobID] = location
		mu.Unlock()
	}, nil, discardLogger)

	if err := archiver.Enqueue(context.Background(), Job{ID: "job-1", VideoID: "vid", FilePath: file}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(located)
		mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := archiver.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	storage.mu.Lock()
	defer storage.mu.Unlock()
	if string(storage.saved["vid/vid_18_abc.mp4"]) != "media" {
		t.Fatalf("unexpected uploads: %v", storage.saved)
	}
	mu.Lock()
	defer mu.Unlock()
	if located["job-1"] != "https://cdn.example.com/vid/vid_18_abc.mp4" {
		t.Fatalf("unexpected location: %v", located)
	}

	if err := archiver.Enqueue(context.Background(), Job{ID: "late"}); err == nil {
		t.Fatal("expected enqueue after shutdown to fail")
	}
}
