package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yattee/server/internal/config"
)

type recordedPut struct {
	method      string
	path        string
	contentType string
	acl         string
}

func newFakeBucket(t *testing.T) (*httptest.Server, func() []recordedPut) {
	t.Helper()
	var (
		mu   sync.Mutex
		puts []recordedPut
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		puts = append(puts, recordedPut{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			acl:         r.Header.Get("X-Amz-Acl"),
		})
		mu.Unlock()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedPut {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedPut(nil), puts...)
	}
}

func newTestClient(endpoint string) *s3.Client {
	return s3.New(s3.Options{
		Region:                     "us-east-1",
		BaseEndpoint:               aws.String(endpoint),
		UsePathStyle:               true,
		Credentials:                aws.AnonymousCredentials{},
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
	})
}

func TestSaveReturnsPublicURL(t *testing.T) {
	srv, recorded := newFakeBucket(t)
	store := NewS3StorageWithClient(newTestClient(srv.URL), "archive", "https://cdn.example.com/")

	location, err := store.Save(context.Background(), "/abc123/abc123_best_ff.mp4", strings.NewReader("video"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if location != "https://cdn.example.com/abc123/abc123_best_ff.mp4" {
		t.Fatalf("unexpected location %q", location)
	}

	puts := recorded()
	if len(puts) != 1 {
		t.Fatalf("expected one request, got %d", len(puts))
	}
	if puts[0].method != http.MethodPut || puts[0].path != "/archive/abc123/abc123_best_ff.mp4" {
		t.Fatalf("unexpected request %+v", puts[0])
	}
	if puts[0].contentType != "video/mp4" {
		t.Fatalf("unexpected content type %q", puts[0].contentType)
	}
	if puts[0].acl != "public-read" {
		t.Fatalf("expected public-read acl, got %q", puts[0].acl)
	}
}

func TestSaveWithoutPublicURLReturnsKey(t *testing.T) {
	srv, recorded := newFakeBucket(t)
	store := NewS3StorageWithClient(newTestClient(srv.URL), "archive", "")

	location, err := store.Save(context.Background(), "vid/file.webm", strings.NewReader("video"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if location != "vid/file.webm" {
		t.Fatalf("unexpected location %q", location)
	}
	if puts := recorded(); len(puts) != 1 || puts[0].acl != "" {
		t.Fatalf("private uploads must not set an acl: %+v", puts)
	}
}

func TestSaveRejectsEmptyKey(t *testing.T) {
	store := NewS3StorageWithClient(newTestClient("http://127.0.0.1:1"), "archive", "")
	if _, err := store.Save(context.Background(), "/", strings.NewReader("x")); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestNewS3StorageRequiresBucket(t *testing.T) {
	_, err := NewS3Storage(context.Background(), config.ObjectStoreConfig{Region: "us-east-1"})
	if !errors.Is(err, ErrBucketRequired) {
		t.Fatalf("expected ErrBucketRequired, got %v", err)
	}
}
