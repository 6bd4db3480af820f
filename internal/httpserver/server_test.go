package httpserver

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestNewDisablesWriteDeadline(t *testing.T) {
	srv := New(8080, http.NotFoundHandler(), nil)
	if srv.Addr() != ":8080" {
		t.Fatalf("unexpected addr %q", srv.Addr())
	}
	if srv.inner.WriteTimeout != 0 {
		t.Fatalf("streams need no write deadline, got %s", srv.inner.WriteTimeout)
	}
	if srv.inner.ReadHeaderTimeout == 0 {
		t.Fatal("expected a read header timeout")
	}
}

func TestStartReturnsNilAfterShutdown(t *testing.T) {
	srv := New(0, http.NotFoundHandler(), nil)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
