package extractor

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/yattee/server/internal/models"
)

type staticCredentials struct {
	creds []models.Credential
}

func (s staticCredentials) CredentialsFor(ctx context.Context, target string) ([]models.Credential, error) {
	return s.creds, nil
}

func TestExtractSeparatesFlagsFromURL(t *testing.T) {
	y := New("yt-dlp", time.Second)
	y.SkipTLSVerify = true
	y.Run = func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		want := []string{"-j", "--no-download", "--no-warnings", "--flat-playlist", "--playlist-items", "1:30", "--no-check-certificates", "--", "https://www.youtube.com/channel/UCxyz/videos"}
		if strings.Join(args, " ") != strings.Join(want, " ") {
			t.Fatalf("unexpected args:\n got %q\nwant %q", args, want)
		}
		return []byte("{\"id\":\"a\"}\n\nnot json\n{\"id\":\"b\"}\n"), nil
	}

	docs, err := y.Extract(context.Background(), "https://www.youtube.com/channel/UCxyz/videos", Options{Flat: true, PlaylistItems: "1:30"})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
}

func TestExtractRejectsFlagLikeTargets(t *testing.T) {
	y := New("yt-dlp", time.Second)
	y.Run = func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		t.Fatal("runner must not be invoked")
		return nil, nil
	}

	for _, target := range []string{"--exec=rm", "file:///etc/passwd", "https://"} {
		if _, err := y.Extract(context.Background(), target, Options{}); !errors.Is(err, ErrInvalidURL) {
			t.Fatalf("expected ErrInvalidURL for %q, got %v", target, err)
		}
	}
}

func TestExtractTimeout(t *testing.T) {
	y := New("yt-dlp", 20*time.Millisecond)
	y.Run = func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := y.Extract(context.Background(), "https://example.com/v", Options{})
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeoutErr.Timeout != 20*time.Millisecond {
		t.Fatalf("unexpected timeout recorded: %s", timeoutErr.Timeout)
	}
}

func TestExtractParentCancellationIsNotTimeout(t *testing.T) {
	y := New("yt-dlp", time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	y.Run = func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := y.Extract(ctx, "https://example.com/v", Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExtractExitError(t *testing.T) {
	y := New("yt-dlp", time.Second)
	y.Run = func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		return nil, &exec.ExitError{Stderr: []byte("WARNING: x\nERROR: [youtube] abc: Video unavailable")}
	}

	_, err := y.Extract(context.Background(), "https://www.youtube.com/watch?v=abc", Options{})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if !exitErr.NotFound() {
		t.Fatal("expected not-found classification")
	}
	if !strings.Contains(exitErr.Error(), "Video unavailable") {
		t.Fatalf("expected last stderr line in message, got %q", exitErr.Error())
	}
}

func TestExtractNoResults(t *testing.T) {
	y := New("yt-dlp", time.Second)
	y.Run = func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		return []byte("\n"), nil
	}
	if _, err := y.Extract(context.Background(), "https://example.com/v", Options{}); !errors.Is(err, ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}
}

func TestExtractWritesAndRemovesCookieFile(t *testing.T) {
	dir := t.TempDir()
	y := New("yt-dlp", time.Second)
	y.TempDir = dir
	y.Credentials = staticCredentials{creds: []models.Credential{
		{Type: models.CredentialCookiesFile, Value: "# Netscape HTTP Cookie File"},
		{Type: models.CredentialHeader, Key: "X-Token", Value: "abc"},
	}}

	var cookiePath string
	y.Run = func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		if args[0] != "--cookies" {
			t.Fatalf("expected credential args first, got %q", args)
		}
		cookiePath = args[1]
		info, err := os.Stat(cookiePath)
		if err != nil {
			t.Fatalf("cookie file missing during run: %v", err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Fatalf("unexpected cookie file mode %v", info.Mode().Perm())
		}
		if args[2] != "--add-header" || args[3] != "X-Token:abc" {
			t.Fatalf("expected header args, got %q", args)
		}
		return []byte(`{"id":"x"}`), nil
	}

	if _, err := y.Extract(context.Background(), "https://vimeo.com/1", Options{}); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if _, err := os.Stat(cookiePath); !os.IsNotExist(err) {
		t.Fatalf("expected cookie file removed, stat err = %v", err)
	}
}

func TestCredentialArgsRejectsHeaderInjection(t *testing.T) {
	_, _, err := credentialArgs([]models.Credential{{Type: models.CredentialHeader, Key: "X-A", Value: "v\r\nX-B: injected"}}, t.TempDir())
	if err == nil {
		t.Fatal("expected header injection to be rejected")
	}
}

func TestCredentialArgsLogin(t *testing.T) {
	args, cleanup, err := credentialArgs([]models.Credential{
		{Type: models.CredentialLogin, Key: "user", Value: "pass"},
		{Type: models.CredentialNetrc},
		{Type: models.CredentialCookiesBrowser, Key: "firefox"},
	}, "")
	defer cleanup()
	if err != nil {
		t.Fatalf("credentialArgs() error = %v", err)
	}
	want := "--username user --password pass --netrc --cookies-from-browser firefox"
	if strings.Join(args, " ") != want {
		t.Fatalf("unexpected args %q", args)
	}
}

func TestStartDownload(t *testing.T) {
	y := New("yt-dlp", time.Second)
	y.Start = func(ctx context.Context, binary string, args ...string) (io.ReadCloser, func() error, error) {
		want := "-f 22 -o - --no-part --no-warnings --quiet -- https://www.youtube.com/watch?v=abcdefghijk"
		if strings.Join(args, " ") != want {
			t.Fatalf("unexpected args %q", args)
		}
		return io.NopCloser(strings.NewReader("media")), func() error { return nil }, nil
	}

	d, err := y.StartDownload(context.Background(), VideoURL("abcdefghijk"), "22")
	if err != nil {
		t.Fatalf("StartDownload() error = %v", err)
	}
	body, _ := io.ReadAll(d.Stdout)
	if string(body) != "media" {
		t.Fatalf("unexpected body %q", body)
	}
	if err := d.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestInfoPublished(t *testing.T) {
	ts := float64(1700000000)
	if got := (Info{Timestamp: &ts, UploadDate: "20200101"}).Published(); got.Unix() != 1700000000 {
		t.Fatalf("expected timestamp to win, got %v", got)
	}
	got := (Info{UploadDate: "20240315"}).Published()
	if got.Year() != 2024 || got.Month() != time.March || got.Day() != 15 {
		t.Fatalf("unexpected upload date parse %v", got)
	}
	if !(Info{UploadDate: "2024-3-1"}).Published().IsZero() {
		t.Fatal("expected zero time for malformed upload date")
	}
}

func TestSearchFilter(t *testing.T) {
	if SearchFilter("", "", "") != "" {
		t.Fatal("expected no filter")
	}
	if got := SearchFilter("date", "", ""); got != "CAI=" {
		t.Fatalf("unexpected sort filter %q", got)
	}
	if got := SearchFilter("", "week", "short"); got != "EgYIAxABGAE=" {
		t.Fatalf("unexpected date+duration filter %q", got)
	}
}

func TestChannelTabURL(t *testing.T) {
	if got := ChannelTabURL("@handle", "videos"); got != "https://www.youtube.com/@handle/videos" {
		t.Fatalf("unexpected handle url %q", got)
	}
	if got := ChannelTabURL("UCabc", "shorts"); got != "https://www.youtube.com/channel/UCabc/shorts" {
		t.Fatalf("unexpected channel url %q", got)
	}
	if PageItems(2, 30) != "31:60" {
		t.Fatalf("unexpected page items %q", PageItems(2, 30))
	}
}
