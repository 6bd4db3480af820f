package auth

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestSigner(t *testing.T) (*TokenSigner, *time.Time) {
	t.Helper()
	signer, err := NewTokenSigner("secret")
	if err != nil {
		t.Fatalf("NewTokenSigner() error = %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	signer.now = func() time.Time { return now }
	return signer, &now
}

func TestTokenRoundTrip(t *testing.T) {
	signer, _ := newTestSigner(t)
	token := signer.Sign(42, "dQw4w9WgXcQ", time.Hour)

	userID, err := signer.Verify(token, "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if userID != 42 {
		t.Fatalf("expected user 42, got %d", userID)
	}
	if _, err := signer.Verify(token, ""); err != nil {
		t.Fatalf("Verify() without video binding error = %v", err)
	}
}

func TestTokenRejections(t *testing.T) {
	signer, now := newTestSigner(t)
	token := signer.Sign(7, "abc", time.Minute)

	if _, err := signer.Verify(token, "other"); !errors.Is(err, ErrTokenVideo) {
		t.Fatalf("expected ErrTokenVideo, got %v", err)
	}
	if _, err := signer.Verify("", "abc"); !errors.Is(err, ErrTokenMissing) {
		t.Fatalf("expected ErrTokenMissing, got %v", err)
	}
	if _, err := signer.Verify("%%%", "abc"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed, got %v", err)
	}

	other, _ := NewTokenSigner("another-secret")
	if _, err := other.Verify(token, "abc"); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected ErrTokenSignature, got %v", err)
	}

	raw, _ := base64.URLEncoding.DecodeString(token)
	tampered := base64.URLEncoding.EncodeToString([]byte(strings.Replace(string(raw), "7:", "8:", 1)))
	if _, err := signer.Verify(tampered, "abc"); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected tampered token rejected, got %v", err)
	}

	*now = now.Add(2 * time.Minute)
	if _, err := signer.Verify(token, "abc"); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestLoadOrCreateSecretPersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	first, err := LoadOrCreateSecret(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateSecret() error = %v", err)
	}
	second, err := LoadOrCreateSecret(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateSecret() error = %v", err)
	}
	if first == "" || first != second {
		t.Fatalf("secret not reused: %q vs %q", first, second)
	}

	info, err := os.Stat(filepath.Join(dir, secretFileName))
	if err != nil {
		t.Fatalf("stat secret: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("secret file mode = %v", info.Mode().Perm())
	}
}

func TestAppendToken(t *testing.T) {
	if got := AppendToken("/proxy/fast/abc", "t"); got != "/proxy/fast/abc?token=t" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := AppendToken("/proxy/fast/abc?itag=18", "t"); got != "/proxy/fast/abc?itag=18&token=t" {
		t.Fatalf("unexpected url %q", got)
	}
}
