package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/yattee/server/internal/models"
	"github.com/yattee/server/internal/repositories"
)

type stubUsers struct {
	mu      sync.Mutex
	users   map[string]models.User
	touched []int64
	hasErr  error
}

func (s *stubUsers) HasAny(ctx context.Context) (bool, error) {
	if s.hasErr != nil {
		return false, s.hasErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users) > 0, nil
}

func (s *stubUsers) FindByUsername(ctx context.Context, username string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return models.User{}, repositories.ErrNotFound
	}
	return user, nil
}

func (s *stubUsers) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	s.touched = append(s.touched, id)
	s.mu.Unlock()
	return nil
}

type countingLimiter struct {
	failures map[string]int
	max      int
}

func (l *countingLimiter) Limited(key string) bool  { return l.failures[key] >= l.max }
func (l *countingLimiter) RecordFailure(key string) { l.failures[key]++ }
func (l *countingLimiter) Reset(key string)         { delete(l.failures, key) }

func newTestAuthenticator(t *testing.T, users *stubUsers) (*Authenticator, *countingLimiter) {
	t.Helper()
	limiter := &countingLimiter{failures: map[string]int{}, max: 2}
	signer, err := NewTokenSigner("secret")
	if err != nil {
		t.Fatalf("NewTokenSigner() error = %v", err)
	}
	return NewAuthenticator(users, limiter, signer, nil, nil), limiter
}

func withAlice(t *testing.T) *stubUsers {
	t.Helper()
	hash, err := HashPassword("wonderland")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	return &stubUsers{users: map[string]models.User{
		"alice": {ID: 3, Username: "alice", PasswordHash: hash},
	}}
}

func basic(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func serve(a *Authenticator, path, authorization string) (*httptest.ResponseRecorder, *models.User) {
	var seen *models.User
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, ok := UserFromContext(r.Context()); ok {
			seen = &user
		}
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "203.0.113.9:4000"
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestMiddlewareOpenUntilFirstUser(t *testing.T) {
	a, _ := newTestAuthenticator(t, &stubUsers{users: map[string]models.User{}})
	rec, _ := serve(a, "/api/v1/videos/abc", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected open access before setup, got %d", rec.Code)
	}
}

func TestMiddlewareRequiresCredentials(t *testing.T) {
	a, _ := newTestAuthenticator(t, withAlice(t))

	rec, _ := serve(a, "/api/v1/videos/abc", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate challenge")
	}

	rec, _ = serve(a, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("public path should pass, got %d", rec.Code)
	}
	rec, _ = serve(a, "/proxy/fast/abc", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("proxy path should pass, got %d", rec.Code)
	}
}

func TestMiddlewareAcceptsValidCredentials(t *testing.T) {
	users := withAlice(t)
	a, _ := newTestAuthenticator(t, users)

	rec, seen := serve(a, "/api/v1/videos/abc", basic("alice", "wonderland"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen == nil || seen.ID != 3 {
		t.Fatalf("user not stored on context: %+v", seen)
	}
	if rec.Header().Get(UserHeader) != "3" {
		t.Fatalf("unexpected user header %q", rec.Header().Get(UserHeader))
	}
	if len(users.touched) != 1 {
		t.Fatalf("expected last login recorded, got %v", users.touched)
	}
}

func TestMiddlewareRateLimitsRepeatedFailures(t *testing.T) {
	a, limiter := newTestAuthenticator(t, withAlice(t))

	for i := 0; i < 2; i++ {
		rec, _ := serve(a, "/api/v1/videos/abc", basic("alice", "wrong"))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, rec.Code)
		}
	}
	rec, _ := serve(a, "/api/v1/videos/abc", basic("alice", "wonderland"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated failures, got %d", rec.Code)
	}
	if limiter.failures["203.0.113.9"] != 2 {
		t.Fatalf("unexpected failure count %d", limiter.failures["203.0.113.9"])
	}
}

func TestMiddlewareUnknownUserCountsAsFailure(t *testing.T) {
	a, limiter := newTestAuthenticator(t, withAlice(t))
	rec, _ := serve(a, "/api/v1/search", basic("mallory", "x"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if limiter.failures["203.0.113.9"] != 1 {
		t.Fatal("unknown user must be recorded as a failure")
	}
}

func TestMiddlewareStoreErrorIs500(t *testing.T) {
	a, _ := newTestAuthenticator(t, &stubUsers{hasErr: errors.New("db down")})
	rec, _ := serve(a, "/api/v1/search", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestCheckStreamToken(t *testing.T) {
	open, _ := newTestAuthenticator(t, &stubUsers{users: map[string]models.User{}})
	if err := open.CheckStreamToken(context.Background(), "", "abc"); err != nil {
		t.Fatalf("tokens must not be required before setup: %v", err)
	}

	a, _ := newTestAuthenticator(t, withAlice(t))
	if err := a.CheckStreamToken(context.Background(), "", "abc"); !errors.Is(err, ErrTokenMissing) {
		t.Fatalf("expected ErrTokenMissing, got %v", err)
	}

	ctx := WithUser(context.Background(), models.User{ID: 3})
	token := a.StreamToken(ctx, "abc", time.Hour)
	if err := a.CheckStreamToken(context.Background(), token, "abc"); err != nil {
		t.Fatalf("CheckStreamToken() error = %v", err)
	}
	if got := a.StreamToken(context.Background(), "abc", time.Hour); got != "" {
		t.Fatalf("anonymous requests get no token, got %q", got)
	}
}

func TestParseBasicAuth(t *testing.T) {
	user, pass, ok := ParseBasicAuth(basic("bob", "p:w"))
	if !ok || user != "bob" || pass != "p:w" {
		t.Fatalf("unexpected parse: %q %q %v", user, pass, ok)
	}
	if _, _, ok := ParseBasicAuth("Bearer xyz"); ok {
		t.Fatal("expected non-basic scheme rejected")
	}
	if _, _, ok := ParseBasicAuth("Basic !!!"); ok {
		t.Fatal("expected bad base64 rejected")
	}
}

func TestProvisionAdmin(t *testing.T) {
	var gotUser, gotHash string
	provisioner := adminFunc(func(ctx context.Context, username, hash string) error {
		gotUser, gotHash = username, hash
		return nil
	})
	if err := ProvisionAdmin(context.Background(), provisioner, "root", "pw"); err != nil {
		t.Fatalf("ProvisionAdmin() error = %v", err)
	}
	if gotUser != "root" || !CheckPassword(gotHash, "pw") {
		t.Fatalf("unexpected provisioning: %q %q", gotUser, gotHash)
	}
}

type adminFunc func(ctx context.Context, username, hash string) error

func (f adminFunc) UpsertAdmin(ctx context.Context, username, hash string) error {
	return f(ctx, username, hash)
}

func TestAdminAllowed(t *testing.T) {
	empty := &stubUsers{users: map[string]models.User{}}
	a, _ := newTestAuthenticator(t, empty)
	if ok, err := a.AdminAllowed(context.Background()); !ok || err != nil {
		t.Fatalf("expected admin access before setup, got %v %v", ok, err)
	}

	users := &stubUsers{users: map[string]models.User{"viewer": {ID: 2, Username: "viewer"}}}
	a, _ = newTestAuthenticator(t, users)
	if ok, _ := a.AdminAllowed(context.Background()); ok {
		t.Fatal("anonymous request must not be admin")
	}
	if ok, _ := a.AdminAllowed(WithUser(context.Background(), models.User{ID: 2})); ok {
		t.Fatal("non-admin user must be refused")
	}
	if ok, _ := a.AdminAllowed(WithUser(context.Background(), models.User{ID: 1, IsAdmin: true})); !ok {
		t.Fatal("admin user must be allowed")
	}
}
