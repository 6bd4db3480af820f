// Package auth implements HTTP basic authentication for API users and the
// signed stream tokens that let media players fetch proxied content.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/yattee/server/internal/logging"
	"github.com/yattee/server/internal/metrics"
	"github.com/yattee/server/internal/middleware"
	"github.com/yattee/server/internal/models"
	"github.com/yattee/server/internal/repositories"
)

const realm = `Basic realm="Yattee Server"`

// UserHeader carries the authenticated user id on responses.
const UserHeader = "X-User-Id"

// PublicPaths are reachable without basic auth. Media paths check stream
// tokens themselves.
var PublicPaths = []string{
	"/healthz",
	"/metrics",
	"/proxy/",
	"/api/v1/thumbnails/",
	"/api/v1/captions/",
}

// UserStore is the part of the user repository authentication needs.
type UserStore interface {
	HasAny(ctx context.Context) (bool, error)
	FindByUsername(ctx context.Context, username string) (models.User, error)
	TouchLogin(ctx context.Context, id int64, at time.Time) error
}

// FailureLimiter throttles clients that keep sending bad credentials.
type FailureLimiter interface {
	Limited(key string) bool
	RecordFailure(key string)
	Reset(key string)
}

// Authenticator guards the API with HTTP basic auth once at least one user
// exists. Until then every request is let through so the first admin can be
// created.
type Authenticator struct {
	users   UserStore
	limiter FailureLimiter
	signer  *TokenSigner
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	setupComplete atomic.Bool
}

// NewAuthenticator wires the user store, failure limiter and stream token signer.
func NewAuthenticator(users UserStore, limiter FailureLimiter, signer *TokenSigner, m *metrics.Metrics, logger *slog.Logger) *Authenticator {
	if m == nil {
		m = metrics.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		users:   users,
		limiter: limiter,
		signer:  signer,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Required reports whether requests must authenticate. Once a user exists the
// answer is cached; users are never removed at runtime.
func (a *Authenticator) Required(ctx context.Context) (bool, error) {
	if a.setupComplete.Load() {
		return true, nil
	}
	exists, err := a.users.HasAny(ctx)
	if err != nil {
		return false, err
	}
	if exists {
		a.setupComplete.Store(true)
	}
	return exists, nil
}

// Middleware enforces basic auth on every non-public path.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := logging.FromContext(ctx)

		required, err := a.Required(ctx)
		if err != nil {
			logger.Error("check users", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "authentication unavailable")
			return
		}
		if !required || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := middleware.ClientIP(r)
		if a.limiter != nil && a.limiter.Limited(clientIP) {
			a.metrics.AuthRateLimited.Inc()
			logger.Warn("rate limited client", "client_ip", clientIP)
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many failed authentication attempts, try again later")
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			challenge(w, "authentication required")
			return
		}

		username, password, ok := ParseBasicAuth(header)
		if !ok {
			a.fail(clientIP)
			challenge(w, "invalid authorization header")
			return
		}

		user, err := a.users.FindByUsername(ctx, username)
		switch {
		case errors.Is(err, repositories.ErrNotFound):
		case err != nil:
			logger.Error("load user", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "authentication unavailable")
			return
		}
		if err != nil || !CheckPassword(user.PasswordHash, password) {
			a.fail(clientIP)
			logger.Warn("failed authentication", "client_ip", clientIP, "username", username)
			challenge(w, "invalid credentials")
			return
		}

		if a.limiter != nil {
			a.limiter.Reset(clientIP)
		}
		if err := a.users.TouchLogin(ctx, user.ID, a.now()); err != nil {
			logger.Warn("record login", "error", err, "user_id", user.ID)
		}

		w.Header().Set(UserHeader, strconv.FormatInt(user.ID, 10))
		next.ServeHTTP(w, r.WithContext(WithUser(ctx, user)))
	})
}

// AdminAllowed reports whether the request on ctx may use the admin
// endpoints: anyone before the first user exists, afterwards admins only.
func (a *Authenticator) AdminAllowed(ctx context.Context) (bool, error) {
	required, err := a.Required(ctx)
	if err != nil || !required {
		return !required, err
	}
	user, ok := UserFromContext(ctx)
	return ok && user.IsAdmin, nil
}

// CheckStreamToken validates a stream token for videoID. Tokens are only
// demanded once authentication is required.
func (a *Authenticator) CheckStreamToken(ctx context.Context, token, videoID string) error {
	required, err := a.Required(ctx)
	if err != nil {
		return err
	}
	if !required {
		return nil
	}
	_, err = a.signer.Verify(token, videoID)
	return err
}

// StreamToken signs a token for the user on ctx, or returns "" when the
// request is anonymous.
func (a *Authenticator) StreamToken(ctx context.Context, videoID string, ttl time.Duration) string {
	user, ok := UserFromContext(ctx)
	if !ok || a.signer == nil {
		return ""
	}
	return a.signer.Sign(user.ID, videoID, ttl)
}

func (a *Authenticator) fail(clientIP string) {
	a.metrics.AuthFailures.Inc()
	if a.limiter != nil {
		a.limiter.RecordFailure(clientIP)
	}
}

// ParseBasicAuth decodes an Authorization header value.
func ParseBasicAuth(header string) (username, password string, ok bool) {
	scheme, encoded, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "basic") {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", "", false
	}
	return strings.Cut(string(decoded), ":")
}

func isPublicPath(path string) bool {
	for _, public := range PublicPaths {
		if path == public || strings.HasPrefix(path, public) {
			return true
		}
	}
	return false
}

func challenge(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", realm)
	writeError(w, http.StatusUnauthorized, "unauthorized", message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

type userKey struct{}

// WithUser stores the authenticated user on ctx.
func WithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the user stored by the middleware.
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(userKey{}).(models.User)
	return user, ok
}
