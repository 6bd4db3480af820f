package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Stream token validation errors.
var (
	ErrTokenMissing   = errors.New("missing streaming token")
	ErrTokenMalformed = errors.New("invalid token format")
	ErrTokenSignature = errors.New("invalid signature")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenVideo     = errors.New("video id mismatch")
)

const secretFileName = ".stream_token_secret"

// TokenSigner issues and checks time-limited stream tokens. A token encodes
// userID:videoID:expiry plus an HMAC-SHA256 signature over that payload, all
// wrapped in URL-safe base64 so it can travel as a query parameter.
type TokenSigner struct {
	key []byte
	now func() time.Time
}

// NewTokenSigner returns a signer keyed by secret.
func NewTokenSigner(secret string) (*TokenSigner, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("token secret must not be empty")
	}
	return &TokenSigner{key: []byte(secret), now: time.Now}, nil
}

// LoadOrCreateSecret reads the signing secret from dataDir, generating and
// persisting a new one with owner-only permissions on first use.
func LoadOrCreateSecret(dataDir string) (string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, secretFileName)

	raw, err := os.ReadFile(path)
	if err == nil {
		if secret := strings.TrimSpace(string(raw)); secret != "" {
			return secret, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read token secret: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(secret), 0o600); err != nil {
		return "", fmt.Errorf("write token secret: %w", err)
	}
	return secret, nil
}

// Sign returns a token granting userID access to videoID for ttl.
func (s *TokenSigner) Sign(userID int64, videoID string, ttl time.Duration) string {
	expiry := s.now().Add(ttl).Unix()
	payload := fmt.Sprintf("%d:%s:%d", userID, videoID, expiry)
	data := payload + ":" + base64.URLEncoding.EncodeToString(s.mac(payload))
	return base64.URLEncoding.EncodeToString([]byte(data))
}

// Verify checks token and returns the user it was issued to. An empty videoID
// skips the video binding check.
func (s *TokenSigner) Verify(token, videoID string) (int64, error) {
	if token == "" {
		return 0, ErrTokenMissing
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return 0, ErrTokenMalformed
	}

	data := string(raw)
	sep := strings.LastIndexByte(data, ':')
	if sep < 0 {
		return 0, ErrTokenMalformed
	}
	payload := data[:sep]
	signature, err := base64.URLEncoding.DecodeString(data[sep+1:])
	if err != nil {
		return 0, ErrTokenMalformed
	}
	if !hmac.Equal(signature, s.mac(payload)) {
		return 0, ErrTokenSignature
	}

	parts := strings.Split(payload, ":")
	if len(parts) != 3 {
		return 0, ErrTokenMalformed
	}
	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, ErrTokenMalformed
	}
	expiry, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, ErrTokenMalformed
	}
	if s.now().Unix() > expiry {
		return 0, ErrTokenExpired
	}
	if videoID != "" && parts[1] != videoID {
		return 0, ErrTokenVideo
	}
	return userID, nil
}

// AppendToken adds token as a query parameter to rawURL.
func AppendToken(rawURL, token string) string {
	if strings.Contains(rawURL, "?") {
		return rawURL + "&token=" + token
	}
	return rawURL + "?token=" + token
}

func (s *TokenSigner) mac(payload string) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(payload))
	return h.Sum(nil)
}
