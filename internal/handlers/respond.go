package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/yattee/server/internal/auth"
	"github.com/yattee/server/internal/extractor"
	"github.com/yattee/server/internal/feed"
	"github.com/yattee/server/internal/gateway"
	"github.com/yattee/server/internal/logging"
	"github.com/yattee/server/internal/proxy"
)

// retryAfterSeconds is suggested to clients when every proxy slot is busy.
const retryAfterSeconds = 5

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response", "error", err)
	}
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, kind, message string) {
	respondJSON(ctx, w, status, errorResponse{Error: kind, Message: message})
}

// respondErr maps err onto the HTTP error taxonomy.
func respondErr(ctx context.Context, w http.ResponseWriter, err error) {
	logger := logging.FromContext(ctx)

	var (
		siteErr    *gateway.SiteDisabledError
		extractErr *gateway.ExtractionError
		timeoutErr *extractor.TimeoutError
	)
	switch {
	case errors.Is(err, context.Canceled):
		logger.Debug("request canceled", "error", err)
	case errors.Is(err, proxy.ErrCapacityExceeded):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		respondError(ctx, w, http.StatusServiceUnavailable, "capacity_exceeded", "all download slots are busy, retry later")
	case errors.As(err, &siteErr):
		respondError(ctx, w, http.StatusForbidden, "site_disabled", siteErr.Error())
	case errors.Is(err, extractor.ErrRestrictedURL):
		respondError(ctx, w, http.StatusForbidden, "restricted_url", "url targets restricted network resources")
	case errors.Is(err, gateway.ErrInvalidRequest), errors.Is(err, proxy.ErrInvalidRequest), errors.Is(err, extractor.ErrInvalidURL):
		respondError(ctx, w, http.StatusBadRequest, "invalid_request", err.Error())
	case isTokenError(err):
		respondError(ctx, w, http.StatusUnauthorized, "unauthorized", "invalid streaming token: "+err.Error())
	case errors.Is(err, gateway.ErrNotFound), errors.Is(err, feed.ErrChannelNotWatched):
		respondError(ctx, w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, gateway.ErrBackendUnavailable):
		respondError(ctx, w, http.StatusNotImplemented, "backend_unavailable", err.Error())
	case errors.As(err, &extractErr):
		switch {
		case extractErr.NotFound():
			respondError(ctx, w, http.StatusNotFound, "not_found", err.Error())
		case errors.As(err, &timeoutErr):
			respondError(ctx, w, http.StatusGatewayTimeout, "timeout", err.Error())
		default:
			logger.Warn("extraction failed", "error", err)
			respondError(ctx, w, http.StatusBadGateway, "extraction_failed", err.Error())
		}
	default:
		logger.Error("request failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func isTokenError(err error) bool {
	return errors.Is(err, auth.ErrTokenMissing) ||
		errors.Is(err, auth.ErrTokenMalformed) ||
		errors.Is(err, auth.ErrTokenSignature) ||
		errors.Is(err, auth.ErrTokenExpired) ||
		errors.Is(err, auth.ErrTokenVideo)
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

const maxBodyBytes = 1 << 20

func invalid(err error) error {
	return fmt.Errorf("%w: %v", gateway.ErrInvalidRequest, err)
}
