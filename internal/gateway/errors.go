package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/yattee/server/internal/extractor"
	"github.com/yattee/server/internal/invidious"
)

var (
	// ErrBackendUnavailable means the resource needs a backend that is not configured.
	ErrBackendUnavailable = errors.New("required backend is not configured")
	// ErrInvalidRequest wraps descriptor validation failures.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound is returned when a backend answered but the item does not exist.
	ErrNotFound = errors.New("not found")
)

// Backend names reported in results and errors.
const (
	BackendInvidious = "invidious"
	BackendYTDLP     = "ytdlp"
	BackendDirect    = "direct"
)

// ExtractionError is returned when every permitted backend failed.
type ExtractionError struct {
	Backend  string
	Attempts int
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction via %s failed after %d attempt(s): %v", e.Backend, e.Attempts, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// NotFound reports whether the backend said the resource does not exist.
func (e *ExtractionError) NotFound() bool {
	if errors.Is(e.Err, ErrNotFound) || errors.Is(e.Err, extractor.ErrNoResults) {
		return true
	}
	if invidious.StatusCode(e.Err) == http.StatusNotFound {
		return true
	}
	var exitErr *extractor.ExitError
	return errors.As(e.Err, &exitErr) && exitErr.NotFound()
}

// SiteDisabledError is returned when extraction from a site is not allowed.
type SiteDisabledError struct {
	URL       string
	Extractor string
}

func (e *SiteDisabledError) Error() string {
	return fmt.Sprintf("extraction from %q is not allowed; enable the site or allow all sites", e.Extractor)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
