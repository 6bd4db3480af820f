package extractor

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnavailable indicates the extractor binary is not configured.
	ErrUnavailable = errors.New("extractor unavailable")
	// ErrInvalidURL is returned for targets that are not plain http(s) URLs.
	ErrInvalidURL = errors.New("invalid extraction url")
	// ErrNoResults indicates yt-dlp exited cleanly without emitting any JSON.
	ErrNoResults = errors.New("extractor returned no results")
)

// TimeoutError reports an invocation that exceeded its time budget.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("extractor timed out after %s", e.Timeout)
}

// ExitError carries the stderr of a failed yt-dlp invocation.
type ExitError struct {
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("yt-dlp failed: %v", e.Err)
	}
	if i := strings.LastIndex(msg, "\n"); i >= 0 {
		msg = msg[i+1:]
	}
	return fmt.Sprintf("yt-dlp failed: %s", msg)
}

func (e *ExitError) Unwrap() error { return e.Err }

// NotFound reports whether yt-dlp said the target does not exist.
func (e *ExitError) NotFound() bool {
	msg := strings.ToLower(e.Stderr)
	for _, marker := range []string{"video unavailable", "does not exist", "not found", "404", "private video"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
