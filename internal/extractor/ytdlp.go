// Package extractor wraps the yt-dlp CLI, the general-purpose extractor every
// resource falls back to when the Invidious backend is disabled or failing.
package extractor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/yattee/server/internal/logging"
)

// CommandRunner executes external commands and returns stdout bytes.
type CommandRunner func(ctx context.Context, binary string, args ...string) ([]byte, error)

// YTDLP runs yt-dlp and parses its JSON output.
type YTDLP struct {
	Binary        string
	Timeout       time.Duration
	SkipTLSVerify bool
	TempDir       string
	Run           CommandRunner
	Start         StreamStarter
	Credentials   CredentialSource
}

// Options selects the shape of an extraction.
type Options struct {
	// Flat lists playlist entries without resolving each one.
	Flat bool
	// SingleJSON emits one document for a playlist instead of one per entry.
	SingleJSON bool
	// PlaylistItems restricts playlist entries, e.g. "1:30".
	PlaylistItems string
	// NoPlaylist extracts only the video when a URL names both a video and a playlist.
	NoPlaylist bool
	// Timeout overrides the extractor's default budget for this call.
	Timeout time.Duration
}

// New constructs an extractor that shells out to binary.
func New(binary string, timeout time.Duration) *YTDLP {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &YTDLP{
		Binary:  binary,
		Timeout: timeout,
		Run:     defaultCommandRunner,
		Start:   defaultStreamStarter,
	}
}

// Extract runs yt-dlp against target and returns every JSON document it printed.
// target must be an http(s) URL or a ytsearch query.
func (y *YTDLP) Extract(ctx context.Context, target string, opts Options) ([]json.RawMessage, error) {
	if y == nil {
		return nil, ErrUnavailable
	}
	if !ValidURL(target) && !strings.HasPrefix(target, "ytsearch") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, target)
	}
	run := y.Run
	if run == nil {
		run = defaultCommandRunner
	}

	timeout := y.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	credArgs, cleanup := y.credentialArgs(ctx, target)
	defer cleanup()

	args := append(credArgs, y.flags(opts)...)
	args = append(args, "--", target)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := run(execCtx, y.Binary, args...)
	if err != nil {
		return nil, classifyError(ctx, execCtx, err, timeout)
	}

	docs := splitJSONLines(out)
	logging.FromContext(ctx).Debug("yt-dlp extraction finished",
		"target", target,
		"documents", len(docs),
		"duration", time.Since(start),
	)
	if len(docs) == 0 {
		return nil, ErrNoResults
	}
	return docs, nil
}

// ExtractInfo returns the first document decoded as Info.
func (y *YTDLP) ExtractInfo(ctx context.Context, target string, opts Options) (Info, error) {
	docs, err := y.Extract(ctx, target, opts)
	if err != nil {
		return Info{}, err
	}
	info, err := DecodeInfo(docs[0])
	if err != nil {
		return Info{}, fmt.Errorf("parse yt-dlp response: %w", err)
	}
	return info, nil
}

// ExtractEntries decodes every document as Info, skipping undecodable ones.
func (y *YTDLP) ExtractEntries(ctx context.Context, target string, opts Options) ([]Info, error) {
	docs, err := y.Extract(ctx, target, opts)
	if err != nil {
		return nil, err
	}
	entries := make([]Info, 0, len(docs))
	for _, doc := range docs {
		info, err := DecodeInfo(doc)
		if err != nil {
			logging.FromContext(ctx).Warn("skipping undecodable yt-dlp entry", "target", target, "error", err)
			continue
		}
		entries = append(entries, info)
	}
	return entries, nil
}

func (y *YTDLP) flags(opts Options) []string {
	var args []string
	if opts.SingleJSON {
		args = append(args, "--dump-single-json")
	} else {
		args = append(args, "-j")
	}
	args = append(args, "--no-download", "--no-warnings")
	if opts.Flat {
		args = append(args, "--flat-playlist")
	}
	if opts.PlaylistItems != "" {
		args = append(args, "--playlist-items", opts.PlaylistItems)
	}
	if opts.NoPlaylist {
		args = append(args, "--no-playlist")
	}
	if y.SkipTLSVerify {
		args = append(args, "--no-check-certificates")
	}
	return args
}

func (y *YTDLP) credentialArgs(ctx context.Context, target string) ([]string, func()) {
	if y.Credentials == nil || !ValidURL(target) {
		return nil, func() {}
	}
	logger := logging.FromContext(ctx)

	creds, err := y.Credentials.CredentialsFor(ctx, target)
	if err != nil {
		logger.Warn("credential lookup failed", "target", target, "error", err)
		return nil, func() {}
	}
	if len(creds) == 0 {
		return nil, func() {}
	}

	args, cleanup, err := credentialArgs(creds, y.TempDir)
	if err != nil {
		logger.Error("credential arguments rejected", "target", target, "error", err)
		return nil, func() {}
	}
	return args, cleanup
}

func classifyError(parent, execCtx context.Context, err error, timeout time.Duration) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Timeout: timeout}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Stderr: string(exitErr.Stderr), Err: err}
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee
	}
	return fmt.Errorf("yt-dlp fetch: %w", err)
}

func splitJSONLines(out []byte) []json.RawMessage {
	var docs []json.RawMessage
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		docs = append(docs, json.RawMessage(append([]byte(nil), line...)))
	}
	return docs
}

func defaultCommandRunner(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	return cmd.Output()
}
