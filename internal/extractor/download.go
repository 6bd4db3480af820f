package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// StreamStarter launches a command and exposes its stdout while it runs.
// wait blocks until the process exits.
type StreamStarter func(ctx context.Context, binary string, args ...string) (stdout io.ReadCloser, wait func() error, err error)

// Download is a running yt-dlp process writing media bytes to Stdout.
type Download struct {
	Stdout  io.ReadCloser
	wait    func() error
	cleanup func()
}

// Wait blocks until the process exits and releases temporary credential files.
func (d *Download) Wait() error {
	defer d.cleanup()
	return d.wait()
}

// StartDownload streams format of target to stdout. Cancelling ctx kills the process.
func (y *YTDLP) StartDownload(ctx context.Context, target, format string) (*Download, error) {
	if y == nil {
		return nil, ErrUnavailable
	}
	if !ValidURL(target) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, target)
	}
	start := y.Start
	if start == nil {
		start = defaultStreamStarter
	}

	credArgs, cleanup := y.credentialArgs(ctx, target)

	args := append(credArgs, "-f", format, "-o", "-", "--no-part", "--no-warnings", "--quiet")
	if y.SkipTLSVerify {
		args = append(args, "--no-check-certificates")
	}
	args = append(args, "--", target)

	stdout, wait, err := start(ctx, y.Binary, args...)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("start yt-dlp download: %w", err)
	}
	return &Download{Stdout: stdout, wait: wait, cleanup: cleanup}, nil
}

func defaultStreamStarter(ctx context.Context, binary string, args ...string) (io.ReadCloser, func() error, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}

	wait := func() error {
		err := cmd.Wait()
		if err == nil {
			return nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Stderr: stderr.String(), Err: err}
		}
		return err
	}
	return stdout, wait, nil
}
