package extractor

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/yattee/server/internal/models"
)

// CredentialSource resolves the credentials configured for a target URL.
type CredentialSource interface {
	CredentialsFor(ctx context.Context, target string) ([]models.Credential, error)
}

const (
	maxHeaderNameLength  = 256
	maxHeaderValueLength = 8192
)

var headerNamePattern = regexp.MustCompile(`^[!#$%&'*+.^_` + "`" + `|~0-9A-Za-z-]+$`)

// ValidateHeader rejects header names outside the RFC 7230 token alphabet and
// values that could inject additional headers.
func ValidateHeader(name, value string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty header name")
	case len(name) > maxHeaderNameLength:
		return fmt.Errorf("header name too long (%d > %d)", len(name), maxHeaderNameLength)
	case !headerNamePattern.MatchString(name):
		return fmt.Errorf("invalid header name characters: %s", name)
	case len(value) > maxHeaderValueLength:
		return fmt.Errorf("header value too long (%d > %d)", len(value), maxHeaderValueLength)
	case strings.ContainsAny(value, "\r\n"):
		return fmt.Errorf("header value contains CR or LF")
	}
	return nil
}

// credentialArgs converts credentials into yt-dlp flags. Cookie contents are
// written to owner-only temp files under dir; cleanup removes them.
func credentialArgs(creds []models.Credential, dir string) (args []string, cleanup func(), err error) {
	var tempFiles []string
	cleanup = func() {
		for _, path := range tempFiles {
			_ = os.Remove(path)
		}
	}

	for _, c := range creds {
		switch c.Type {
		case models.CredentialCookiesFile:
			path, werr := writeTempFile(dir, c.Value)
			if werr != nil {
				cleanup()
				return nil, func() {}, fmt.Errorf("write cookies file: %w", werr)
			}
			tempFiles = append(tempFiles, path)
			args = append(args, "--cookies", path)
		case models.CredentialCookiesBrowser:
			spec := c.Key
			if spec == "" {
				spec = c.Value
			}
			args = append(args, "--cookies-from-browser", spec)
		case models.CredentialLogin:
			if c.Key != "" {
				args = append(args, "--username", c.Key)
			}
			if c.Value != "" {
				args = append(args, "--password", c.Value)
			}
		case models.CredentialUsername:
			args = append(args, "--username", c.Value)
		case models.CredentialPassword:
			args = append(args, "--password", c.Value)
		case models.CredentialVideoPassword:
			args = append(args, "--video-password", c.Value)
		case models.CredentialHeader:
			if c.Key == "" {
				continue
			}
			if verr := ValidateHeader(c.Key, c.Value); verr != nil {
				cleanup()
				return nil, func() {}, fmt.Errorf("header credential: %w", verr)
			}
			args = append(args, "--add-header", c.Key+":"+c.Value)
		case models.CredentialNetrc:
			args = append(args, "--netrc")
		case models.CredentialNetrcLocation:
			args = append(args, "--netrc-location", c.Value)
		case models.CredentialAPMSO:
			args = append(args, "--ap-mso", c.Value)
		case models.CredentialAPUsername:
			args = append(args, "--ap-username", c.Value)
		case models.CredentialAPPassword:
			args = append(args, "--ap-password", c.Value)
		}
	}

	return args, cleanup, nil
}

func writeTempFile(dir, content string) (string, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", err
		}
	}
	f, err := os.CreateTemp(dir, "cookies-*.txt")
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}
