package proxy

import "strings"

const maxTokenLength = 64

// SanitizeToken keeps the characters safe in a staged file name and bounds
// the length. The result may be empty.
func SanitizeToken(s string) string {
	var b strings.Builder
	for _, r := range s {
		if b.Len() >= maxTokenLength {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '+':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SanitizeExt normalizes a container extension, defaulting to mp4.
func SanitizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	var b strings.Builder
	for _, r := range ext {
		if b.Len() >= 8 {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "mp4"
	}
	return b.String()
}
