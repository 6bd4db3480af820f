// Package sites decides which URLs may be extracted and which credentials
// travel with them.
package sites

import (
	"net/url"
	"strings"
)

var domainExtractors = []struct {
	domain    string
	extractor string
}{
	{"twitter.com", "twitter"},
	{"x.com", "twitter"},
	{"tiktok.com", "tiktok"},
	{"instagram.com", "instagram"},
	{"facebook.com", "facebook"},
	{"fb.com", "facebook"},
	{"fb.watch", "facebook"},
	{"vimeo.com", "vimeo"},
	{"dailymotion.com", "dailymotion"},
	{"twitch.tv", "twitch"},
	{"youtube.com", "youtube"},
	{"youtu.be", "youtube"},
	{"reddit.com", "reddit"},
	{"soundcloud.com", "soundcloud"},
	{"bilibili.com", "bilibili"},
	{"nicovideo.jp", "niconico"},
	{"crunchyroll.com", "crunchyroll"},
	{"funimation.com", "funimation"},
}

// ExtractorHint guesses the extractor name for rawURL from its host. Known
// domains match on label boundaries so twitter.com.evil.com is not twitter.
// Unknown hosts yield their second-level label.
func ExtractorHint(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return ""
	}

	for _, d := range domainExtractors {
		if host == d.domain || strings.HasSuffix(host, "."+d.domain) {
			return d.extractor
		}
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return host
}

// MatchPattern matches an extractor name against a site pattern. Patterns are
// exact names or use a leading and/or trailing '*'; plain substrings never match.
func MatchPattern(extractor, pattern string) bool {
	name := strings.ToLower(strings.TrimSpace(extractor))
	p := strings.ToLower(strings.TrimSpace(pattern))
	if name == "" || p == "" {
		return false
	}
	if name == p {
		return true
	}

	leading := strings.HasPrefix(p, "*")
	trailing := len(p) > 1 && strings.HasSuffix(p, "*")
	switch {
	case leading && trailing:
		inner := p[1 : len(p)-1]
		return inner == "" || strings.Contains(name, inner)
	case leading:
		return strings.HasSuffix(name, p[1:])
	case trailing:
		return strings.HasPrefix(name, p[:len(p)-1])
	}
	return false
}
