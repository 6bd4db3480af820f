package cache

import (
	"net/url"
	"strings"
)

// Key builds a deterministic cache key of the form "<class>:<part>|<part>".
// Parts are query-escaped so a separator inside a part cannot collide.
func Key(class string, parts ...string) string {
	var b strings.Builder
	b.WriteString(class)
	b.WriteByte(':')
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(url.QueryEscape(p))
	}
	return b.String()
}

// Prefix is the key prefix covering every entry of class.
func Prefix(class string) string {
	return class + ":"
}

// NormalizeQuery folds a free-text search query so equivalent searches share a key.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
