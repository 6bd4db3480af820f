package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/yattee/server/internal/gateway"
)

// descriptorFromQuery fills the query-driven fields of d from r.
func descriptorFromQuery(r *http.Request, d gateway.Descriptor) gateway.Descriptor {
	q := r.URL.Query()
	if d.Query == "" {
		d.Query = q.Get("q")
	}
	if d.URL == "" {
		d.URL = strings.TrimSpace(q.Get("url"))
	}
	d.Type = q.Get("type")
	d.Page = positiveInt(q.Get("page"), 0)
	d.Continuation = q.Get("continuation")
	d.Region = q.Get("region")
	d.Sort = firstNonEmpty(q.Get("sort"), q.Get("sort_by"))
	d.Date = q.Get("date")
	d.Duration = q.Get("duration")
	d.ForceInvidious = optionalBool(q.Get("invidious"))
	return d
}

func positiveInt(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func optionalBool(raw string) *bool {
	if raw == "" {
		return nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &b
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
