package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestStartSpanCarriesTraceAndAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug")

	ctx := WithLogger(context.Background(), logger)
	ctx = With(ctx, "channelId", "UC123")
	ctx, span := StartSpan(ctx, "feed.fetch")
	FromContext(ctx).Info("fetching")
	span.End()

	if TraceIDFromContext(ctx) == "" || SpanIDFromContext(ctx) == "" {
		t.Fatal("expected trace and span ids on context")
	}

	dec := json.NewDecoder(&buf)
	var entry map[string]any
	if err := dec.Decode(&entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if entry["channelId"] != "UC123" {
		t.Fatalf("expected channelId attribute, got %v", entry)
	}
	if entry["span_name"] != "feed.fetch" {
		t.Fatalf("expected span_name attribute, got %v", entry)
	}
}

func TestStartSpanReusesRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-42")
	if got := TraceIDFromContext(ctx); got != "req-42" {
		t.Fatalf("expected request id as trace id, got %q", got)
	}

	ctx, span := StartSpan(ctx, "proxy.stream")
	defer span.End()
	if got := TraceIDFromContext(ctx); got != "req-42" {
		t.Fatalf("expected span to keep request trace, got %q", got)
	}
	if SpanIDFromContext(ctx) == "" {
		t.Fatal("expected span id")
	}
}
