package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CacheHits.WithLabelValues("video").Inc()
	m.ProxyRejected.Inc()

	if got := testutil.ToFloat64(m.CacheHits.WithLabelValues("video")); got != 1 {
		t.Fatalf("expected 1 cache hit, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "yattee_proxy_rejected_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected yattee_proxy_rejected_total to be registered")
	}
}
