package extractor

import (
	"context"
	"errors"
	"net/netip"
	"testing"
)

func fixedLookup(addrs ...string) LookupFunc {
	return func(ctx context.Context, host string) ([]netip.Addr, error) {
		out := make([]netip.Addr, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, netip.MustParseAddr(a))
		}
		return out, nil
	}
}

func TestCheckSafeURLBlocksInternalTargets(t *testing.T) {
	blocked := []string{
		"http://localhost:8080/",
		"http://127.0.0.1/",
		"http://10.1.2.3/video",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]/",
		"http://[::ffff:192.168.1.1]/",
		"http://printer.local/",
		"http://metadata.google.internal/",
	}
	for _, raw := range blocked {
		if err := CheckSafeURL(context.Background(), raw, fixedLookup("93.184.216.34")); !errors.Is(err, ErrRestrictedURL) {
			t.Fatalf("expected %q to be restricted, got %v", raw, err)
		}
	}
}

func TestCheckSafeURLChecksEveryResolvedAddress(t *testing.T) {
	err := CheckSafeURL(context.Background(), "https://videos.example.com/v/1", fixedLookup("93.184.216.34", "192.168.0.10"))
	if !errors.Is(err, ErrRestrictedURL) {
		t.Fatalf("expected rebinding target to be restricted, got %v", err)
	}

	if err := CheckSafeURL(context.Background(), "https://videos.example.com/v/1", fixedLookup("93.184.216.34")); err != nil {
		t.Fatalf("expected public host to pass, got %v", err)
	}
}

func TestCheckSafeURLAllowsCGNAT(t *testing.T) {
	if err := CheckSafeURL(context.Background(), "http://100.100.1.2/", nil); err != nil {
		t.Fatalf("expected CGNAT address to pass, got %v", err)
	}
}

func TestCheckSafeURLFailsClosedOnResolution(t *testing.T) {
	lookup := func(ctx context.Context, host string) ([]netip.Addr, error) {
		return nil, errors.New("no such host")
	}
	if err := CheckSafeURL(context.Background(), "https://nowhere.example.com/", lookup); !errors.Is(err, ErrRestrictedURL) {
		t.Fatalf("expected unresolvable host to be restricted, got %v", err)
	}
}
