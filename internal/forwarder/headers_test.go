package forwarder

import (
	"net/http"
	"testing"
)

func TestFilterHeadersStripsHopByHop(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "Keep-Alive, X-Custom")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("X-Custom", "drop-me")
	h.Set("Host", "client.example.com")
	h.Set("Content-Length", "42")
	h.Set("Authorization", "Bearer client-token")
	h.Set("Content-Type", "application/json")

	out := FilterHeaders(h)

	for _, k := range []string{"Connection", "Keep-Alive", "X-Custom", "Host", "Content-Length"} {
		if out.Get(k) != "" {
			t.Errorf("expected %s to be stripped, got %q", k, out.Get(k))
		}
	}
	if out.Get("Authorization") != "Bearer client-token" {
		t.Errorf("Authorization should survive filtering (auth rewrite happens separately)")
	}
	if out.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type should survive filtering")
	}
}
