package auth

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/nolanhoward/llmproxy/internal/protocol"
)

func TestRewriteOpenAIPreservesBearerShape(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer sk-client")
	q := url.Values{}

	Rewrite(protocol.OpenAI, "sk-chan", h, q)

	if got := h.Get("Authorization"); got != "Bearer sk-chan" {
		t.Errorf("Authorization = %q, want Bearer sk-chan", got)
	}
	if h.Get("x-api-key") != "" {
		t.Errorf("stale x-api-key present")
	}
	if q.Get("key") != "" {
		t.Errorf("stale key query param present")
	}
}

func TestRewriteAnthropicSetsVersionIfAbsent(t *testing.T) {
	h := http.Header{}
	q := url.Values{}

	Rewrite(protocol.Anthropic, "chan-ref", h, q)

	if h.Get("x-api-key") != "chan-ref" {
		t.Errorf("x-api-key = %q", h.Get("x-api-key"))
	}
	if h.Get(AnthropicVersionHeader) != AnthropicVersion {
		t.Errorf("anthropic-version = %q, want %q", h.Get(AnthropicVersionHeader), AnthropicVersion)
	}
}

func TestRewriteAnthropicDoesNotOverrideExistingVersion(t *testing.T) {
	h := http.Header{}
	h.Set(AnthropicVersionHeader, "2022-01-01")
	q := url.Values{}

	Rewrite(protocol.Anthropic, "chan-ref", h, q)

	if h.Get(AnthropicVersionHeader) != "2022-01-01" {
		t.Errorf("anthropic-version overwritten: %q", h.Get(AnthropicVersionHeader))
	}
}

func TestRewriteGeminiDetectsHeaderShape(t *testing.T) {
	h := http.Header{}
	h.Set("x-goog-api-key", "inbound-ref")
	q := url.Values{}
	q.Set("key", "stale")

	Rewrite(protocol.Gemini, "chan-ref", h, q)

	if h.Get("x-goog-api-key") != "chan-ref" {
		t.Errorf("x-goog-api-key = %q", h.Get("x-goog-api-key"))
	}
	if q.Get("key") != "" {
		t.Errorf("stale query key survived: %q", q.Get("key"))
	}
}

func TestRewriteGeminiDefaultsToQueryKey(t *testing.T) {
	h := http.Header{}
	q := url.Values{}

	Rewrite(protocol.Gemini, "chan-ref", h, q)

	if q.Get("key") != "chan-ref" {
		t.Errorf("key = %q, want chan-ref", q.Get("key"))
	}
	if h.Get("x-goog-api-key") != "" {
		t.Errorf("unexpected x-goog-api-key header")
	}
}

func TestRewriteDisallowedInboundShapeFallsBackToCanonical(t *testing.T) {
	// Gemini does not accept a bearer token; the canonical query-key shape
	// must be used instead, with the bearer header removed.
	h := http.Header{}
	h.Set("Authorization", "Bearer something")
	q := url.Values{}

	Rewrite(protocol.Gemini, "chan-ref", h, q)

	if h.Get("Authorization") != "" {
		t.Errorf("stale Authorization header present")
	}
	if q.Get("key") != "chan-ref" {
		t.Errorf("key = %q, want chan-ref", q.Get("key"))
	}
}
