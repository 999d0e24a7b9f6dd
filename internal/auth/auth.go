// Package auth rewrites inbound credential placement into the shape each
// upstream protocol expects, per internal/protocol.
package auth

import (
	"net/http"
	"net/url"

	"github.com/nolanhoward/llmproxy/internal/protocol"
)

// Kind is a credential carrier shape.
type Kind string

const (
	KindBearer   Kind = "bearer"    // Authorization: Bearer <ref>
	KindAPIKey   Kind = "x-api-key" // x-api-key: <ref>
	KindQueryKey Kind = "query-key" // ?key=<ref>
	KindGoogKey  Kind = "goog-key"  // x-goog-api-key: <ref>
)

const AnthropicVersion = "2023-06-01"
const AnthropicVersionHeader = "anthropic-version"

func defaultKind(p protocol.Protocol) Kind {
	switch p {
	case protocol.OpenAI:
		return KindBearer
	case protocol.Anthropic:
		return KindAPIKey
	case protocol.Gemini:
		return KindQueryKey
	default:
		return ""
	}
}

func allowed(p protocol.Protocol, k Kind) bool {
	switch p {
	case protocol.OpenAI:
		return k == KindBearer
	case protocol.Anthropic:
		return k == KindAPIKey
	case protocol.Gemini:
		return k == KindQueryKey || k == KindGoogKey
	default:
		return false
	}
}

// detect probes the inbound request for a credential shape already present.
func detect(p protocol.Protocol, h http.Header, q url.Values) (Kind, bool) {
	switch p {
	case protocol.OpenAI, protocol.Anthropic:
		if h.Get("Authorization") != "" {
			return KindBearer, true
		}
		if h.Get("x-api-key") != "" {
			return KindAPIKey, true
		}
	case protocol.Gemini:
		if h.Get("x-goog-api-key") != "" {
			return KindGoogKey, true
		}
		if q.Get("key") != "" {
			return KindQueryKey, true
		}
	}
	return "", false
}

// clear removes every credential carrier for the protocol so a rewrite can
// never leave a stale value alongside the new one.
func clear(h http.Header, q url.Values) {
	h.Del("Authorization")
	h.Del("x-api-key")
	h.Del("x-goog-api-key")
	q.Del("key")
}

func apply(p protocol.Protocol, k Kind, ref string, h http.Header, q url.Values) {
	switch k {
	case KindBearer:
		h.Set("Authorization", "Bearer "+ref)
	case KindAPIKey:
		h.Set("x-api-key", ref)
	case KindQueryKey:
		q.Set("key", ref)
	case KindGoogKey:
		h.Set("x-goog-api-key", ref)
	}
	if p == protocol.Anthropic {
		if h.Get(AnthropicVersionHeader) == "" {
			h.Set(AnthropicVersionHeader, AnthropicVersion)
		}
	}
}

// Rewrite mutates h and q in place: it detects the inbound credential shape,
// clears every carrier for the protocol, then injects ref in the detected
// shape if the protocol allows it, or the protocol's canonical shape
// otherwise.
func Rewrite(p protocol.Protocol, ref string, h http.Header, q url.Values) {
	kind, found := detect(p, h, q)
	if !found || !allowed(p, kind) {
		kind = defaultKind(p)
	}
	clear(h, q)
	apply(p, kind, ref, h, q)
}
