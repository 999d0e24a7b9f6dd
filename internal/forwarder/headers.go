package forwarder

import (
	"net/http"
	"strings"
)

var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// FilterHeaders returns a copy of h with hop-by-hop headers, Host,
// Content-Length, and any token named in the inbound Connection header
// removed.
func FilterHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	extra := connectionTokens(h)

	for k, v := range h {
		canon := http.CanonicalHeaderKey(k)
		if hopByHop[canon] || canon == "Host" || canon == "Content-Length" {
			continue
		}
		if extra[canon] {
			continue
		}
		out[canon] = append([]string(nil), v...)
	}
	return out
}

func connectionTokens(h http.Header) map[string]bool {
	tokens := map[string]bool{}
	for _, line := range h.Values("Connection") {
		for _, tok := range strings.Split(line, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			tokens[http.CanonicalHeaderKey(tok)] = true
		}
	}
	return tokens
}
