// Package pathmerge combines an inbound request path with a channel's base
// URL without double-prefixing the protocol root.
package pathmerge

import "strings"

// Merge computes the upstream path given a channel's normalized base path
// (protocol root already stripped) and the protocol's root prefix, plus the
// inbound path the client sent.
func Merge(basePath, root, inboundPath string) string {
	basePath = strings.TrimRight(basePath, "/")

	if basePath == "" {
		return inboundPath
	}

	if root != "" && strings.HasSuffix(basePath, root) && strings.HasPrefix(inboundPath, root) {
		rest := inboundPath[len(root):]
		if rest == "" {
			return basePath
		}
		return basePath + rest
	}

	return basePath + inboundPath
}
