// Package vpath normalizes host-supplied path strings into the canonical
// VirtualPath form the rest of the cache engine operates on.
package vpath

import (
	"strings"

	"github.com/wincachefs/wincachefs/pkg/types"
)

// Normalize canonicalizes an arbitrary, possibly mixed-separator,
// mixed-case path into the mount's '/'-rooted form.
//
// Rules, applied in order:
//  1. empty, "\", or "/" all normalize to "/".
//  2. every '\' becomes '/'.
//  3. a leading '/' is prepended if missing.
//  4. a trailing '/' is stripped unless the result is just "/".
//
// No '.'/'..' collapsing is performed; such segments are treated as
// literal names.
func Normalize(raw string) types.VirtualPath {
	if raw == "" || raw == "\\" || raw == "/" {
		return "/"
	}

	s := strings.ReplaceAll(raw, "\\", "/")
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	if len(s) > 1 && strings.HasSuffix(s, "/") {
		s = strings.TrimRight(s, "/")
		if s == "" {
			s = "/"
		}
	}
	return types.VirtualPath(s)
}

// Join concatenates a normalized parent with a single child segment name,
// returning a normalized VirtualPath. The parent is assumed already
// normalized (the usual case when building paths from tree traversal).
func Join(parent types.VirtualPath, child string) types.VirtualPath {
	if parent == "/" {
		return Normalize("/" + child)
	}
	return Normalize(string(parent) + "/" + child)
}

// Segments splits a normalized VirtualPath into its non-empty path
// components. Normalize("/") yields no segments.
func Segments(p types.VirtualPath) []string {
	trimmed := strings.Trim(string(p), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// HasPrefixBoundary reports whether root is a path-boundary prefix of p:
// root == p, or p continues with a '/' immediately after root. caseFold
// selects case-insensitive comparison (Windows host behavior).
func HasPrefixBoundary(p, root types.VirtualPath, caseFold bool) bool {
	ps, rs := string(p), string(root)
	if caseFold {
		ps, rs = strings.ToLower(ps), strings.ToLower(rs)
	}
	if rs == "/" {
		return true
	}
	if !strings.HasPrefix(ps, rs) {
		return false
	}
	rest := ps[len(rs):]
	return rest == "" || strings.HasPrefix(rest, "/")
}

// TrimRoot returns the portion of p below root, with any leading '/'
// stripped, assuming HasPrefixBoundary(p, root, caseFold) holds.
func TrimRoot(p, root types.VirtualPath) string {
	rest := string(p)[len(string(root)):]
	return strings.TrimPrefix(rest, "/")
}
