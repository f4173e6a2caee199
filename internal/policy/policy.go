// Package policy implements the glob-based cache policy engine:
// classifying a virtual path into {always, on-demand,
// never-cache} by finding the longest-matching CompilerRoot and testing
// the path's relative remainder against that root's cache_always globs.
package policy

import (
	"sort"

	"github.com/wincachefs/wincachefs/internal/glob"
	"github.com/wincachefs/wincachefs/internal/vpath"
	"github.com/wincachefs/wincachefs/pkg/types"
)

// Engine resolves a CachePolicy for a virtual path given the configured
// compiler roots. Engine is immutable once built and safe for concurrent
// use; PolicyFor is a pure function of (roots, path, caseFold).
type Engine struct {
	// roots sorted by VirtualRoot length descending, so the first
	// matching entry is the longest-matching root.
	roots    []types.CompilerRoot
	caseFold bool
}

// New builds an Engine over the given compiler roots.
func New(roots []types.CompilerRoot, caseFold bool) *Engine {
	sorted := append([]types.CompilerRoot(nil), roots...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].VirtualRoot) > len(sorted[j].VirtualRoot)
	})
	return &Engine{roots: sorted, caseFold: caseFold}
}

// RootFor returns the longest CompilerRoot whose VirtualRoot is a
// path-boundary prefix of vp, or false if none matches.
func (e *Engine) RootFor(vp types.VirtualPath) (types.CompilerRoot, bool) {
	for _, root := range e.roots {
		if vpath.HasPrefixBoundary(vp, root.VirtualRoot, e.caseFold) {
			return root, true
		}
	}
	return types.CompilerRoot{}, false
}

// PolicyFor classifies vp:
//  1. find the longest-matching CompilerRoot; NeverCache if none.
//  2. compute the path relative to that root.
//  3. AlwaysCache if the relative path matches any cache_always glob.
//  4. OnDemand otherwise.
//
// This function is pure.
func (e *Engine) PolicyFor(vp types.VirtualPath) types.CachePolicy {
	root, ok := e.RootFor(vp)
	if !ok {
		return types.NeverCache
	}

	relative := vpath.TrimRoot(vp, root.VirtualRoot)
	fold := glob.CaseSensitive
	if e.caseFold {
		fold = glob.CaseInsensitive
	}
	if glob.MatchAny(relative, root.CacheAlways, fold) {
		return types.AlwaysCache
	}
	return types.OnDemand
}
