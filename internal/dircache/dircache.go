// Package dircache builds the virtual directory tree by enumerating
// every configured CompilerRoot's upstream location once at startup,
// with cycle detection over the upstream locations on the current
// recursion stack.
package dircache

import (
	"context"

	"github.com/wincachefs/wincachefs/internal/tree"
	"github.com/wincachefs/wincachefs/internal/upstream"
	"github.com/wincachefs/wincachefs/pkg/logging"
	"github.com/wincachefs/wincachefs/pkg/types"
)

// MaxDepth bounds recursive enumeration to cap pathological inputs.
const MaxDepth = 64

// Builder populates a tree.Tree from a set of CompilerRoots by recursively
// enumerating their upstream locations through a Reader.
type Builder struct {
	reader upstream.Reader
	log    *logging.Logger
}

// New constructs a Builder over the given upstream Reader.
func New(reader upstream.Reader, log *logging.Logger) *Builder {
	return &Builder{reader: reader, log: log}
}

// Build walks every root and returns the populated tree. Directory
// enumeration failures for an individual root are swallowed — the
// affected subtree is simply shallower, and the system still starts.
func (b *Builder) Build(ctx context.Context, roots []types.CompilerRoot, caseFold bool) *tree.Tree {
	t := tree.New(caseFold)
	t.AddDir("/", "")

	for _, root := range roots {
		t.AddDir(root.VirtualRoot, root.UpstreamRoot)
		visited := map[types.UpstreamLocation]bool{root.UpstreamRoot: true}
		b.enumerate(ctx, t, root.UpstreamRoot, root.VirtualRoot, visited, 0)
	}
	return t
}

func (b *Builder) enumerate(ctx context.Context, t *tree.Tree, upstreamPath types.UpstreamLocation, virtualPath types.VirtualPath, visited map[types.UpstreamLocation]bool, depth int) {
	if depth >= MaxDepth {
		b.logf("dircache: max depth %d reached at %s, stopping recursion", MaxDepth, virtualPath)
		return
	}

	entries, err := b.reader.Enumerate(ctx, upstreamPath)
	if err != nil {
		// Inaccessible or missing upstream paths do not fail init; the
		// tree is simply shallower here.
		b.logf("dircache: enumerate %s failed: %v", upstreamPath, err)
		return
	}

	for _, e := range entries {
		childVirtual := joinVirtual(virtualPath, e.Name)
		childUpstream := b.reader.ChildLocation(upstreamPath, e.Name)

		if e.Kind == types.KindDirectory {
			t.AddDir(childVirtual, childUpstream)

			if visited[childUpstream] {
				// Cycle via junction/symlink — stop recursing here.
				continue
			}
			visited[childUpstream] = true
			b.enumerate(ctx, t, childUpstream, childVirtual, visited, depth+1)
			delete(visited, childUpstream)
			continue
		}

		t.AddFile(childVirtual, childUpstream, e.Size, e.Times, e.Attributes)
	}
}

func (b *Builder) logf(format string, args ...any) {
	if b.log == nil {
		return
	}
	b.log.Warnf(format, args...)
}

func joinVirtual(parent types.VirtualPath, name string) types.VirtualPath {
	if parent == "/" {
		return types.VirtualPath("/" + name)
	}
	return types.VirtualPath(string(parent) + "/" + name)
}
