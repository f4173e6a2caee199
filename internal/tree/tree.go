// Package tree implements the virtual directory tree: an in-memory trie
// of virtual paths populated once at startup by the directory cache
// (package dircache) and read concurrently thereafter.
package tree

import (
	"sort"
	"strings"
	"sync"

	"github.com/wincachefs/wincachefs/pkg/types"
)

// Node is one entry in the virtual directory tree. Children are keyed by
// the case-folded name on a case-insensitive tree, exact name otherwise;
// Name always preserves the original casing for enumeration.
type Node struct {
	Name             string
	VirtualPath      types.VirtualPath
	UpstreamLocation types.UpstreamLocation
	Kind             types.NodeKind
	Size             int64
	Times            types.Times
	Attributes       types.Attributes

	children map[string]*Node
}

// Children returns the node's children sorted by name so enumeration
// order is deterministic.
func (n *Node) Children() []*Node {
	out := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tree is the trie itself: exclusive-locked during the build phase
// (dircache population), shared thereafter. A single mutex is sufficient
// because the tree is populated once and then only read.
type Tree struct {
	mu       sync.RWMutex
	root     *Node
	caseFold bool
}

// New creates an empty tree rooted at "/". caseFold selects whether child
// names are folded for lookup (Windows-host behavior) or compared exactly
// (POSIX-host behavior). It is an explicit switch rather than an ambient
// platform detail so tests can pin either behavior.
func New(caseFold bool) *Tree {
	return &Tree{
		root: &Node{
			Name:        "/",
			VirtualPath: "/",
			Kind:        types.KindDirectory,
			children:    make(map[string]*Node),
		},
		caseFold: caseFold,
	}
}

// CaseFold reports whether child-name lookup folds case.
func (t *Tree) CaseFold() bool { return t.caseFold }

func (t *Tree) key(name string) string {
	if t.caseFold {
		return strings.ToLower(name)
	}
	return name
}

// Find performs a read-only trie walk for vp, returning nil if no node
// exists at that path.
func (t *Tree) Find(vp types.VirtualPath) *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.find(vp)
}

func (t *Tree) find(vp types.VirtualPath) *Node {
	if vp == "/" {
		return t.root
	}
	cur := t.root
	for _, seg := range segments(vp) {
		child, ok := cur.children[t.key(seg)]
		if !ok {
			return nil
		}
		cur = child
	}
	return cur
}

// CreatePath walks vp from the root, creating missing ancestor directories,
// and returns the node for vp with the given kind (upgrading an existing
// directory node's kind is not performed; callers add files as leaves).
func (t *Tree) CreatePath(vp types.VirtualPath, kind types.NodeKind) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	if vp == "/" {
		return t.root
	}

	cur := t.root
	segs := segments(vp)
	built := ""
	for i, seg := range segs {
		if i == 0 {
			built = "/" + seg
		} else {
			built = built + "/" + seg
		}
		k := t.key(seg)
		child, ok := cur.children[k]
		if !ok {
			nodeKind := types.KindDirectory
			if i == len(segs)-1 {
				nodeKind = kind
			}
			child = &Node{
				Name:        seg,
				VirtualPath: types.VirtualPath(built),
				Kind:        nodeKind,
				children:    make(map[string]*Node),
			}
			cur.children[k] = child
		}
		cur = child
	}
	return cur
}

// AddFile idempotently upserts a file leaf at vp with the given upstream
// location, size and times, creating missing ancestor directories.
func (t *Tree) AddFile(vp types.VirtualPath, upstream types.UpstreamLocation, size int64, times types.Times, attrs types.Attributes) *Node {
	n := t.CreatePath(vp, types.KindFile)
	t.mu.Lock()
	defer t.mu.Unlock()
	n.Kind = types.KindFile
	n.UpstreamLocation = upstream
	n.Size = size
	n.Times = times
	n.Attributes = attrs
	return n
}

// AddDir idempotently upserts a directory node at vp with the given
// upstream location.
func (t *Tree) AddDir(vp types.VirtualPath, upstream types.UpstreamLocation) *Node {
	n := t.CreatePath(vp, types.KindDirectory)
	t.mu.Lock()
	defer t.mu.Unlock()
	n.Kind = types.KindDirectory
	n.UpstreamLocation = upstream
	return n
}

// Children returns vp's children sorted by name, or nil if vp does not
// exist or is not a directory.
func (t *Tree) Children(vp types.VirtualPath) []*Node {
	t.mu.RLock()
	n := t.find(vp)
	t.mu.RUnlock()
	if n == nil || n.Kind != types.KindDirectory {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return n.Children()
}

// Stats reports node counts for diagnostics (the debug CLI subcommand).
type Stats struct {
	TotalNodes       int
	TotalDirectories int
	TotalFiles       int
}

// Stats walks the whole tree and counts node kinds.
func (t *Tree) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var s Stats
	var walk func(n *Node)
	walk = func(n *Node) {
		s.TotalNodes++
		if n.Kind == types.KindDirectory {
			s.TotalDirectories++
		} else {
			s.TotalFiles++
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(t.root)
	return s
}

func segments(vp types.VirtualPath) []string {
	trimmed := strings.Trim(string(vp), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
