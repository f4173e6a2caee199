// Package entrytable implements the cache entry table: the sole
// allocation path for a CacheEntry, serialized under a single mutex, so
// at most one entry ever exists per virtual path.
package entrytable

import (
	"strings"
	"sync"
	"time"

	"github.com/wincachefs/wincachefs/internal/policy"
	"github.com/wincachefs/wincachefs/internal/tree"
	"github.com/wincachefs/wincachefs/pkg/types"
)

// Entry is the per-virtual-path bookkeeping record. It owns no bytes
// directly; byte ownership lives in the memory cache keyed by
// VirtualPath.
type Entry struct {
	mu sync.Mutex

	VirtualPath      types.VirtualPath
	UpstreamLocation types.UpstreamLocation
	State            types.FileState
	Policy           types.CachePolicy
	Size             int64
	Attributes       types.Attributes
	Times            types.Times

	LastUsedMonotonic int64
	AccessCount       int64
	refCount          int32
}

func (e *Entry) snapshotState() types.FileState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.State
}

func (e *Entry) setState(s types.FileState) {
	e.mu.Lock()
	e.State = s
	e.mu.Unlock()
}

// Table is the cache entry table. GetOrCreate is its sole allocation
// path and serializes under a single mutex.
type Table struct {
	mu      sync.Mutex
	entries map[types.VirtualPath]*Entry
	tree    *tree.Tree
	policy  *policy.Engine
}

// New constructs a Table backed by the populated directory tree and the
// policy engine used to classify newly created entries.
func New(t *tree.Tree, p *policy.Engine) *Table {
	return &Table{
		entries: make(map[types.VirtualPath]*Entry),
		tree:    t,
		policy:  p,
	}
}

// GetOrCreate resolves an entry in three steps:
//  1. fast path: return an already-allocated entry.
//  2. slow path: build one from the directory tree node if it exists.
//  3. fallback: a stub entry with state Virtual, policy OnDemand, unknown
//     size, for a path with no tree node (typically leads to an
//     open-time error later).
func (t *Table) GetOrCreate(vp types.VirtualPath) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.tree.Find(vp)
	vp = t.canonical(vp, node)
	if e, ok := t.entries[vp]; ok {
		return e
	}

	pol := t.policy.PolicyFor(vp)
	state := types.StateVirtual
	if pol == types.NeverCache {
		state = types.StateNetworkOnly
	}

	var e *Entry
	if node != nil {
		e = &Entry{
			VirtualPath:      vp,
			UpstreamLocation: node.UpstreamLocation,
			State:            state,
			Policy:           pol,
			Size:             node.Size,
			Attributes:       node.Attributes,
			Times:            node.Times,
		}
	} else {
		e = &Entry{
			VirtualPath: vp,
			State:       types.StateVirtual,
			Policy:      types.OnDemand,
		}
	}
	t.entries[vp] = e
	return e
}

// Lookup returns the existing entry for vp without creating one.
func (t *Table) Lookup(vp types.VirtualPath) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[t.canonical(vp, t.tree.Find(vp))]
	return e, ok
}

// canonical maps every casing of a path on a case-insensitive tree to
// one table key: the tree node's stored VirtualPath when the node
// exists, a folded copy otherwise. On a case-sensitive tree vp passes
// through unchanged.
func (t *Table) canonical(vp types.VirtualPath, node *tree.Node) types.VirtualPath {
	if node != nil {
		return node.VirtualPath
	}
	if t.tree.CaseFold() {
		return types.VirtualPath(strings.ToLower(string(vp)))
	}
	return vp
}

// Ref pins entry's bytes against eviction while a read is outstanding.
func (t *Table) Ref(e *Entry) {
	e.mu.Lock()
	e.refCount++
	e.mu.Unlock()
}

// Unref releases a pin acquired by Ref.
func (t *Table) Unref(e *Entry) {
	e.mu.Lock()
	if e.refCount > 0 {
		e.refCount--
	}
	e.mu.Unlock()
}

// RefCount implements memcache.RefCounter, letting the memory cache
// consult live pin state during eviction without an import cycle.
func (t *Table) RefCount(vp types.VirtualPath) int32 {
	t.mu.Lock()
	e, ok := t.entries[vp]
	t.mu.Unlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refCount
}

// Touch updates last-used/access-count bookkeeping on a cache hit.
func (t *Table) Touch(e *Entry) {
	e.mu.Lock()
	e.LastUsedMonotonic = time.Now().UnixNano()
	e.AccessCount++
	e.mu.Unlock()
}

// MarkFetching transitions Virtual -> Fetching.
func (t *Table) MarkFetching(e *Entry) { e.setState(types.StateFetching) }

// MarkCached transitions Fetching -> Cached and records the final size.
func (t *Table) MarkCached(e *Entry, size int64) {
	e.mu.Lock()
	e.State = types.StateCached
	e.Size = size
	e.LastUsedMonotonic = time.Now().UnixNano()
	e.AccessCount++
	e.mu.Unlock()
}

// MarkFailed transitions Fetching -> Virtual on a failed fetch, making
// the entry retriable.
func (t *Table) MarkFailed(e *Entry) { e.setState(types.StateVirtual) }

// MarkNetworkOnly transitions Virtual -> NetworkOnly for NeverCache paths.
func (t *Table) MarkNetworkOnly(e *Entry) { e.setState(types.StateNetworkOnly) }

// State returns the entry's current state under its own lock.
func (t *Table) State(e *Entry) types.FileState { return e.snapshotState() }

// Count returns the number of allocated entries, for diagnostics.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Snapshot returns every allocated entry for diagnostic dumps (the debug
// CLI's "debug cache" subcommand). Entries are returned by pointer and
// are not mutated by the caller; State() reads under the entry's lock.
func (t *Table) Snapshot() []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}
