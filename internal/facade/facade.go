// Package facade is the single translation point between a host's
// read-only callback set (open/read/readdir/getattr/close) and the
// cache engine underneath it.
package facade

import (
	"context"
	"sync"
	"time"

	"github.com/wincachefs/wincachefs/internal/download"
	"github.com/wincachefs/wincachefs/internal/entrytable"
	"github.com/wincachefs/wincachefs/internal/glob"
	"github.com/wincachefs/wincachefs/internal/memcache"
	"github.com/wincachefs/wincachefs/internal/tree"
	"github.com/wincachefs/wincachefs/internal/upstream"
	"github.com/wincachefs/wincachefs/pkg/logging"
	"github.com/wincachefs/wincachefs/pkg/types"
)

// AccessHookFunc is the per-read access event the Filesystem Facade
// reports. internal/reporter is the concrete consumer; a nil hook is a
// no-op, like every other observation hook in this tree.
type AccessHookFunc func(vp types.VirtualPath, upstream types.UpstreamLocation, size int64, state types.FileState, cacheHit bool, memoryCached bool, duration time.Duration, policy types.CachePolicy)

// AccessFlags describes the access mode a host requests in open(). The
// facade is read-only end to end: any flag beyond AccessRead is refused.
type AccessFlags uint32

const (
	AccessRead AccessFlags = 1 << iota
	AccessWrite
	AccessDelete
	AccessModify
)

// RequestsMutation reports whether flags includes any write-shaped access.
func (f AccessFlags) RequestsMutation() bool {
	return f&(AccessWrite|AccessDelete|AccessModify) != 0
}

// AccessControlProvider is consulted during open() in addition to the
// read-only flag check, fulfilling the out-of-scope access-control
// descriptor contract recorded against pkg/types.AccessDescriptor. A nil
// provider allows every read-only open.
type AccessControlProvider interface {
	Allowed(vp types.VirtualPath, flags AccessFlags) bool
}

// DirEntry is one result row from ReadDirectory.
type DirEntry struct {
	Name       string
	Kind       types.NodeKind
	Size       int64
	Times      types.Times
	Attributes types.Attributes
}

// Handle is the opaque per-open state returned by Open, referencing the
// entry a Read/Close pair operates on, plus whether the open path is
// itself a directory.
type Handle struct {
	id      uint64
	vp      types.VirtualPath
	entry   *entrytable.Entry
	isDir   bool
	dirName string // directory virtual path, used to materialize entries lazily
}

// Facade is the Filesystem Facade. It owns no state of its own beyond
// handle bookkeeping; everything else is delegated to the injected
// collaborators.
type Facade struct {
	tree      *tree.Tree
	entries   *entrytable.Table
	memcache  *memcache.Cache
	downloads *download.Manager
	upstream  upstream.Reader
	acl       AccessControlProvider
	log       *logging.Logger

	mu         sync.Mutex
	handles    map[uint64]*Handle
	nextHandle uint64

	onOperation func(op string)
	onAccess    AccessHookFunc
}

// Deps bundles the Facade's collaborators. The Cache Entry Table, Memory
// Cache, Directory Tree, and Download Manager are wired through a single
// injected context rather than ambient globals.
type Deps struct {
	Tree      *tree.Tree
	Entries   *entrytable.Table
	Memcache  *memcache.Cache
	Downloads *download.Manager
	Upstream  upstream.Reader
	ACL       AccessControlProvider // optional
	Log       *logging.Logger       // optional
}

// New constructs a Facade from its collaborators.
func New(d Deps) *Facade {
	return &Facade{
		tree:      d.Tree,
		entries:   d.Entries,
		memcache:  d.Memcache,
		downloads: d.Downloads,
		upstream:  d.Upstream,
		acl:       d.ACL,
		log:       d.Log,
		handles:   make(map[uint64]*Handle),
	}
}

// SetOperationHook wires an observation callback invoked once per
// facade operation with its name (e.g. "open", "read", "getattr").
func (f *Facade) SetOperationHook(fn func(op string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onOperation = fn
}

func (f *Facade) observe(op string) {
	f.mu.Lock()
	hook := f.onOperation
	f.mu.Unlock()
	if hook != nil {
		hook(op)
	}
}

// SetAccessHook wires a per-read access-pattern observation callback
// for the access-pattern reporter.
func (f *Facade) SetAccessHook(fn AccessHookFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onAccess = fn
}

func (f *Facade) observeAccess(e *entrytable.Entry, state types.FileState, hit, memoryCached bool, started time.Time) {
	f.mu.Lock()
	hook := f.onAccess
	f.mu.Unlock()
	if hook == nil {
		return
	}
	hook(e.VirtualPath, e.UpstreamLocation, e.Size, state, hit, memoryCached, time.Since(started), e.Policy)
}

// GetAttributes returns the kind/size/times/attributes for path, sourced
// from the Cache Entry Table.
func (f *Facade) GetAttributes(vp types.VirtualPath) (DirEntry, types.Status) {
	f.observe("getattr")

	node := f.tree.Find(vp)
	if node == nil {
		return DirEntry{}, types.StatusNotFound
	}
	e := f.entries.GetOrCreate(vp)
	return DirEntry{
		Name:       node.Name,
		Kind:       node.Kind,
		Size:       e.Size,
		Times:      e.Times,
		Attributes: e.Attributes,
	}, types.StatusOk
}

// Open obtains a CacheEntry for path, runs ensure_available, and returns
// a Handle. Any flags beyond AccessRead fail with AccessDenied before
// the entry is even consulted.
func (f *Facade) Open(vp types.VirtualPath, flags AccessFlags) (*Handle, types.Status) {
	f.observe("open")

	if flags.RequestsMutation() {
		return nil, types.StatusAccessDenied
	}
	if f.acl != nil && !f.acl.Allowed(vp, flags) {
		return nil, types.StatusAccessDenied
	}

	node := f.tree.Find(vp)
	if node == nil {
		return nil, types.StatusNotFound
	}

	e := f.entries.GetOrCreate(vp)
	status := f.ensureAvailable(e)
	if status != types.StatusOk && status != types.StatusPending {
		return nil, status
	}

	f.mu.Lock()
	f.nextHandle++
	id := f.nextHandle
	h := &Handle{id: id, vp: vp, entry: e, isDir: node.Kind == types.KindDirectory, dirName: string(vp)}
	f.handles[id] = h
	f.mu.Unlock()

	f.entries.Ref(e)
	return h, status
}

// ensureAvailable drives the entry's state machine: Cached and
// NetworkOnly are immediately serveable, Fetching is pending, and
// Virtual either flips to NetworkOnly or schedules a fetch.
func (f *Facade) ensureAvailable(e *entrytable.Entry) types.Status {
	switch f.entries.State(e) {
	case types.StateCached:
		return types.StatusOk
	case types.StateFetching:
		return types.StatusPending
	case types.StateNetworkOnly:
		return types.StatusOk
	case types.StateVirtual:
		if e.Policy == types.NeverCache {
			f.entries.MarkNetworkOnly(e)
			return types.StatusOk
		}
		f.entries.MarkFetching(e)
		f.queueFetch(e)
		return types.StatusPending
	default:
		return types.StatusIOError
	}
}

func (f *Facade) queueFetch(e *entrytable.Entry) {
	task := download.Task{
		VirtualPath:      e.VirtualPath,
		UpstreamLocation: e.UpstreamLocation,
		Policy:           e.Policy,
		Completion: func(status download.Status, data []byte, err error) {
			switch status {
			case download.StatusOk:
				if putErr := f.memcache.Insert(e.VirtualPath, data); putErr != nil {
					f.entries.MarkFailed(e)
					f.logf("cache insert for %s failed: %v", e.VirtualPath, putErr)
					return
				}
				f.entries.MarkCached(e, int64(len(data)))
			case download.StatusIOError:
				f.entries.MarkFailed(e)
			case download.StatusCancelled:
				f.entries.MarkFailed(e)
			case download.StatusInProgress:
				// another caller's fetch is already in flight; this
				// entry's state is left untouched, a later Read retries.
			}
		},
	}
	f.downloads.QueueDownload(task)
}

// Precache schedules a background fetch for vp without opening a handle,
// for startup prefetch of configured glob matches. Returns Pending when
// a fetch was scheduled or is already in flight, Ok when the bytes are
// already resident or the path is served straight from upstream, and
// NotFound for a path with no directory node.
func (f *Facade) Precache(vp types.VirtualPath) types.Status {
	node := f.tree.Find(vp)
	if node == nil {
		return types.StatusNotFound
	}
	if node.Kind == types.KindDirectory {
		return types.StatusOk
	}
	return f.ensureAvailable(f.entries.GetOrCreate(vp))
}

// Read serves [offset, offset+length) for an open handle:
// Cached serves from the memory cache, NetworkOnly streams straight
// through, Fetching returns Pending, and a post-failure Virtual state
// is an I/O error.
func (f *Facade) Read(ctx context.Context, h *Handle, offset, length int64) ([]byte, types.Status) {
	f.observe("read")
	started := time.Now()

	if h == nil || h.entry == nil {
		return nil, types.StatusNotFound
	}
	e := h.entry

	switch f.entries.State(e) {
	case types.StateCached:
		data, ok := f.memcache.Get(e.VirtualPath)
		if !ok {
			// Evicted since Cached was observed; re-fetch.
			f.entries.MarkFetching(e)
			f.queueFetch(e)
			f.observeAccess(e, types.StateFetching, false, false, started)
			return nil, types.StatusPending
		}
		f.entries.Touch(e)
		f.observeAccess(e, types.StateCached, true, true, started)
		return sliceRange(data, offset, length), types.StatusOk

	case types.StateNetworkOnly:
		data, err := f.upstream.ReadRange(ctx, e.UpstreamLocation, offset, length)
		if err != nil {
			f.observeAccess(e, types.StateNetworkOnly, false, false, started)
			return nil, types.StatusIOError
		}
		f.observeAccess(e, types.StateNetworkOnly, true, false, started)
		return data, types.StatusOk

	case types.StateFetching:
		f.observeAccess(e, types.StateFetching, false, false, started)
		return nil, types.StatusPending

	case types.StateVirtual:
		// A prior fetch completed and failed; retry is the caller's
		// responsibility via a fresh open.
		f.observeAccess(e, types.StateVirtual, false, false, started)
		return nil, types.StatusIOError

	default:
		return nil, types.StatusIOError
	}
}

func sliceRange(data []byte, offset, length int64) []byte {
	if offset < 0 || offset >= int64(len(data)) {
		return nil
	}
	end := offset + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[offset:end]
}

// ReadDirectory lists path's children from the Directory Tree, sorted by
// name, optionally filtered by a glob pattern matched against each
// child's name (not the full path).
func (f *Facade) ReadDirectory(vp types.VirtualPath, filter string) ([]DirEntry, types.Status) {
	f.observe("readdir")

	node := f.tree.Find(vp)
	if node == nil {
		return nil, types.StatusNotFound
	}
	if node.Kind != types.KindDirectory {
		return nil, types.StatusNotFound
	}

	children := node.Children()
	out := make([]DirEntry, 0, len(children))
	for _, c := range children {
		if filter != "" && !glob.Match(c.Name, filter, glob.CaseSensitive) {
			continue
		}
		out = append(out, DirEntry{
			Name:       c.Name,
			Kind:       c.Kind,
			Size:       c.Size,
			Times:      c.Times,
			Attributes: c.Attributes,
		})
	}
	return out, types.StatusOk
}

// Close decrements the entry's ref_count and releases the handle.
func (f *Facade) Close(h *Handle) types.Status {
	f.observe("close")
	if h == nil {
		return types.StatusOk
	}

	f.mu.Lock()
	delete(f.handles, h.id)
	f.mu.Unlock()

	if h.entry != nil {
		f.entries.Unref(h.entry)
	}
	return types.StatusOk
}

// OpenHandleCount reports the number of currently-open handles, for
// diagnostics.
func (f *Facade) OpenHandleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

func (f *Facade) logf(format string, args ...interface{}) {
	if f.log != nil {
		f.log.Warnf(format, args...)
	}
}
