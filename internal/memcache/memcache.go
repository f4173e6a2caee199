// Package memcache implements the memory cache: a keyed byte-buffer
// store with total-bytes accounting and last-used-ascending LRU eviction
// under a configured byte budget, driven by high/low watermarks.
package memcache

import (
	"container/list"
	"sync"
	"time"

	"github.com/wincachefs/wincachefs/pkg/types"
)

// EvictionMode selects what happens when an insert would exceed the
// budget and no evictable bytes remain.
type EvictionMode int

const (
	// Soft admits the new bytes even above budget, then evicts
	// opportunistically on the next trigger. This is the default.
	Soft EvictionMode = iota
	// Strict refuses the insert with ErrOutOfBudget when nothing can be
	// evicted to make room.
	Strict
)

// Config configures watermarks and eviction behavior.
type Config struct {
	BudgetBytes   int64
	HighWatermark float64 // fraction of BudgetBytes; default 0.90
	LowWatermark  float64 // fraction of BudgetBytes; default 0.80
	Mode          EvictionMode
	SweepInterval time.Duration // background safety-net timer; 0 disables
}

// RefCounter is implemented by the owning CacheEntry table so the cache
// can consult ref counts during eviction without depending on the
// entrytable package (avoiding an import cycle): ref_count > 0 pins an
// entry's bytes against eviction.
type RefCounter interface {
	RefCount(vp types.VirtualPath) int32
}

type entry struct {
	key       types.VirtualPath
	data      []byte
	lastUsed  int64 // monotonic nanoseconds
	accessCnt int64
	element   *list.Element
}

// Cache is the thread-safe memory cache. One mutex guards the map and
// total size; byte buffers are shared immutably once inserted so reads
// never copy.
type Cache struct {
	mu        sync.Mutex
	cfg       Config
	items     map[types.VirtualPath]*entry
	lru       *list.List // front = most recently used
	totalSize int64
	refs      RefCounter

	stopSweep chan struct{}

	// hooks, nil-safe observation callbacks (metrics wiring without an
	// import-cycle on the metrics package).
	onHit    func(vp types.VirtualPath)
	onMiss   func(vp types.VirtualPath)
	onEvict  func(vp types.VirtualPath, size int64)
	onInsert func(vp types.VirtualPath, size int64)
}

// ErrOutOfBudget is returned by Insert under Strict eviction mode when no
// bytes can be freed to admit the new entry.
type ErrOutOfBudget struct{ Requested, Available int64 }

func (e *ErrOutOfBudget) Error() string {
	return "memcache: out of cache budget"
}

// New constructs a Cache. A nil RefCounter treats every entry as
// unpinned (ref_count == 0), which is fine for tests and for a cache used
// without the entry table.
func New(cfg Config, refs RefCounter) *Cache {
	if cfg.HighWatermark <= 0 {
		cfg.HighWatermark = 0.90
	}
	if cfg.LowWatermark <= 0 {
		cfg.LowWatermark = 0.80
	}
	c := &Cache{
		cfg:       cfg,
		items:     make(map[types.VirtualPath]*entry),
		lru:       list.New(),
		refs:      refs,
		stopSweep: make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go c.sweepLoop(cfg.SweepInterval)
	}
	return c
}

// SetHooks wires optional observation callbacks; any nil func is a no-op.
func (c *Cache) SetHooks(onHit, onMiss func(types.VirtualPath), onEvict func(types.VirtualPath, int64), onInsert func(types.VirtualPath, int64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onHit, c.onMiss, c.onEvict, c.onInsert = onHit, onMiss, onEvict, onInsert
}

// Get returns the cached bytes for vp, or (nil, false) on a miss. The
// returned slice is shared and must be treated as immutable.
func (c *Cache) Get(vp types.VirtualPath) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[vp]
	if !ok {
		if c.onMiss != nil {
			c.onMiss(vp)
		}
		return nil, false
	}
	e.lastUsed = time.Now().UnixNano()
	e.accessCnt++
	c.lru.MoveToFront(e.element)
	if c.onHit != nil {
		c.onHit(vp)
	}
	return e.data, true
}

// Insert stores data under vp, replacing any prior value, and triggers
// watermark eviction afterward. Returns ErrOutOfBudget only under Strict
// mode when admission would still exceed budget after every unpinned
// entry has been evicted.
func (c *Cache) Insert(vp types.VirtualPath, data []byte) error {
	c.mu.Lock()

	size := int64(len(data))
	if old, ok := c.items[vp]; ok {
		c.totalSize -= int64(len(old.data))
		c.lru.Remove(old.element)
		delete(c.items, vp)
	}

	if c.cfg.Mode == Strict && c.cfg.BudgetBytes > 0 {
		if c.totalSize+size > c.cfg.BudgetBytes {
			freed := c.evictLocked(c.cfg.BudgetBytes - size)
			if c.totalSize+size > c.cfg.BudgetBytes && freed >= 0 {
				c.mu.Unlock()
				return &ErrOutOfBudget{Requested: size, Available: c.cfg.BudgetBytes - c.totalSize}
			}
		}
	}

	e := &entry{key: vp, data: data, lastUsed: time.Now().UnixNano(), accessCnt: 0}
	e.element = c.lru.PushFront(e)
	c.items[vp] = e
	c.totalSize += size

	if c.onInsert != nil {
		c.onInsert(vp, size)
	}

	// Soft admission: bytes are in regardless of watermark; evict
	// opportunistically down to the low watermark afterward.
	if c.cfg.BudgetBytes > 0 {
		high := int64(float64(c.cfg.BudgetBytes) * c.cfg.HighWatermark)
		if c.totalSize > high {
			low := int64(float64(c.cfg.BudgetBytes) * c.cfg.LowWatermark)
			c.evictLocked(low)
		}
	}
	c.mu.Unlock()
	return nil
}

// Remove releases vp's bytes, if present.
func (c *Cache) Remove(vp types.VirtualPath) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(vp)
}

func (c *Cache) removeLocked(vp types.VirtualPath) {
	e, ok := c.items[vp]
	if !ok {
		return
	}
	c.lru.Remove(e.element)
	delete(c.items, vp)
	c.totalSize -= int64(len(e.data))
	if c.onEvict != nil {
		c.onEvict(vp, int64(len(e.data)))
	}
}

// SizeBytes returns the current total cached byte count.
func (c *Cache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalSize
}

// EntryCount returns the number of cached entries.
func (c *Cache) EntryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// EvictUntil evicts least-recently-used unpinned entries until total size
// is at most targetBytes or no more candidates remain, returning the
// number of bytes freed.
func (c *Cache) EvictUntil(targetBytes int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked(targetBytes)
}

// evictLocked requires c.mu held. Candidates are selected oldest-first
// (back of the list, since PushFront/MoveToFront keep MRU at the front)
// and are skipped while their ref count is nonzero — pinned bytes are
// never dropped.
func (c *Cache) evictLocked(targetBytes int64) int64 {
	var freed int64
	el := c.lru.Back()
	for c.totalSize > targetBytes && el != nil {
		prev := el.Prev()
		e := el.Value.(*entry)
		if c.refs != nil && c.refs.RefCount(e.key) > 0 {
			el = prev
			continue
		}
		c.lru.Remove(el)
		delete(c.items, e.key)
		c.totalSize -= int64(len(e.data))
		freed += int64(len(e.data))
		if c.onEvict != nil {
			c.onEvict(e.key, int64(len(e.data)))
		}
		el = prev
	}
	return freed
}

// Stop terminates the background sweep goroutine, if one was started.
func (c *Cache) Stop() {
	select {
	case <-c.stopSweep:
	default:
		close(c.stopSweep)
	}
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			if c.cfg.BudgetBytes > 0 && c.totalSize > c.cfg.BudgetBytes {
				low := int64(float64(c.cfg.BudgetBytes) * c.cfg.LowWatermark)
				c.evictLocked(low)
			}
			c.mu.Unlock()
		case <-c.stopSweep:
			return
		}
	}
}
