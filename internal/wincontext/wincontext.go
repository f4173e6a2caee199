// Package wincontext assembles the single injected context object that
// wires the Directory Tree, Cache Entry Table, Memory Cache, Download
// Manager, and Filesystem Facade together. Everything is constructed
// once and passed down; no package relies on ambient globals.
package wincontext

import (
	"context"
	"time"

	"github.com/wincachefs/wincachefs/internal/dircache"
	"github.com/wincachefs/wincachefs/internal/download"
	"github.com/wincachefs/wincachefs/internal/entrytable"
	"github.com/wincachefs/wincachefs/internal/facade"
	"github.com/wincachefs/wincachefs/internal/glob"
	"github.com/wincachefs/wincachefs/internal/memcache"
	"github.com/wincachefs/wincachefs/internal/policy"
	"github.com/wincachefs/wincachefs/internal/tree"
	"github.com/wincachefs/wincachefs/internal/upstream"
	"github.com/wincachefs/wincachefs/internal/vpath"
	"github.com/wincachefs/wincachefs/pkg/logging"
	"github.com/wincachefs/wincachefs/pkg/types"
)

// Options configures the cache engine's runtime parameters, independent
// of how they were parsed (internal/config owns YAML deserialization).
type Options struct {
	Roots            []types.CompilerRoot
	CaseFold         bool
	CacheBudgetBytes int64
	HighWatermark    float64
	LowWatermark     float64
	EvictionMode     memcache.EvictionMode
	SweepInterval    time.Duration
	DownloadThreads  int
	ACL              facade.AccessControlProvider
	Log              *logging.Logger
}

// Context bundles every long-lived collaborator the cache engine needs,
// built once at process start and handed to the host adapter.
type Context struct {
	Tree      *tree.Tree
	Policy    *policy.Engine
	Entries   *entrytable.Table
	Memcache  *memcache.Cache
	Downloads *download.Manager
	Facade    *facade.Facade
	Upstream  upstream.Reader
}

// Build constructs the full engine: it enumerates every configured root
// through reader to populate the Directory Tree, then wires the Policy
// Engine, Cache Entry Table, Memory Cache, Download Manager, and
// Filesystem Facade over it.
func Build(ctx context.Context, reader upstream.Reader, opts Options) *Context {
	builder := dircache.New(reader, opts.Log)
	t := builder.Build(ctx, opts.Roots, opts.CaseFold)

	pol := policy.New(opts.Roots, opts.CaseFold)
	entries := entrytable.New(t, pol)

	mc := memcache.New(memcache.Config{
		BudgetBytes:   opts.CacheBudgetBytes,
		HighWatermark: opts.HighWatermark,
		LowWatermark:  opts.LowWatermark,
		Mode:          opts.EvictionMode,
		SweepInterval: opts.SweepInterval,
	}, entries)

	// opts.DownloadThreads passes straight through: 0 is a valid,
	// deliberate configuration (no progress until shutdown), not an
	// "unset" sentinel to default away. Unset-vs-zero defaulting belongs
	// to config.NewDefault(), not here.
	mgr := download.New(opts.DownloadThreads, func(ctx context.Context, loc types.UpstreamLocation) ([]byte, error) {
		return reader.ReadAll(ctx, loc)
	})

	f := facade.New(facade.Deps{
		Tree:      t,
		Entries:   entries,
		Memcache:  mc,
		Downloads: mgr,
		Upstream:  reader,
		ACL:       opts.ACL,
		Log:       opts.Log,
	})

	return &Context{
		Tree:      t,
		Policy:    pol,
		Entries:   entries,
		Memcache:  mc,
		Downloads: mgr,
		Facade:    f,
		Upstream:  reader,
	}
}

// Prefetch walks each compiler root's subtree and schedules a background
// fetch for every file whose root-relative path matches one of the
// root's prefetch globs. Fetches flow through the same download manager
// and single-flight discipline as demand misses; the call returns once
// everything is queued, without waiting for completions. Returns the
// number of fetches scheduled.
func (c *Context) Prefetch(roots []types.CompilerRoot, caseFold bool) int {
	fold := glob.CaseSensitive
	if caseFold {
		fold = glob.CaseInsensitive
	}

	scheduled := 0
	for _, root := range roots {
		if len(root.Prefetch) == 0 {
			continue
		}
		node := c.Tree.Find(root.VirtualRoot)
		if node == nil {
			continue
		}
		var walk func(n *tree.Node)
		walk = func(n *tree.Node) {
			for _, ch := range n.Children() {
				if ch.Kind == types.KindDirectory {
					walk(ch)
					continue
				}
				rel := vpath.TrimRoot(ch.VirtualPath, root.VirtualRoot)
				if !glob.MatchAny(rel, root.Prefetch, fold) {
					continue
				}
				if c.Facade.Precache(ch.VirtualPath) == types.StatusPending {
					scheduled++
				}
			}
		}
		walk(node)
	}
	return scheduled
}

// Shutdown drains the download manager and stops the memory cache's
// background sweep, in that order: in-flight fetches are cancelled
// before the cache they would have written into goes away.
func (c *Context) Shutdown() {
	c.Downloads.Shutdown()
	c.Memcache.Stop()
}
