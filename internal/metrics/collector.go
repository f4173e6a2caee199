package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wincachefs/wincachefs/internal/circuit"
	"github.com/wincachefs/wincachefs/internal/download"
	"github.com/wincachefs/wincachefs/internal/facade"
	"github.com/wincachefs/wincachefs/internal/memcache"
	"github.com/wincachefs/wincachefs/internal/upstream"
	"github.com/wincachefs/wincachefs/pkg/types"
)

// Config configures the metrics HTTP endpoint. Field names mirror
// config.MetricsConfig so callers can pass that struct through directly.
type Config struct {
	Enabled      bool
	BindAddress  string
	Port         int
	EndpointPath string
	Namespace    string
}

// Collector owns the Prometheus registry backing the observation hooks and the
// HTTP server exposing them. It holds no cache state of its own — every
// value it reports arrives through a hook call from memcache, download,
// or facade, from a wired circuit breaker's state, or from a wrapped
// upstream reader.
type Collector struct {
	cfg      Config
	registry *prometheus.Registry
	server   *http.Server

	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec
	cacheEvicts  prometheus.Counter
	cacheInserts prometheus.Counter
	cacheBytes   prometheus.Gauge
	cacheEntries prometheus.Gauge

	downloadsQueued    prometheus.Counter
	downloadsActive    prometheus.Gauge
	downloadsCompleted *prometheus.CounterVec // by terminal status
	downloadDuration   prometheus.Histogram

	fsOperations *prometheus.CounterVec // by op name

	networkOps     *prometheus.CounterVec // by op, success
	networkLatency prometheus.Histogram

	breakerState prometheus.Gauge // circuit.State numeric value
	breakerTrips prometheus.Counter
}

// NewCollector builds a Collector and registers its metrics.
func NewCollector(cfg Config) (*Collector, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = "wincachefs"
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/metrics"
	}

	registry := prometheus.NewRegistry()
	ns := cfg.Namespace

	c := &Collector{
		cfg:      cfg,
		registry: registry,

		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "cache", Name: "hits_total",
			Help: "Memory cache hits by operation.",
		}, []string{"operation"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "cache", Name: "misses_total",
			Help: "Memory cache misses by operation.",
		}, []string{"operation"}),
		cacheEvicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "cache", Name: "evictions_total",
			Help: "Entries evicted from the memory cache.",
		}),
		cacheInserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "cache", Name: "inserts_total",
			Help: "Entries inserted into the memory cache.",
		}),
		cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "cache", Name: "bytes_resident",
			Help: "Bytes currently resident in the memory cache.",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "cache", Name: "entries_resident",
			Help: "Entries currently resident in the memory cache.",
		}),

		downloadsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "download", Name: "queued_total",
			Help: "Fetch tasks queued with the download manager.",
		}),
		downloadsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "download", Name: "active",
			Help: "Fetch tasks currently in flight or queued.",
		}),
		downloadsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "download", Name: "completed_total",
			Help: "Completed fetch tasks by terminal status.",
		}, []string{"status"}),
		downloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "download", Name: "duration_seconds",
			Help:    "Time from queue to terminal completion of a fetch task.",
			Buckets: prometheus.DefBuckets,
		}),

		fsOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "fs", Name: "operations_total",
			Help: "Filesystem Facade operations by name.",
		}, []string{"op"}),

		networkOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "network", Name: "operations_total",
			Help: "Upstream network operations by kind and outcome.",
		}, []string{"op", "success"}),
		networkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "network", Name: "latency_seconds",
			Help:    "Upstream network operation latency.",
			Buckets: prometheus.DefBuckets,
		}),

		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "network", Name: "breaker_state",
			Help: "Upstream circuit breaker state (0 closed, 1 half-open, 2 open).",
		}),
		breakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "network", Name: "breaker_trips_total",
			Help: "Times the upstream circuit breaker opened.",
		}),
	}

	collectors := []prometheus.Collector{
		c.cacheHits, c.cacheMisses, c.cacheEvicts, c.cacheInserts, c.cacheBytes, c.cacheEntries,
		c.downloadsQueued, c.downloadsActive, c.downloadsCompleted, c.downloadDuration,
		c.fsOperations,
		c.networkOps, c.networkLatency,
		c.breakerState, c.breakerTrips,
	}
	for _, coll := range collectors {
		if err := registry.Register(coll); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return c, nil
}

// WireMemcache installs the observation hooks onto a memory cache instance.
func (c *Collector) WireMemcache(mc *memcache.Cache) {
	mc.SetHooks(
		func(vp types.VirtualPath) { c.cacheHits.WithLabelValues("read").Inc() },
		func(vp types.VirtualPath) { c.cacheMisses.WithLabelValues("read").Inc() },
		func(vp types.VirtualPath, size int64) {
			c.cacheEvicts.Inc()
			c.cacheBytes.Sub(float64(size))
			c.cacheEntries.Dec()
		},
		func(vp types.VirtualPath, size int64) {
			c.cacheInserts.Inc()
			c.cacheBytes.Add(float64(size))
			c.cacheEntries.Inc()
		},
	)
}

// WireDownloads installs the observation hooks onto a download manager
// instance. Duration is measured from onQueued to onCompleted per
// virtual path; completions for different paths run on different worker
// goroutines, so the start-time map carries its own mutex.
func (c *Collector) WireDownloads(mgr *download.Manager) {
	var mu sync.Mutex
	started := make(map[types.VirtualPath]time.Time)
	mgr.SetHooks(
		func(vp types.VirtualPath) {
			c.downloadsQueued.Inc()
			c.downloadsActive.Inc()
			mu.Lock()
			started[vp] = time.Now()
			mu.Unlock()
		},
		func(vp types.VirtualPath, status download.Status) {
			c.downloadsActive.Dec()
			c.downloadsCompleted.WithLabelValues(status.String()).Inc()
			mu.Lock()
			t, ok := started[vp]
			if ok {
				delete(started, vp)
			}
			mu.Unlock()
			if ok {
				c.downloadDuration.Observe(time.Since(t).Seconds())
			}
		},
	)
}

// WireFacade installs the operation hook onto a Filesystem Facade
// instance.
func (c *Collector) WireFacade(f *facade.Facade) {
	f.SetOperationHook(func(op string) {
		c.fsOperations.WithLabelValues(op).Inc()
	})
}

// ObserveNetworkOp records one upstream network operation's outcome and
// latency. WireUpstream is the only production caller; it is exported
// separately so a test can drive it directly without constructing a
// whole upstream.Reader.
func (c *Collector) ObserveNetworkOp(op string, success bool, elapsed time.Duration) {
	c.networkOps.WithLabelValues(op, fmt.Sprintf("%t", success)).Inc()
	c.networkLatency.Observe(elapsed.Seconds())
}

// WireBreaker exports an upstream circuit breaker's admission state as
// a gauge (circuit.State's numeric value) and counts every trip to open.
func (c *Collector) WireBreaker(b *circuit.Breaker) {
	c.breakerState.Set(float64(b.State()))
	b.SetStateHook(func(from, to circuit.State) {
		c.breakerState.Set(float64(to))
		if to == circuit.StateOpen {
			c.breakerTrips.Inc()
		}
	})
}

// WireUpstream wraps reader so every ReadAll/ReadRange/Enumerate call
// reports through ObserveNetworkOp, the way WireMemcache/WireDownloads/
// WireFacade wrap their own collaborators. ChildLocation passes straight
// through to reader unobserved — it does no I/O, so it carries no
// network outcome or latency to record.
func (c *Collector) WireUpstream(reader upstream.Reader) upstream.Reader {
	return &instrumentedUpstream{reader: reader, collector: c}
}

type instrumentedUpstream struct {
	reader    upstream.Reader
	collector *Collector
}

func (u *instrumentedUpstream) ReadAll(ctx context.Context, location types.UpstreamLocation) ([]byte, error) {
	start := time.Now()
	data, err := u.reader.ReadAll(ctx, location)
	u.collector.ObserveNetworkOp("read_all", err == nil, time.Since(start))
	return data, err
}

func (u *instrumentedUpstream) ReadRange(ctx context.Context, location types.UpstreamLocation, offset, length int64) ([]byte, error) {
	start := time.Now()
	data, err := u.reader.ReadRange(ctx, location, offset, length)
	u.collector.ObserveNetworkOp("read_range", err == nil, time.Since(start))
	return data, err
}

func (u *instrumentedUpstream) Enumerate(ctx context.Context, location types.UpstreamLocation) ([]types.ObjectMeta, error) {
	start := time.Now()
	entries, err := u.reader.Enumerate(ctx, location)
	u.collector.ObserveNetworkOp("enumerate", err == nil, time.Since(start))
	return entries, err
}

func (u *instrumentedUpstream) ChildLocation(parent types.UpstreamLocation, name string) types.UpstreamLocation {
	return u.reader.ChildLocation(parent, name)
}

// Start begins serving the Prometheus endpoint in the background. A
// disabled config is a no-op.
func (c *Collector) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.cfg.EndpointPath, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.healthHandler)

	addr := fmt.Sprintf("%s:%d", c.cfg.BindAddress, c.cfg.Port)
	c.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Stop shuts the metrics HTTP server down gracefully.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// Registry exposes the underlying Prometheus registry for tests that
// want to scrape it directly without standing up an HTTP server.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"wincachefs-metrics"}`))
}
