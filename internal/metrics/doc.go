/*
Package metrics backs the engine's observation hooks with a Prometheus
registry and HTTP endpoint. It never calls into the cache engine itself —
memcache, download, and facade each call a hook the Collector installed,
so metrics collection costs nothing when no Collector is wired.

# Wiring

	collector, err := metrics.NewCollector(metrics.Config{
		Enabled: true, BindAddress: "0.0.0.0", Port: 9090,
	})
	collector.WireMemcache(winctx.Memcache)
	collector.WireDownloads(winctx.Downloads)
	collector.WireFacade(winctx.Facade)
	collector.Start(ctx)
	defer collector.Stop(ctx)

# Exported metrics

Counters:
  - wincachefs_cache_hits_total{operation}, wincachefs_cache_misses_total{operation}
  - wincachefs_cache_evictions_total, wincachefs_cache_inserts_total
  - wincachefs_download_queued_total, wincachefs_download_completed_total{status}
  - wincachefs_fs_operations_total{op}
  - wincachefs_network_operations_total{op,success}
  - wincachefs_network_breaker_trips_total

Gauges:
  - wincachefs_cache_bytes_resident, wincachefs_cache_entries_resident
  - wincachefs_download_active
  - wincachefs_network_breaker_state (0 closed, 1 half-open, 2 open)

Histograms:
  - wincachefs_download_duration_seconds
  - wincachefs_network_latency_seconds

# HTTP endpoints

/metrics serves the Prometheus exposition format; /health reports
{"status":"healthy"} once the server is up.
*/
package metrics
