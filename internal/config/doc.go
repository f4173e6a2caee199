// Package config loads the service's declarative document: a named set of
// compiler roots under `compilers:`, a `global:` section controlling the
// cache budget and download concurrency, and network/monitoring sections
// for upstream resilience and observability.
//
// Precedence is file, then environment (WINCACHEFS_*), then whatever the
// caller sets on the struct directly before calling Validate.
//
// Example file:
//
//	compilers:
//	  msvc/14.40.x:
//	    network_path: "\\\\build-share\\msvc\\14.40"
//	    cache_always: ["bin/Hostx64/x64/*.exe"]
//	    prefetch_patterns: ["include/**/*.h"]
//	  ninja:
//	    network_path: "\\\\build-share\\tools\\ninja"
//	    cache_always: ["*.exe"]
//
//	global:
//	  total_cache_size_mb: 8192
//	  download_threads: 8
//	  metrics:
//	    enabled: true
//	    port: 9090
//
//	monitoring:
//	  logging:
//	    level: INFO
//	    format: json
package config
