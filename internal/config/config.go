package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/wincachefs/wincachefs/pkg/types"
)

// Configuration is the complete document: a map of named compiler roots
// plus a global section governing the cache budget and download
// concurrency, and the logging/network/monitoring sections.
type Configuration struct {
	Compilers  map[string]CompilerConfig `yaml:"compilers"`
	Global     GlobalConfig              `yaml:"global"`
	Network    NetworkConfig             `yaml:"network"`
	Monitoring MonitoringConfig          `yaml:"monitoring"`
}

// CompilerConfig is one entry under `compilers:`. The map key is the
// compiler's Name and may itself contain '/' to encode a multi-segment
// virtual root (e.g. "msvc/14.40.x").
type CompilerConfig struct {
	NetworkPath      string   `yaml:"network_path"`
	CacheSizeMB      int64    `yaml:"cache_size_mb"`
	CacheAlways      []string `yaml:"cache_always"`
	PrefetchPatterns []string `yaml:"prefetch_patterns"`
}

// GlobalConfig is the `global:` section.
type GlobalConfig struct {
	TotalCacheSizeMB int64         `yaml:"total_cache_size_mb"`
	EvictionPolicy   string        `yaml:"eviction_policy"`
	CacheDirectory   string        `yaml:"cache_directory"` // reserved, unused (no disk tier)
	DownloadThreads  int           `yaml:"download_threads"`
	CaseSensitive    bool          `yaml:"case_sensitive"`
	Metrics          MetricsConfig `yaml:"metrics"`
	ReportDirectory  string        `yaml:"report_directory"`
	ReportInterval   time.Duration `yaml:"report_interval"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	Enabled      bool   `yaml:"enabled"`
	BindAddress  string `yaml:"bind_address"`
	Port         int    `yaml:"port"`
	EndpointPath string `yaml:"endpoint_path"`
}

// NetworkConfig carries the resilience settings for upstream I/O: retry
// backoff and circuit breaking.
type NetworkConfig struct {
	Timeouts       TimeoutConfig        `yaml:"timeouts"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// TimeoutConfig bounds a single upstream operation.
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Read    time.Duration `yaml:"read"`
}

// RetryConfig configures pkg/retry's exponential backoff.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig configures internal/circuit's breaker wrapping
// upstream reads.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// MonitoringConfig carries the logging section.
type MonitoringConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level         string         `yaml:"level"`
	Format        string         `yaml:"format"` // "text" or "json"
	File          string         `yaml:"file"`
	IncludeCaller bool           `yaml:"include_caller"`
	Rotation      RotationConfig `yaml:"rotation"`
}

// RotationConfig mirrors pkg/logging.RotationConfig so it round-trips
// through YAML without importing the logging package's internal type.
type RotationConfig struct {
	MaxSizeMB  int64 `yaml:"max_size_mb"`
	MaxAgeDays int   `yaml:"max_age_days"`
	MaxBackups int   `yaml:"max_backups"`
	Compress   bool  `yaml:"compress"`
}

// NewDefault returns a configuration with the documented defaults
// (8192 MB budget, lru eviction, 4 download threads).
func NewDefault() *Configuration {
	return &Configuration{
		Compilers: map[string]CompilerConfig{},
		Global: GlobalConfig{
			TotalCacheSizeMB: 8192,
			EvictionPolicy:   "lru",
			DownloadThreads:  4,
			CaseSensitive:    false,
			Metrics: MetricsConfig{
				Enabled:      true,
				BindAddress:  "0.0.0.0",
				Port:         9090,
				EndpointPath: "/metrics",
			},
			ReportInterval: 5 * time.Minute,
		},
		Network: NetworkConfig{
			Timeouts: TimeoutConfig{
				Connect: 10 * time.Second,
				Read:    30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   1 * time.Second,
				MaxDelay:    30 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
		},
		Monitoring: MonitoringConfig{
			Logging: LoggingConfig{
				Level:         "INFO",
				Format:        "text",
				IncludeCaller: true,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv applies WINCACHEFS_*-prefixed environment variable
// overrides on top of whatever was loaded from file.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("WINCACHEFS_LOG_LEVEL"); val != "" {
		c.Monitoring.Logging.Level = val
	}
	if val := os.Getenv("WINCACHEFS_LOG_FILE"); val != "" {
		c.Monitoring.Logging.File = val
	}
	if val := os.Getenv("WINCACHEFS_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.Metrics.Port = port
		}
	}
	if val := os.Getenv("WINCACHEFS_TOTAL_CACHE_SIZE_MB"); val != "" {
		if size, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Global.TotalCacheSizeMB = size
		}
	}
	if val := os.Getenv("WINCACHEFS_DOWNLOAD_THREADS"); val != "" {
		if threads, err := strconv.Atoi(val); err == nil {
			c.Global.DownloadThreads = threads
		}
	}
	if val := os.Getenv("WINCACHEFS_CASE_SENSITIVE"); val != "" {
		c.Global.CaseSensitive = strings.EqualFold(val, "true")
	}
	return nil
}

// SaveToFile writes the configuration to filename as YAML, creating
// parent directories as needed.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects configurations that cannot be turned into a working
// engine: no compiler roots, a negative thread count, or an invalid log
// level. A download_threads of exactly 0 is legal (the engine never
// makes progress on a miss until shutdown) but unusual enough
// that callers should log a warning; Validate itself stays side-effect
// free and leaves that warning to the caller.
func (c *Configuration) Validate() error {
	if len(c.Compilers) == 0 {
		return fmt.Errorf("at least one entry under compilers is required")
	}
	if c.Global.DownloadThreads < 0 {
		return fmt.Errorf("global.download_threads must not be negative")
	}
	if c.Global.TotalCacheSizeMB <= 0 {
		return fmt.Errorf("global.total_cache_size_mb must be greater than 0")
	}

	validLevels := []string{"TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "FATAL"}
	levelValid := false
	for _, l := range validLevels {
		if strings.EqualFold(c.Monitoring.Logging.Level, l) {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("invalid monitoring.logging.level: %s (must be one of: %s)",
			c.Monitoring.Logging.Level, strings.Join(validLevels, ", "))
	}

	for name, cc := range c.Compilers {
		if cc.NetworkPath == "" {
			return fmt.Errorf("compilers.%s.network_path is required", name)
		}
	}

	return nil
}

// CompilerRoots converts the configured compilers map into the
// []types.CompilerRoot the Policy Engine and Directory Cache consume,
// deriving VirtualRoot from the map key (a key may itself contain '/'
// to encode a multi-segment virtual root).
func (c *Configuration) CompilerRoots() []types.CompilerRoot {
	roots := make([]types.CompilerRoot, 0, len(c.Compilers))
	for name, cc := range c.Compilers {
		roots = append(roots, types.CompilerRoot{
			Name:            name,
			VirtualRoot:     types.VirtualPath("/" + strings.Trim(name, "/")),
			UpstreamRoot:    types.UpstreamLocation(cc.NetworkPath),
			CacheAlways:     cc.CacheAlways,
			Prefetch:        cc.PrefetchPatterns,
			SizeBudgetBytes: cc.CacheSizeMB * 1024 * 1024,
		})
	}
	return roots
}
