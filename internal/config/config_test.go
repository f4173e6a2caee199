package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.TotalCacheSizeMB != 8192 {
		t.Errorf("expected TotalCacheSizeMB to be 8192, got %d", cfg.Global.TotalCacheSizeMB)
	}
	if cfg.Global.EvictionPolicy != "lru" {
		t.Errorf("expected EvictionPolicy to be lru, got %s", cfg.Global.EvictionPolicy)
	}
	if cfg.Global.DownloadThreads != 4 {
		t.Errorf("expected DownloadThreads to be 4, got %d", cfg.Global.DownloadThreads)
	}
	if cfg.Monitoring.Logging.Level != "INFO" {
		t.Errorf("expected Logging.Level to be INFO, got %s", cfg.Monitoring.Logging.Level)
	}
	if !cfg.Network.CircuitBreaker.Enabled {
		t.Error("expected CircuitBreaker to be enabled by default")
	}
}

func TestValidate(t *testing.T) {
	validWithCompiler := func() *Configuration {
		cfg := NewDefault()
		cfg.Compilers = map[string]CompilerConfig{
			"msvc": {NetworkPath: `\\share\msvc`},
		}
		return cfg
	}

	tests := []struct {
		name    string
		config  func() *Configuration
		wantErr bool
		errMsg  string
	}{
		{name: "valid config", config: validWithCompiler, wantErr: false},
		{
			name:    "no compilers configured",
			config:  NewDefault,
			wantErr: true,
			errMsg:  "at least one entry under compilers",
		},
		{
			name: "negative download threads",
			config: func() *Configuration {
				cfg := validWithCompiler()
				cfg.Global.DownloadThreads = -1
				return cfg
			},
			wantErr: true,
			errMsg:  "download_threads must not be negative",
		},
		{
			name: "zero download threads is legal",
			config: func() *Configuration {
				cfg := validWithCompiler()
				cfg.Global.DownloadThreads = 0
				return cfg
			},
			wantErr: false,
		},
		{
			name: "invalid cache size",
			config: func() *Configuration {
				cfg := validWithCompiler()
				cfg.Global.TotalCacheSizeMB = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "total_cache_size_mb must be greater than 0",
		},
		{
			name: "invalid log level",
			config: func() *Configuration {
				cfg := validWithCompiler()
				cfg.Monitoring.Logging.Level = "NOISY"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid monitoring.logging.level",
		},
		{
			name: "missing network path",
			config: func() *Configuration {
				cfg := validWithCompiler()
				cfg.Compilers["msvc"] = CompilerConfig{}
				return cfg
			},
			wantErr: true,
			errMsg:  "network_path is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config().Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.errMsg)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
compilers:
  msvc:
    network_path: "\\share\\msvc"
    cache_always: ["bin/*.exe"]
global:
  total_cache_size_mb: 4096
  download_threads: 8
monitoring:
  logging:
    level: DEBUG
`
	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Global.TotalCacheSizeMB != 4096 {
		t.Errorf("expected TotalCacheSizeMB to be 4096, got %d", cfg.Global.TotalCacheSizeMB)
	}
	if cfg.Global.DownloadThreads != 8 {
		t.Errorf("expected DownloadThreads to be 8, got %d", cfg.Global.DownloadThreads)
	}
	if cfg.Monitoring.Logging.Level != "DEBUG" {
		t.Errorf("expected Logging.Level to be DEBUG, got %s", cfg.Monitoring.Logging.Level)
	}
	roots := cfg.CompilerRoots()
	if len(roots) != 1 || roots[0].VirtualRoot != "/msvc" {
		t.Errorf("expected one compiler root at /msvc, got %+v", roots)
	}
}

func TestLoadFromFileNonExistent(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error when loading non-existent config file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("WINCACHEFS_LOG_LEVEL", "ERROR")
	t.Setenv("WINCACHEFS_METRICS_PORT", "9191")
	t.Setenv("WINCACHEFS_TOTAL_CACHE_SIZE_MB", "2048")
	t.Setenv("WINCACHEFS_DOWNLOAD_THREADS", "16")
	t.Setenv("WINCACHEFS_CASE_SENSITIVE", "true")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Monitoring.Logging.Level != "ERROR" {
		t.Errorf("expected Logging.Level to be ERROR, got %s", cfg.Monitoring.Logging.Level)
	}
	if cfg.Global.Metrics.Port != 9191 {
		t.Errorf("expected Metrics.Port to be 9191, got %d", cfg.Global.Metrics.Port)
	}
	if cfg.Global.TotalCacheSizeMB != 2048 {
		t.Errorf("expected TotalCacheSizeMB to be 2048, got %d", cfg.Global.TotalCacheSizeMB)
	}
	if cfg.Global.DownloadThreads != 16 {
		t.Errorf("expected DownloadThreads to be 16, got %d", cfg.Global.DownloadThreads)
	}
	if !cfg.Global.CaseSensitive {
		t.Error("expected CaseSensitive to be true")
	}
}

func TestSaveToFileRoundTrips(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "subdir", "saved_config.yaml")

	cfg := NewDefault()
	cfg.Compilers = map[string]CompilerConfig{"msvc": {NetworkPath: `\\share\msvc`}}
	cfg.Monitoring.Logging.Level = "DEBUG"

	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	loaded := NewDefault()
	if err := loaded.LoadFromFile(configFile); err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Monitoring.Logging.Level != "DEBUG" {
		t.Errorf("expected Logging.Level to round-trip as DEBUG, got %s", loaded.Monitoring.Logging.Level)
	}
}

func TestCompilerRootsHandlesMultiSegmentNames(t *testing.T) {
	cfg := NewDefault()
	cfg.Compilers = map[string]CompilerConfig{
		"msvc/14.40.x": {NetworkPath: `\\share\msvc\14.40`, CacheAlways: []string{"*.exe"}},
	}
	roots := cfg.CompilerRoots()
	if len(roots) != 1 {
		t.Fatalf("expected 1 root, got %d", len(roots))
	}
	if roots[0].VirtualRoot != "/msvc/14.40.x" {
		t.Errorf("expected VirtualRoot /msvc/14.40.x, got %s", roots[0].VirtualRoot)
	}
}
