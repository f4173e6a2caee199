package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wincachefs/wincachefs/internal/circuit"
	"github.com/wincachefs/wincachefs/internal/config"
	"github.com/wincachefs/wincachefs/internal/hostfuse"
	"github.com/wincachefs/wincachefs/internal/memcache"
	"github.com/wincachefs/wincachefs/internal/metrics"
	"github.com/wincachefs/wincachefs/internal/reporter"
	"github.com/wincachefs/wincachefs/internal/upstream"
	"github.com/wincachefs/wincachefs/internal/wincontext"
	"github.com/wincachefs/wincachefs/pkg/logging"
	"github.com/wincachefs/wincachefs/pkg/retry"
)

var serveConfiguration struct {
	configPath string
	mountPoint string
}

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Load a config, build the cache engine, and mount it",
	RunE:  runServe,
}

func init() {
	flags := serveCommand.Flags()
	flags.StringVarP(&serveConfiguration.configPath, "config", "c", "", "path to the YAML config file (required)")
	flags.StringVarP(&serveConfiguration.mountPoint, "mount-point", "m", "", "directory or drive letter to mount at (required)")
	_ = serveCommand.MarkFlagRequired("config")
	_ = serveCommand.MarkFlagRequired("mount-point")
}

// runServe is the service lifecycle: parse config -> build Directory
// Tree -> start Download Manager -> expose filesystem -> on signal:
// drain and shut down workers, flush observability, exit 0.
func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.NewDefault()
	if err := cfg.LoadFromFile(serveConfiguration.configPath); err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("config env override failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	log, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer log.Close()

	if cfg.Global.DownloadThreads == 0 {
		log.Warnf("global.download_threads is 0: cache misses will never be fetched until restart")
	}

	reader := buildUpstreamReader(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector, err := metrics.NewCollector(metrics.Config{
		Enabled:      cfg.Global.Metrics.Enabled,
		BindAddress:  cfg.Global.Metrics.BindAddress,
		Port:         cfg.Global.Metrics.Port,
		EndpointPath: cfg.Global.Metrics.EndpointPath,
	})
	if err != nil {
		return fmt.Errorf("metrics init failed: %w", err)
	}
	if s3r, ok := reader.(*upstream.S3Reader); ok {
		collector.WireBreaker(s3r.Breaker())
	}
	reader = collector.WireUpstream(reader)

	evictionMode := memcache.Soft
	if strings.EqualFold(cfg.Global.EvictionPolicy, "strict") {
		evictionMode = memcache.Strict
	}

	wc := wincontext.Build(ctx, reader, wincontext.Options{
		Roots:            cfg.CompilerRoots(),
		CaseFold:         !cfg.Global.CaseSensitive,
		CacheBudgetBytes: cfg.Global.TotalCacheSizeMB * 1024 * 1024,
		HighWatermark:    0.90,
		LowWatermark:     0.80,
		EvictionMode:     evictionMode,
		SweepInterval:    0,
		DownloadThreads:  cfg.Global.DownloadThreads,
		Log:              log,
	})
	defer wc.Shutdown()

	if n := wc.Prefetch(cfg.CompilerRoots(), !cfg.Global.CaseSensitive); n > 0 {
		log.Infof("scheduled %d prefetch download(s)", n)
	}

	collector.WireMemcache(wc.Memcache)
	collector.WireDownloads(wc.Downloads)
	collector.WireFacade(wc.Facade)
	if err := collector.Start(ctx); err != nil {
		return fmt.Errorf("metrics server start failed: %w", err)
	}
	defer collector.Stop(context.Background())

	if cfg.Global.ReportDirectory != "" {
		tracker := reporter.New(reporter.Config{
			ReportDirectory: cfg.Global.ReportDirectory,
			ReportInterval:  cfg.Global.ReportInterval,
		}, log)
		wc.Facade.SetAccessHook(tracker.RecordAccess)
		tracker.StartReporting()
		defer tracker.StopReporting()
	}

	host, err := hostfuse.Mount(ctx, wc, serveConfiguration.mountPoint, log)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}

	log.Infof("wincachefsd serving %d compiler root(s) at %s", len(cfg.Compilers), serveConfiguration.mountPoint)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Infof("shutdown signal received, unmounting and draining")
	if err := host.Unmount(); err != nil {
		log.Errorf("unmount of %s failed: %v", serveConfiguration.mountPoint, err)
	}
	return nil
}

func buildLogger(cfg *config.Configuration) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Monitoring.Logging.Level)
	if err != nil {
		level = logging.INFO
	}
	format := logging.FormatText
	if strings.EqualFold(cfg.Monitoring.Logging.Format, "json") {
		format = logging.FormatJSON
	}

	lc := &logging.Config{
		Level:         level,
		Format:        format,
		IncludeCaller: cfg.Monitoring.Logging.IncludeCaller,
	}
	if cfg.Monitoring.Logging.Rotation.MaxSizeMB > 0 {
		lc.Rotation = &logging.RotationConfig{
			Filename:   cfg.Monitoring.Logging.File,
			MaxSize:    cfg.Monitoring.Logging.Rotation.MaxSizeMB,
			MaxAge:     cfg.Monitoring.Logging.Rotation.MaxAgeDays,
			MaxBackups: cfg.Monitoring.Logging.Rotation.MaxBackups,
			Compress:   cfg.Monitoring.Logging.Rotation.Compress,
		}
	}
	return logging.New(lc)
}

// buildUpstreamReader picks the concrete UpstreamReader for the shares a
// config describes. An "s3://" network_path prefix (checked across every
// configured compiler, not just the first) selects the S3-backed reader;
// anything else is treated as a local/UNC path.
func buildUpstreamReader(cfg *config.Configuration) upstream.Reader {
	for _, cc := range cfg.Compilers {
		if strings.HasPrefix(cc.NetworkPath, "s3://") {
			region := os.Getenv("AWS_REGION")
			reader, err := upstream.NewS3Reader(context.Background(), upstream.S3ReaderConfig{
				Bucket: strings.TrimPrefix(cc.NetworkPath, "s3://"),
				Region: region,
				Retry: retry.Config{
					MaxAttempts:  cfg.Network.Retry.MaxAttempts,
					InitialDelay: cfg.Network.Retry.BaseDelay,
					MaxDelay:     cfg.Network.Retry.MaxDelay,
					Multiplier:   2.0,
					Jitter:       true,
				},
				CircuitBreaker: circuit.Config{
					FailureThreshold: cfg.Network.CircuitBreaker.FailureThreshold,
					Timeout:          cfg.Network.CircuitBreaker.Timeout,
				},
			})
			if err == nil {
				return reader
			}
			break
		}
	}
	return upstream.NewLocalReader()
}
