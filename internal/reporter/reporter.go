// Package reporter implements the access-pattern tracker: it records a
// hit/miss event per read through the Filesystem Facade and periodically
// flushes a CSV and a human-readable summary to a configured directory.
// Per-path counters live under a single mutex; a background ticker
// goroutine drives the periodic flush.
package reporter

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/wincachefs/wincachefs/pkg/logging"
	"github.com/wincachefs/wincachefs/pkg/types"
)

// fileAccessInfo is the per-path bookkeeping record. Counters are plain
// int64 since every mutation happens under the Tracker's mutex in
// RecordAccess.
type fileAccessInfo struct {
	VirtualPath      types.VirtualPath
	UpstreamLocation types.UpstreamLocation
	FileSize         int64
	AccessCount      int64
	CacheHits        int64
	CacheMisses      int64
	FirstAccess      time.Time
	LastAccess       time.Time
	CurrentState     types.FileState
	IsMemoryCached   bool
	AverageAccessMs  float64
	CachePolicy      types.CachePolicy
}

// namedCount and namedValue back the statistics' top-N tables.
type namedCount struct {
	Path  types.VirtualPath
	Count int64
}

type namedValue struct {
	Path  types.VirtualPath
	Value float64
}

// Statistics is the point-in-time snapshot returned by Tracker.Statistics.
type Statistics struct {
	TotalFilesTracked  int
	TotalAccesses      int64
	TotalCacheHits     int64
	TotalCacheMisses   int64
	CacheHitRate       float64
	TotalBytesAccessed int64
	CachedBytes        int64
	TopAccessedFiles   []namedCount
	LargestCachedFiles []namedCount
	SlowestAccessFiles []namedValue
}

// Config configures a Tracker.
type Config struct {
	ReportDirectory string
	ReportInterval  time.Duration
	TopFilesCount   int
}

// Tracker is the access-pattern reporter. It is wired into the Filesystem
// Facade via facade.SetAccessHook(tracker.RecordAccess)'s adapted
// signature and owns no cache state of its own — every row comes from a
// Read observation.
type Tracker struct {
	mu    sync.Mutex
	files map[types.VirtualPath]*fileAccessInfo

	reportDir      string
	reportInterval time.Duration
	topFilesCount  int
	trackingStart  time.Time

	totalAccesses int64
	totalHits     int64
	totalMisses   int64

	log *logging.Logger

	started  bool // guarded by mu; set by the first StartReporting
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Tracker. A zero ReportInterval disables the background
// ticker; callers can still invoke GenerateReport on demand. TopFilesCount
// defaults to 100, matching FileAccessTracker::initialize's default.
func New(cfg Config, log *logging.Logger) *Tracker {
	top := cfg.TopFilesCount
	if top <= 0 {
		top = 100
	}
	return &Tracker{
		files:          make(map[types.VirtualPath]*fileAccessInfo),
		reportDir:      cfg.ReportDirectory,
		reportInterval: cfg.ReportInterval,
		topFilesCount:  top,
		trackingStart:  time.Now(),
		log:            log,
		stopCh:         make(chan struct{}),
	}
}

// RecordAccess matches facade.AccessHookFunc's signature so it can be
// installed directly via facade.SetAccessHook(tracker.RecordAccess).
func (t *Tracker) RecordAccess(vp types.VirtualPath, upstreamLoc types.UpstreamLocation, size int64, state types.FileState, cacheHit, memoryCached bool, duration time.Duration, policy types.CachePolicy) {
	accessMs := float64(duration) / float64(time.Millisecond)

	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.files[vp]
	if !ok {
		info = &fileAccessInfo{
			VirtualPath:      vp,
			UpstreamLocation: upstreamLoc,
			FileSize:         size,
			FirstAccess:      time.Now(),
			CachePolicy:      policy,
		}
		t.files[vp] = info
	}

	info.AccessCount++
	info.LastAccess = time.Now()
	info.CurrentState = state
	info.IsMemoryCached = memoryCached
	if size > 0 {
		info.FileSize = size
	}

	if cacheHit {
		info.CacheHits++
		t.totalHits++
	} else {
		info.CacheMisses++
		t.totalMisses++
	}

	// Running average, same recurrence FileAccessTracker uses.
	info.AverageAccessMs = (info.AverageAccessMs*float64(info.AccessCount-1) + accessMs) / float64(info.AccessCount)

	t.totalAccesses++
}

// StartReporting launches the background ticker goroutine, matching
// FileAccessTracker::startReporting/reportingThreadFunc. Calling it twice
// is a no-op. It does nothing if ReportInterval is zero or ReportDirectory
// is empty.
func (t *Tracker) StartReporting() {
	if t.reportInterval <= 0 || t.reportDir == "" {
		return
	}
	select {
	case <-t.stopCh:
		return // already stopped; don't restart a dead tracker
	default:
	}
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.reportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stopCh:
				return
			case <-ticker.C:
				if err := t.GenerateReport(); err != nil {
					t.logf("access report generation failed: %v", err)
				}
			}
		}
	}()
}

// StopReporting stops the background ticker and waits for it to exit,
// matching FileAccessTracker::stopReporting's join semantics.
func (t *Tracker) StopReporting() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}

// GenerateReport writes a timestamped CSV and summary file into
// ReportDirectory, matching FileAccessTracker::generateReport's two-file
// output. On success both paths are logged and nil is returned; otherwise
// the first error is returned.
func (t *Tracker) GenerateReport() error {
	if t.reportDir == "" {
		return fmt.Errorf("reporter: report directory not configured")
	}
	if err := os.MkdirAll(t.reportDir, 0o750); err != nil {
		return fmt.Errorf("reporter: create report directory: %w", err)
	}

	stamp := time.Now().Format("20060102_150405")
	csvPath := filepath.Join(t.reportDir, fmt.Sprintf("file_access_%s.csv", stamp))
	summaryPath := filepath.Join(t.reportDir, fmt.Sprintf("access_summary_%s.txt", stamp))

	if err := t.writeCSV(csvPath); err != nil {
		return err
	}
	if err := t.writeSummary(summaryPath); err != nil {
		return err
	}
	t.logf("generated access reports: %s, %s", csvPath, summaryPath)
	return nil
}

func (t *Tracker) snapshotSorted() []*fileAccessInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*fileAccessInfo, 0, len(t.files))
	for _, info := range t.files {
		cp := *info
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccessCount > out[j].AccessCount })
	return out
}

// writeCSV writes one row per tracked path.
func (t *Tracker) writeCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reporter: create csv report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"Virtual Path", "Network Path", "File Size (MB)", "Access Count",
		"Cache Hits", "Cache Misses", "Hit Rate %", "State", "Memory Cached",
		"Avg Access Time (ms)", "First Access", "Last Access",
		"Time Since First Access", "Cache Policy",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, info := range t.snapshotSorted() {
		hitRate := 0.0
		if total := info.CacheHits + info.CacheMisses; total > 0 {
			hitRate = float64(info.CacheHits) / float64(total) * 100.0
		}
		memCached := "No"
		if info.IsMemoryCached {
			memCached = "Yes"
		}
		row := []string{
			string(info.VirtualPath),
			string(info.UpstreamLocation),
			strconv.FormatFloat(float64(info.FileSize)/(1024.0*1024.0), 'f', 2, 64),
			strconv.FormatInt(info.AccessCount, 10),
			strconv.FormatInt(info.CacheHits, 10),
			strconv.FormatInt(info.CacheMisses, 10),
			strconv.FormatFloat(hitRate, 'f', 1, 64),
			info.CurrentState.String(),
			memCached,
			strconv.FormatFloat(info.AverageAccessMs, 'f', 2, 64),
			info.FirstAccess.Format(time.RFC3339),
			info.LastAccess.Format(time.RFC3339),
			formatDuration(info.LastAccess.Sub(info.FirstAccess)),
			info.CachePolicy.String(),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// writeSummary writes the human-readable report: totals, top-N accessed,
// largest cached, slowest average.
func (t *Tracker) writeSummary(path string) error {
	stats := t.Statistics()
	now := time.Now()

	var b []byte
	b = append(b, []byte("Wincachefs - File Access Summary Report\n")...)
	b = append(b, []byte("========================================\n\n")...)
	b = append(b, []byte(fmt.Sprintf("Report Generated: %s\n", now.Format(time.RFC3339)))...)
	b = append(b, []byte(fmt.Sprintf("Tracking Duration: %s\n\n", formatDuration(now.Sub(t.trackingStart))))...)

	b = append(b, []byte("Overall Statistics\n------------------\n")...)
	b = append(b, []byte(fmt.Sprintf("Total Files Tracked: %d\n", stats.TotalFilesTracked))...)
	b = append(b, []byte(fmt.Sprintf("Total File Accesses: %d\n", stats.TotalAccesses))...)
	b = append(b, []byte(fmt.Sprintf("Total Cache Hits: %d\n", stats.TotalCacheHits))...)
	b = append(b, []byte(fmt.Sprintf("Total Cache Misses: %d\n", stats.TotalCacheMisses))...)
	b = append(b, []byte(fmt.Sprintf("Overall Hit Rate: %.1f%%\n", stats.CacheHitRate))...)
	b = append(b, []byte(fmt.Sprintf("Total Bytes Accessed: %s\n", formatBytes(stats.TotalBytesAccessed)))...)
	b = append(b, []byte(fmt.Sprintf("Cached Bytes: %s\n\n", formatBytes(stats.CachedBytes)))...)

	b = append(b, []byte(fmt.Sprintf("Top %d Most Accessed Files\n--------------------------------\n", len(stats.TopAccessedFiles)))...)
	for i, e := range stats.TopAccessedFiles {
		b = append(b, []byte(fmt.Sprintf("%3d. %s (%d accesses)\n", i+1, e.Path, e.Count))...)
	}

	b = append(b, []byte("\nLargest Cached Files\n--------------------\n")...)
	for i, e := range stats.LargestCachedFiles {
		b = append(b, []byte(fmt.Sprintf("%3d. %s (%s)\n", i+1, e.Path, formatBytes(e.Count)))...)
	}

	b = append(b, []byte("\nSlowest Average Access Times\n----------------------------\n")...)
	for i, e := range stats.SlowestAccessFiles {
		b = append(b, []byte(fmt.Sprintf("%3d. %s (%.2f ms)\n", i+1, e.Path, e.Value))...)
	}

	return os.WriteFile(path, b, 0o640)
}

// Statistics computes the point-in-time snapshot used by GenerateReport
// and exposed directly for callers (e.g. a debug CLI subcommand) that
// want the numbers without writing files, matching
// FileAccessTracker::getStatistics.
func (t *Tracker) Statistics() Statistics {
	t.mu.Lock()
	all := make([]*fileAccessInfo, 0, len(t.files))
	for _, info := range t.files {
		cp := *info
		all = append(all, &cp)
	}
	stats := Statistics{
		TotalFilesTracked: len(all),
		TotalAccesses:     t.totalAccesses,
		TotalCacheHits:    t.totalHits,
		TotalCacheMisses:  t.totalMisses,
	}
	t.mu.Unlock()

	if stats.TotalAccesses > 0 {
		stats.CacheHitRate = float64(stats.TotalCacheHits) / float64(stats.TotalAccesses) * 100.0
	}

	var cached []*fileAccessInfo
	for _, info := range all {
		stats.TotalBytesAccessed += info.FileSize * info.AccessCount
		if info.CurrentState == types.StateCached || info.IsMemoryCached {
			stats.CachedBytes += info.FileSize
			cached = append(cached, info)
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].AccessCount > all[j].AccessCount })
	top := t.topFilesCount
	if top > len(all) {
		top = len(all)
	}
	for _, info := range all[:top] {
		stats.TopAccessedFiles = append(stats.TopAccessedFiles, namedCount{Path: info.VirtualPath, Count: info.AccessCount})
	}

	sort.Slice(cached, func(i, j int) bool { return cached[i].FileSize > cached[j].FileSize })
	largest := 20
	if largest > len(cached) {
		largest = len(cached)
	}
	for _, info := range cached[:largest] {
		stats.LargestCachedFiles = append(stats.LargestCachedFiles, namedCount{Path: info.VirtualPath, Count: info.FileSize})
	}

	sort.Slice(all, func(i, j int) bool { return all[i].AverageAccessMs > all[j].AverageAccessMs })
	slowest := 20
	if slowest > len(all) {
		slowest = len(all)
	}
	for _, info := range all[:slowest] {
		stats.SlowestAccessFiles = append(stats.SlowestAccessFiles, namedValue{Path: info.VirtualPath, Value: info.AverageAccessMs})
	}

	return stats
}

func (t *Tracker) logf(format string, args ...interface{}) {
	if t.log != nil {
		t.log.Warnf(format, args...)
	}
}

func formatBytes(n int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(n)
	idx := 0
	for size >= 1024.0 && idx < len(units)-1 {
		size /= 1024.0
		idx++
	}
	return fmt.Sprintf("%.2f %s", size, units[idx])
}

func formatDuration(d time.Duration) string {
	seconds := int64(d.Seconds())
	switch {
	case seconds < 60:
		return fmt.Sprintf("%d seconds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%d minutes", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%d hours", seconds/3600)
	default:
		return fmt.Sprintf("%d days", seconds/86400)
	}
}
