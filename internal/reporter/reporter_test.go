package reporter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wincachefs/wincachefs/pkg/types"
)

func TestRecordAccessAccumulates(t *testing.T) {
	tr := New(Config{}, nil)

	tr.RecordAccess("/msvc/cl.exe", "//share/msvc/cl.exe", 1024, types.StateCached, true, true, 5*time.Millisecond, types.AlwaysCache)
	tr.RecordAccess("/msvc/cl.exe", "//share/msvc/cl.exe", 1024, types.StateCached, true, true, 15*time.Millisecond, types.AlwaysCache)
	tr.RecordAccess("/msvc/include/stdio.h", "//share/msvc/include/stdio.h", 512, types.StateFetching, false, false, 0, types.OnDemand)

	stats := tr.Statistics()
	assert.Equal(t, 2, stats.TotalFilesTracked)
	assert.EqualValues(t, 3, stats.TotalAccesses)
	assert.EqualValues(t, 2, stats.TotalCacheHits)
	assert.EqualValues(t, 1, stats.TotalCacheMisses)
	assert.InDelta(t, 66.67, stats.CacheHitRate, 0.1)

	require.Len(t, stats.TopAccessedFiles, 2)
	assert.Equal(t, types.VirtualPath("/msvc/cl.exe"), stats.TopAccessedFiles[0].Path)
	assert.EqualValues(t, 2, stats.TopAccessedFiles[0].Count)
}

func TestGenerateReportWritesCSVAndSummary(t *testing.T) {
	dir := t.TempDir()
	tr := New(Config{ReportDirectory: dir, TopFilesCount: 10}, nil)
	tr.RecordAccess("/msvc/cl.exe", "//share/msvc/cl.exe", 2*1024*1024, types.StateCached, true, true, 3*time.Millisecond, types.AlwaysCache)

	require.NoError(t, tr.GenerateReport())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var sawCSV, sawSummary bool
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".csv") {
			sawCSV = true
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			require.NoError(t, err)
			assert.Contains(t, string(data), "Virtual Path")
			assert.Contains(t, string(data), "/msvc/cl.exe")
		}
		if strings.HasSuffix(e.Name(), ".txt") {
			sawSummary = true
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			require.NoError(t, err)
			assert.Contains(t, string(data), "Overall Statistics")
		}
	}
	assert.True(t, sawCSV, "expected a csv report file")
	assert.True(t, sawSummary, "expected a summary report file")
}

func TestStartStopReportingIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	tr := New(Config{ReportDirectory: dir, ReportInterval: 10 * time.Millisecond}, nil)
	tr.StartReporting()
	tr.StartReporting() // no-op, must not panic or double-start
	time.Sleep(30 * time.Millisecond)
	tr.StopReporting()
	tr.StopReporting() // no-op

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "expected at least one periodic report")
}

func TestGenerateReportRequiresDirectory(t *testing.T) {
	tr := New(Config{}, nil)
	err := tr.GenerateReport()
	assert.Error(t, err)
}
