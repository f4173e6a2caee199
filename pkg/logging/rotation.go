package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotationConfig configures size/age based log file rotation.
type RotationConfig struct {
	Filename   string
	MaxSize    int64 // megabytes; 0 = no size limit
	MaxAge     int   // days; 0 = no age limit
	MaxBackups int   // 0 = retain all
	Compress   bool
	LocalTime  bool
}

// Rotator is an io.Writer that rotates the backing file according to
// RotationConfig.
type Rotator struct {
	mu sync.Mutex

	config   *RotationConfig
	file     *os.File
	size     int64
	openTime time.Time
}

// NewRotator opens config.Filename for append, creating parent
// directories as needed.
func NewRotator(config *RotationConfig) (*Rotator, error) {
	if config == nil {
		return nil, fmt.Errorf("rotation config is required")
	}
	if config.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}

	r := &Rotator{config: config}
	if err := r.openFile(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	writeLen := int64(len(p))
	if r.shouldRotate(writeLen) {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

func (r *Rotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		return r.file.Sync()
	}
	return nil
}

func (r *Rotator) shouldRotate(writeSize int64) bool {
	if r.config.MaxSize > 0 {
		maxBytes := r.config.MaxSize * 1024 * 1024
		if r.size+writeSize >= maxBytes {
			return true
		}
	}
	if r.config.MaxAge > 0 {
		age := time.Since(r.openTime)
		maxAge := time.Duration(r.config.MaxAge) * 24 * time.Hour
		if age >= maxAge {
			return true
		}
	}
	return false
}

func (r *Rotator) rotate() error {
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
		r.file = nil
	}

	timestamp := r.backupTimestamp()
	backupName := r.backupFilename(timestamp)

	if err := os.Rename(r.config.Filename, backupName); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to rename log file: %w", err)
		}
	}

	if r.config.Compress {
		if err := r.compressFile(backupName); err != nil {
			fmt.Fprintf(os.Stderr, "failed to compress log file %s: %v\n", backupName, err)
		}
	}

	if err := r.cleanupOldBackups(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to clean up old log backups: %v\n", err)
	}

	return r.openFile()
}

func (r *Rotator) openFile() error {
	dir := filepath.Dir(r.config.Filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(r.config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	r.file = file
	r.openTime = time.Now()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	r.size = info.Size()
	return nil
}

func (r *Rotator) backupTimestamp() time.Time {
	if r.config.LocalTime {
		return time.Now()
	}
	return time.Now().UTC()
}

func (r *Rotator) backupFilename(timestamp time.Time) string {
	dir := filepath.Dir(r.config.Filename)
	filename := filepath.Base(r.config.Filename)
	ext := filepath.Ext(filename)
	prefix := filename[0 : len(filename)-len(ext)]
	timestampStr := timestamp.Format("2006-01-02T15-04-05")
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", prefix, timestampStr, ext))
}

func (r *Rotator) compressFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(filename)
}

func (r *Rotator) cleanupOldBackups() error {
	backups, err := r.getBackupFiles()
	if err != nil {
		return err
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].ModTime().Before(backups[j].ModTime())
	})

	var toDelete []string
	if r.config.MaxBackups > 0 && len(backups) > r.config.MaxBackups {
		excess := len(backups) - r.config.MaxBackups
		for i := 0; i < excess; i++ {
			toDelete = append(toDelete, backups[i].Name())
		}
		backups = backups[excess:]
	}
	if r.config.MaxAge > 0 {
		cutoff := time.Now().Add(-time.Duration(r.config.MaxAge) * 24 * time.Hour)
		for _, backup := range backups {
			if backup.ModTime().Before(cutoff) {
				toDelete = append(toDelete, backup.Name())
			}
		}
	}

	for _, filename := range toDelete {
		fullPath := filepath.Join(filepath.Dir(r.config.Filename), filename)
		if err := os.Remove(fullPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to remove old log backup %s: %v\n", fullPath, err)
		}
	}
	return nil
}

func (r *Rotator) getBackupFiles() ([]os.FileInfo, error) {
	dir := filepath.Dir(r.config.Filename)
	filename := filepath.Base(r.config.Filename)
	ext := filepath.Ext(filename)
	prefix := filename[0 : len(filename)-len(ext)]

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var backups []os.FileInfo
	for _, entry := range entries {
		name := entry.Name()
		if name == filename {
			continue
		}
		if strings.HasPrefix(name, prefix+"-") && (strings.HasSuffix(name, ext) || strings.HasSuffix(name, ext+".gz")) {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			backups = append(backups, info)
		}
	}
	return backups, nil
}

// ForceRotate triggers an immediate rotation.
func (r *Rotator) ForceRotate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotate()
}
