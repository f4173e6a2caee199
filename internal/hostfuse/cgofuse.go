//go:build cgofuse

package hostfuse

import (
	"context"
	"fmt"
	"sync"
	"time"

	winfsp "github.com/winfsp/cgofuse/fuse"

	"github.com/wincachefs/wincachefs/internal/facade"
	"github.com/wincachefs/wincachefs/internal/vpath"
	"github.com/wincachefs/wincachefs/internal/wincontext"
	"github.com/wincachefs/wincachefs/pkg/logging"
	"github.com/wincachefs/wincachefs/pkg/types"
)

// CgoFuseFS exposes the Filesystem Facade over winfsp/cgofuse's
// FileSystemBase, the Windows-native host loop, with its own locally
// assigned open-handle table since cgofuse has no notion of an inode
// object to hang a handle off of.
type CgoFuseFS struct {
	winfsp.FileSystemBase

	fac *facade.Facade
	log *logging.Logger

	mu         sync.Mutex
	handles    map[uint64]*facade.Handle
	nextHandle uint64
}

// NewCgoFuseFS builds the cgofuse filesystem over wc's Facade.
func NewCgoFuseFS(wc *wincontext.Context, log *logging.Logger) *CgoFuseFS {
	return &CgoFuseFS{
		fac:        wc.Facade,
		log:        log,
		handles:    make(map[uint64]*facade.Handle),
		nextHandle: 1,
	}
}

// Mount starts the Windows host loop in the background; host.Mount
// blocks until Unmount, so it runs on its own goroutine.
func Mount(_ context.Context, wc *wincontext.Context, mountPoint string, log *logging.Logger) (Host, error) {
	cfs := NewCgoFuseFS(wc, log)
	host := winfsp.NewFileSystemHost(cfs)
	host.SetCapReaddirPlus(true)
	host.SetCapCaseInsensitive(true)

	go func() {
		if !host.Mount(mountPoint, nil) && log != nil {
			log.Errorf("cgofuse host exited: mount of %s failed", mountPoint)
		}
	}()

	if log != nil {
		log.Infof("mounted wincachefs at %s via winfsp/cgofuse", mountPoint)
	}
	return &cgofuseHost{host: host, mountPoint: mountPoint}, nil
}

// cgofuseHost wraps the running WinFsp host behind the Host contract.
type cgofuseHost struct {
	host       *winfsp.FileSystemHost
	mountPoint string
}

// Unmount detaches the mount; cgofuse reports the outcome as a bool.
func (h *cgofuseHost) Unmount() error {
	if !h.host.Unmount() {
		return fmt.Errorf("unmount of %s failed", h.mountPoint)
	}
	return nil
}

func toVP(path string) types.VirtualPath {
	return vpath.Normalize(path)
}

// Getattr serves attributes straight from the Cache Entry Table.
func (cfs *CgoFuseFS) Getattr(path string, stat *winfsp.Stat_t, fh uint64) int {
	entry, status := cfs.fac.GetAttributes(toVP(path))
	switch status {
	case types.StatusOk:
		fillStat(stat, entry)
		return 0
	case types.StatusNotFound:
		return -winfsp.ENOENT
	default:
		return -winfsp.EIO
	}
}

// Open obtains a Facade handle and assigns it a locally tracked fh.
func (cfs *CgoFuseFS) Open(path string, flags int) (int, uint64) {
	h, status := cfs.fac.Open(toVP(path), facade.AccessRead)
	if status != types.StatusOk && status != types.StatusPending {
		return -winfsp.EIO, 0
	}

	cfs.mu.Lock()
	fh := cfs.nextHandle
	cfs.nextHandle++
	cfs.handles[fh] = h
	cfs.mu.Unlock()

	return 0, fh
}

// Read polls the Facade until the requested range is available or the
// retry budget in common.go is exhausted.
func (cfs *CgoFuseFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	cfs.mu.Lock()
	h := cfs.handles[fh]
	cfs.mu.Unlock()
	if h == nil {
		return -winfsp.EIO
	}

	ctx := context.Background()
	data, status := cfs.fac.Read(ctx, h, ofst, int64(len(buff)))
	for i := 0; status == types.StatusPending; i++ {
		if i >= maxPolls {
			return -winfsp.EIO
		}
		time.Sleep(pollInterval)
		data, status = cfs.fac.Read(ctx, h, ofst, int64(len(buff)))
	}
	if status != types.StatusOk {
		return -winfsp.EIO
	}
	return copy(buff, data)
}

// Release decrements the Facade handle's ref count and drops it from the
// local table.
func (cfs *CgoFuseFS) Release(path string, fh uint64) int {
	cfs.mu.Lock()
	h, ok := cfs.handles[fh]
	delete(cfs.handles, fh)
	cfs.mu.Unlock()

	if ok {
		cfs.fac.Close(h)
	}
	return 0
}

// Readdir lists path's children via the Facade, adding the conventional
// "." and ".." entries.
func (cfs *CgoFuseFS) Readdir(path string, fill func(name string, stat *winfsp.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	entries, status := cfs.fac.ReadDirectory(toVP(path), "")
	if status != types.StatusOk {
		return -winfsp.EIO
	}

	fill(".", nil, 0)
	fill("..", nil, 0)
	for _, e := range entries {
		var st winfsp.Stat_t
		fillStat(&st, e)
		if !fill(e.Name, &st, 0) {
			break
		}
	}
	return 0
}

func fillStat(stat *winfsp.Stat_t, entry facade.DirEntry) {
	stat.Size = entry.Size
	if entry.Kind == types.KindDirectory {
		stat.Mode = winfsp.S_IFDIR | 0555
	} else {
		stat.Mode = winfsp.S_IFREG | 0444
	}
	stat.Mtim = toTimespec(entry.Times.Modified)
	stat.Atim = toTimespec(entry.Times.Accessed)
	stat.Ctim = toTimespec(entry.Times.Created)
}

func toTimespec(t time.Time) winfsp.Timespec {
	return winfsp.Timespec{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}
