//go:build !cgofuse

package hostfuse

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/wincachefs/wincachefs/internal/facade"
	"github.com/wincachefs/wincachefs/internal/vpath"
	"github.com/wincachefs/wincachefs/internal/wincontext"
	"github.com/wincachefs/wincachefs/pkg/logging"
	"github.com/wincachefs/wincachefs/pkg/types"
)

// Mount starts serving wc's Filesystem Facade at mountPoint using
// hanwen/go-fuse: one fs.Inode-embedding node type translating every
// FUSE op into a Facade call. Lookup/Readdir are backed by a Directory
// Tree already fully populated at startup, so no upstream round-trip
// happens on a bare Lookup, only on Open/Read of a file whose bytes
// aren't cached yet.
func Mount(_ context.Context, wc *wincontext.Context, mountPoint string, log *logging.Logger) (Host, error) {
	root := &fsNode{fac: wc.Facade, vp: "/"}
	opts := &fs.Options{
		MountOptions: gofuse.MountOptions{
			FsName: "wincachefs",
			Name:   "wincachefs",
		},
	}

	server, err := fs.Mount(mountPoint, root, opts)
	if err != nil {
		return nil, err
	}
	if log != nil {
		log.Infof("mounted wincachefs at %s via hanwen/go-fuse", mountPoint)
	}
	return &hanwenHost{server: server, mountPoint: mountPoint, log: log}, nil
}

// hanwenHost wraps the running go-fuse server behind the Host contract.
type hanwenHost struct {
	server     *gofuse.Server
	mountPoint string
	log        *logging.Logger
}

// Unmount detaches the mount gracefully, falling back to a lazy and
// then forced detach when a dispatch goroutine is still mid-callback.
func (h *hanwenHost) Unmount() error {
	err := h.server.Unmount()
	if err == nil {
		return nil
	}
	if h.log != nil {
		h.log.Warnf("unmount of %s failed, trying force unmount: %v", h.mountPoint, err)
	}
	if forceErr := forceUnmount(h.mountPoint); forceErr != nil {
		return fmt.Errorf("unmount failed: %w (force unmount also failed: %v)", err, forceErr)
	}
	return nil
}

func forceUnmount(mountPoint string) error {
	// Lazy detach first, then force.
	if err := syscall.Unmount(mountPoint, 2); err == nil {
		return nil
	}
	return syscall.Unmount(mountPoint, 1)
}

// fsNode is the fs.InodeEmbedder wired over one virtual path. It owns no
// cache state: every operation is delegated straight to the Facade.
type fsNode struct {
	fs.Inode
	fac *facade.Facade
	vp  types.VirtualPath
}

var (
	_ fs.NodeLookuper  = (*fsNode)(nil)
	_ fs.NodeReaddirer = (*fsNode)(nil)
	_ fs.NodeOpener    = (*fsNode)(nil)
	_ fs.NodeGetattrer = (*fsNode)(nil)
)

// Lookup resolves one child name under n.vp via GetAttributes: a missing
// node is ENOENT, not an empty directory entry.
func (n *fsNode) Lookup(ctx context.Context, name string, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := vpath.Join(n.vp, name)
	entry, status := n.fac.GetAttributes(child)
	if status == types.StatusNotFound {
		return nil, syscall.ENOENT
	}
	if status != types.StatusOk {
		return nil, statusToErrno(status)
	}

	fillAttr(&out.Attr, entry)
	mode := uint32(syscall.S_IFREG)
	if entry.Kind == types.KindDirectory {
		mode = syscall.S_IFDIR
	}

	childNode := &fsNode{fac: n.fac, vp: child}
	inode := n.NewInode(ctx, childNode, fs.StableAttr{Mode: mode})
	return inode, 0
}

// Readdir lists n.vp's children from the Directory Tree (via the
// Facade), sorted by name.
func (n *fsNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, status := n.fac.ReadDirectory(n.vp, "")
	if status != types.StatusOk {
		return nil, statusToErrno(status)
	}

	out := make([]gofuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(syscall.S_IFREG)
		if e.Kind == types.KindDirectory {
			mode = syscall.S_IFDIR
		}
		out = append(out, gofuse.DirEntry{Name: e.Name, Mode: mode})
	}
	return fs.NewListDirStream(out), 0
}

// Getattr serves attributes straight from the Cache Entry Table, never
// touching the Download Manager.
func (n *fsNode) Getattr(ctx context.Context, f fs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	entry, status := n.fac.GetAttributes(n.vp)
	if status != types.StatusOk {
		return statusToErrno(status)
	}
	fillAttr(&out.Attr, entry)
	return 0
}

// Open obtains a Facade handle. A Pending result is not an error here —
// the handle is returned immediately and the first Read on it drives the
// retry loop, matching the observation in doc.go that blocking belongs to
// the host, not the core.
func (n *fsNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	h, status := n.fac.Open(n.vp, facade.AccessRead)
	if status != types.StatusOk && status != types.StatusPending {
		return nil, 0, statusToErrno(status)
	}
	return &fileHandle{fac: n.fac, h: h}, 0, 0
}

// fileHandle implements fs.FileReader/fs.FileReleaser over one open
// Facade handle.
type fileHandle struct {
	fac *facade.Facade
	h   *facade.Handle
}

var (
	_ fs.FileReader   = (*fileHandle)(nil)
	_ fs.FileReleaser = (*fileHandle)(nil)
)

func (fh *fileHandle) Read(ctx context.Context, dest []byte, off int64) (gofuse.ReadResult, syscall.Errno) {
	data, status := fh.fac.Read(ctx, fh.h, off, int64(len(dest)))
	for i := 0; status == types.StatusPending; i++ {
		if i >= maxPolls {
			return nil, syscall.ETIMEDOUT
		}
		time.Sleep(pollInterval)
		data, status = fh.fac.Read(ctx, fh.h, off, int64(len(dest)))
	}
	if status != types.StatusOk {
		return nil, statusToErrno(status)
	}
	return gofuse.ReadResultData(data), 0
}

func (fh *fileHandle) Release(ctx context.Context) syscall.Errno {
	fh.fac.Close(fh.h)
	return 0
}

func fillAttr(a *gofuse.Attr, e facade.DirEntry) {
	a.Size = uint64(e.Size)
	a.Mtime = uint64(e.Times.Modified.Unix())
	a.Atime = uint64(e.Times.Accessed.Unix())
	a.Ctime = uint64(e.Times.Created.Unix())
	if e.Kind == types.KindDirectory {
		a.Mode = syscall.S_IFDIR | 0555
	} else {
		a.Mode = syscall.S_IFREG | 0444
	}
}

// statusToErrno maps the Facade's closed status vocabulary onto the
// errno values a FUSE host understands.
func statusToErrno(s types.Status) syscall.Errno {
	switch s {
	case types.StatusNotFound:
		return syscall.ENOENT
	case types.StatusAccessDenied:
		return syscall.EACCES
	case types.StatusCancelled:
		return syscall.ECANCELED
	case types.StatusOutOfCacheBudget:
		return syscall.ENOSPC
	default:
		return syscall.EIO
	}
}
