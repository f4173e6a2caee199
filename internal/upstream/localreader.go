package upstream

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/wincachefs/wincachefs/pkg/errors"
	"github.com/wincachefs/wincachefs/pkg/types"
)

// LocalReader treats an UpstreamLocation as a local filesystem path (a
// mounted UNC share on the host, or a plain directory in tests). It is the
// concrete Reader used when a CompilerRoot's upstream_root is a share the
// OS already surfaces as a directory.
type LocalReader struct{}

// NewLocalReader constructs a LocalReader.
func NewLocalReader() *LocalReader {
	return &LocalReader{}
}

func (r *LocalReader) ReadAll(_ context.Context, location types.UpstreamLocation) ([]byte, error) {
	data, err := os.ReadFile(toOSPath(location))
	if err != nil {
		return nil, errors.New(errors.ErrCodeUpstreamIO, fmt.Sprintf("read %s", location)).
			WithCause(err).WithComponent("upstream.local").WithOperation("ReadAll")
	}
	return data, nil
}

func (r *LocalReader) ReadRange(_ context.Context, location types.UpstreamLocation, offset, length int64) ([]byte, error) {
	f, err := os.Open(toOSPath(location))
	if err != nil {
		return nil, errors.New(errors.ErrCodeUpstreamIO, fmt.Sprintf("open %s", location)).
			WithCause(err).WithComponent("upstream.local").WithOperation("ReadRange")
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, errors.New(errors.ErrCodeUpstreamIO, fmt.Sprintf("seek %s", location)).
			WithCause(err).WithComponent("upstream.local").WithOperation("ReadRange")
	}

	buf := make([]byte, length)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, errors.New(errors.ErrCodeUpstreamIO, fmt.Sprintf("read range %s", location)).
			WithCause(err).WithComponent("upstream.local").WithOperation("ReadRange")
	}
	return buf[:n], nil
}

func (r *LocalReader) Enumerate(_ context.Context, location types.UpstreamLocation) ([]types.ObjectMeta, error) {
	entries, err := os.ReadDir(toOSPath(location))
	if err != nil {
		return nil, errors.New(errors.ErrCodeUpstreamIO, fmt.Sprintf("enumerate %s", location)).
			WithCause(err).WithComponent("upstream.local").WithOperation("Enumerate")
	}

	out := make([]types.ObjectMeta, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		kind := types.KindFile
		if e.IsDir() {
			kind = types.KindDirectory
		}
		out = append(out, types.ObjectMeta{
			Name: e.Name(),
			Kind: kind,
			Size: info.Size(),
			Times: types.Times{
				Modified: info.ModTime(),
				Accessed: info.ModTime(),
				Created:  info.ModTime(),
			},
		})
	}
	return out, nil
}

// ChildLocation composes a child upstream location by string
// concatenation with a '\' separator; the location stays an opaque
// string rather than being parsed as a path.
func (r *LocalReader) ChildLocation(parent types.UpstreamLocation, name string) types.UpstreamLocation {
	p := strings.TrimRight(string(parent), "\\/")
	return types.UpstreamLocation(p + "\\" + name)
}

func toOSPath(location types.UpstreamLocation) string {
	s := strings.ReplaceAll(string(location), "\\", string(filepath.Separator))
	return s
}
