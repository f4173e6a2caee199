package dircache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wincachefs/wincachefs/pkg/types"
)

// fakeReader is an in-memory upstream.Reader keyed by location, used to
// unit test tree building without a real network share. When non-nil,
// always takes priority over dirs, letting a test simulate a junction
// that reports the same child forever regardless of the path depth.
type fakeReader struct {
	dirs   map[types.UpstreamLocation][]types.ObjectMeta
	always []types.ObjectMeta
}

func (f *fakeReader) ReadAll(context.Context, types.UpstreamLocation) ([]byte, error) {
	return nil, nil
}
func (f *fakeReader) ReadRange(context.Context, types.UpstreamLocation, int64, int64) ([]byte, error) {
	return nil, nil
}
func (f *fakeReader) Enumerate(_ context.Context, location types.UpstreamLocation) ([]types.ObjectMeta, error) {
	if f.always != nil {
		return f.always, nil
	}
	return f.dirs[location], nil
}

func (f *fakeReader) ChildLocation(parent types.UpstreamLocation, name string) types.UpstreamLocation {
	return types.UpstreamLocation(string(parent) + "\\" + name)
}

func TestBuildSimpleTree(t *testing.T) {
	r := &fakeReader{dirs: map[types.UpstreamLocation][]types.ObjectMeta{
		"\\\\srv\\msvc": {
			{Name: "bin", Kind: types.KindDirectory},
			{Name: "readme.txt", Kind: types.KindFile, Size: 12},
		},
		"\\\\srv\\msvc\\bin": {
			{Name: "cl.exe", Kind: types.KindFile, Size: 1024},
		},
	}}

	roots := []types.CompilerRoot{{VirtualRoot: "/msvc", UpstreamRoot: "\\\\srv\\msvc"}}
	tr := New(r, nil).Build(context.Background(), roots, false)

	require.NotNil(t, tr.Find("/msvc/bin/cl.exe"))
	require.NotNil(t, tr.Find("/msvc/readme.txt"))
	require.Equal(t, types.KindDirectory, tr.Find("/msvc/bin").Kind)
}

func TestBuildCycleSafe(t *testing.T) {
	r := &fakeReader{always: []types.ObjectMeta{{Name: "self", Kind: types.KindDirectory}}}
	roots := []types.CompilerRoot{{VirtualRoot: "/loop", UpstreamRoot: "\\\\srv\\loop"}}

	// A junction whose enumeration keeps reporting a "self" child forever
	// must still terminate, bounded by MaxDepth even though each computed
	// child location is textually distinct.
	tr := New(r, nil).Build(context.Background(), roots, false)
	require.NotNil(t, tr.Find("/loop"))
	deep := tr.Find("/loop")
	for i := 0; i < MaxDepth+5; i++ {
		if deep == nil {
			break
		}
		deep = tr.Find(deep.VirtualPath + "/self")
	}
}

func TestBuildInaccessiblePathDoesNotFail(t *testing.T) {
	r := &fakeReader{dirs: map[types.UpstreamLocation][]types.ObjectMeta{}}
	roots := []types.CompilerRoot{{VirtualRoot: "/ghost", UpstreamRoot: "\\\\srv\\ghost"}}
	tr := New(r, nil).Build(context.Background(), roots, false)
	require.NotNil(t, tr.Find("/ghost"))
}
