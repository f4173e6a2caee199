package tree

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wincachefs/wincachefs/pkg/types"
)

func TestAddFileThenFind(t *testing.T) {
	tr := New(false)
	now := time.Now()
	tr.AddFile("/msvc/bin/cl.exe", "\\\\server\\share\\msvc\\bin\\cl.exe", 1024,
		types.Times{Created: now, Modified: now, Accessed: now}, 0)

	n := tr.Find("/msvc/bin/cl.exe")
	require.NotNil(t, n)
	require.Equal(t, types.KindFile, n.Kind)
	require.EqualValues(t, 1024, n.Size)
	require.Equal(t, types.VirtualPath("/msvc/bin/cl.exe"), n.VirtualPath)

	// Ancestors were created as directories.
	dir := tr.Find("/msvc/bin")
	require.NotNil(t, dir)
	require.Equal(t, types.KindDirectory, dir.Kind)
}

func TestFindInvariant(t *testing.T) {
	tr := New(false)
	tr.AddDir("/a/b", "")
	tr.AddFile("/a/b/c.txt", "", 0, types.Times{}, 0)

	for _, vp := range []types.VirtualPath{"/", "/a", "/a/b", "/a/b/c.txt"} {
		n := tr.Find(vp)
		require.NotNil(t, n, "expected node at %s", vp)
		require.Equal(t, vp, n.VirtualPath)
	}
}

func TestChildrenSortedByName(t *testing.T) {
	tr := New(false)
	tr.AddFile("/dir/zeta.h", "", 0, types.Times{}, 0)
	tr.AddFile("/dir/alpha.h", "", 0, types.Times{}, 0)
	tr.AddFile("/dir/mid.h", "", 0, types.Times{}, 0)

	names := []string{}
	for _, c := range tr.Children("/dir") {
		names = append(names, c.Name)
	}
	require.Equal(t, []string{"alpha.h", "mid.h", "zeta.h"}, names)
}

func TestCaseInsensitiveTree(t *testing.T) {
	tr := New(true)
	tr.AddFile("/Include/Foo.H", "", 10, types.Times{}, 0)

	n := tr.Find("/include/foo.h")
	require.NotNil(t, n)
	require.Equal(t, "Foo.H", n.Name)
}

func TestUpsertIdempotent(t *testing.T) {
	tr := New(false)
	tr.AddFile("/a.txt", "loc1", 10, types.Times{}, 0)
	tr.AddFile("/a.txt", "loc2", 20, types.Times{}, 0)

	n := tr.Find("/a.txt")
	require.EqualValues(t, 20, n.Size)
	require.Equal(t, types.UpstreamLocation("loc2"), n.UpstreamLocation)
}
