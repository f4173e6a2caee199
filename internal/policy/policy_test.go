package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wincachefs/wincachefs/pkg/types"
)

func msvcRoots() []types.CompilerRoot {
	return []types.CompilerRoot{
		{
			VirtualRoot: "/compilers/msvc/14.40.33807-14.40.33811.0",
			CacheAlways: []string{"bin/**/*.exe"},
		},
	}
}

func TestPolicyResolution(t *testing.T) {
	e := New(msvcRoots(), false)

	require.Equal(t, types.AlwaysCache,
		e.PolicyFor("/compilers/msvc/14.40.33807-14.40.33811.0/bin/Hostx64/x64/cl.exe"))
	require.Equal(t, types.OnDemand,
		e.PolicyFor("/compilers/msvc/14.40.33807-14.40.33811.0/include/stdio.h"))
	require.Equal(t, types.NeverCache,
		e.PolicyFor("/compilers/msvc/14.40.33807/bin/cl.exe"))
}

func TestPolicyEmptyAndRootPaths(t *testing.T) {
	e := New(msvcRoots(), false)
	require.Equal(t, types.NeverCache, e.PolicyFor("/"))
	require.Equal(t, types.NeverCache, e.PolicyFor(""))
}

func TestPolicyLongestMatchWins(t *testing.T) {
	roots := []types.CompilerRoot{
		{VirtualRoot: "/compilers", CacheAlways: []string{"**/*.dll"}},
		{VirtualRoot: "/compilers/msvc", CacheAlways: []string{"bin/*.exe"}},
	}
	e := New(roots, false)

	// Longer root "/compilers/msvc" wins over "/compilers".
	require.Equal(t, types.AlwaysCache, e.PolicyFor("/compilers/msvc/bin/cl.exe"))
	require.Equal(t, types.OnDemand, e.PolicyFor("/compilers/msvc/include/io.h"))
	// Falls back to the shorter root outside msvc.
	require.Equal(t, types.AlwaysCache, e.PolicyFor("/compilers/gcc/lib/libc.dll"))
}

func TestPolicyIsPure(t *testing.T) {
	e := New(msvcRoots(), false)
	p1 := e.PolicyFor("/compilers/msvc/14.40.33807-14.40.33811.0/bin/cl.exe")
	p2 := e.PolicyFor("/compilers/msvc/14.40.33807-14.40.33811.0/bin/cl.exe")
	require.Equal(t, p1, p2)
}
