package memcache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wincachefs/wincachefs/pkg/types"
)

type noRefs struct{}

func (noRefs) RefCount(types.VirtualPath) int32 { return 0 }

func TestGetMissAndInsertHit(t *testing.T) {
	c := New(Config{}, noRefs{})
	_, ok := c.Get("/a")
	require.False(t, ok)

	require.NoError(t, c.Insert("/a", []byte("hello")))
	data, ok := c.Get("/a")
	require.True(t, ok)
	require.Equal(t, "hello", string(data))
}

func TestSizeBytesTracksInserts(t *testing.T) {
	c := New(Config{}, noRefs{})
	require.NoError(t, c.Insert("/a", make([]byte, 4)))
	require.NoError(t, c.Insert("/b", make([]byte, 6)))
	require.EqualValues(t, 10, c.SizeBytes())
	require.Equal(t, 2, c.EntryCount())
}

func TestReinsertSameBytesSizeUnchanged(t *testing.T) {
	c := New(Config{}, noRefs{})
	require.NoError(t, c.Insert("/a", make([]byte, 4)))
	before := c.SizeBytes()
	require.NoError(t, c.Insert("/a", make([]byte, 4)))
	require.Equal(t, before, c.SizeBytes())
}

// TestLRUEvictionOrder: budget 10 bytes, insert A(4), B(4), C(4) in
// order; expect A evicted, {B,C} remain, total 8. Touch B, insert D(4);
// expect C evicted, {B,D} remain.
func TestLRUEvictionOrder(t *testing.T) {
	c := New(Config{BudgetBytes: 10, HighWatermark: 1.0, LowWatermark: 0.8}, noRefs{})

	require.NoError(t, c.Insert("/a", make([]byte, 4)))
	require.NoError(t, c.Insert("/b", make([]byte, 4)))
	require.NoError(t, c.Insert("/c", make([]byte, 4)))

	_, aOK := c.Get("/a")
	_, bOK := c.Get("/b")
	_, cOK := c.Get("/c")
	require.False(t, aOK)
	require.True(t, bOK)
	require.True(t, cOK)
	require.EqualValues(t, 8, c.SizeBytes())

	// Touch B so it's more recently used than C, then insert D.
	c.Get("/b")
	require.NoError(t, c.Insert("/d", make([]byte, 4)))

	_, bOK = c.Get("/b")
	_, cOK = c.Get("/c")
	_, dOK := c.Get("/d")
	require.True(t, bOK)
	require.False(t, cOK)
	require.True(t, dOK)
}

func TestEvictionNeverDropsPinnedEntry(t *testing.T) {
	pinned := pinnedRefs{pinned: "/a"}
	c := New(Config{BudgetBytes: 8, HighWatermark: 1.0, LowWatermark: 0.5}, pinned)

	require.NoError(t, c.Insert("/a", make([]byte, 4)))
	require.NoError(t, c.Insert("/b", make([]byte, 4)))
	require.NoError(t, c.Insert("/c", make([]byte, 4)))

	_, aOK := c.Get("/a")
	require.True(t, aOK, "pinned entry must survive eviction pressure")
}

type pinnedRefs struct{ pinned types.VirtualPath }

func (p pinnedRefs) RefCount(vp types.VirtualPath) int32 {
	if vp == p.pinned {
		return 1
	}
	return 0
}

func TestEvictUntilNoOpWhenBelowTarget(t *testing.T) {
	c := New(Config{}, noRefs{})
	require.NoError(t, c.Insert("/a", make([]byte, 4)))
	freed := c.EvictUntil(100)
	require.EqualValues(t, 0, freed)
	require.EqualValues(t, 4, c.SizeBytes())
}

func TestStrictModeRejectsOverBudget(t *testing.T) {
	pinned := pinnedRefs{pinned: "/a"}
	c := New(Config{BudgetBytes: 4, Mode: Strict}, pinned)
	require.NoError(t, c.Insert("/a", make([]byte, 4)))
	err := c.Insert("/b", make([]byte, 4))
	require.Error(t, err)
	var budgetErr *ErrOutOfBudget
	require.ErrorAs(t, err, &budgetErr)
}
