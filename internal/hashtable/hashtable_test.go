package hashtable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertFindRemove(t *testing.T) {
	tbl := New[uint32, string](4)

	tbl.Insert(1, "a")
	tbl.Insert(2, "b")

	v, ok := tbl.Find(1)
	require.True(t, ok)
	require.Equal(t, "a", v)

	require.True(t, tbl.Remove(1))
	_, ok = tbl.Find(1)
	require.False(t, ok)

	require.False(t, tbl.Remove(1))
}

func TestInsertOverwritesExistingKey(t *testing.T) {
	tbl := New[int, int](4)
	tbl.Insert(5, 100)
	tbl.Insert(5, 200)

	v, ok := tbl.Find(5)
	require.True(t, ok)
	require.Equal(t, 200, v)
}

func TestDirectoryGrowsOnOverflow(t *testing.T) {
	tbl := New[int, int](2)
	require.Equal(t, 0, tbl.GlobalDepth())

	for i := 0; i < 64; i++ {
		tbl.Insert(i, i*10)
	}

	for i := 0; i < 64; i++ {
		v, ok := tbl.Find(i)
		require.True(t, ok, "key %d", i)
		require.Equal(t, i*10, v)
	}
	require.Greater(t, tbl.GlobalDepth(), 0)
	require.GreaterOrEqual(t, tbl.NumBuckets(), 2)
}

func TestGenericKeyHashing(t *testing.T) {
	type compositeKey struct {
		A int
		B string
	}
	tbl := New[compositeKey, int](4)
	for i := 0; i < 20; i++ {
		k := compositeKey{A: i, B: fmt.Sprintf("k%d", i)}
		tbl.Insert(k, i)
	}
	for i := 0; i < 20; i++ {
		k := compositeKey{A: i, B: fmt.Sprintf("k%d", i)}
		v, ok := tbl.Find(k)
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func TestLocalDepthNeverExceedsGlobalDepth(t *testing.T) {
	tbl := New[int, int](2)
	for i := 0; i < 100; i++ {
		tbl.Insert(i, i)
	}
	for i := 0; i < len(tbl.dir); i++ {
		require.LessOrEqual(t, tbl.LocalDepth(i), tbl.GlobalDepth())
	}
}
