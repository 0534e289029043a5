package btree

import (
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"minikvstore/internal/buffer"
	"minikvstore/internal/diskmgr"
)

func newTestBPM(t *testing.T, poolSize int) *buffer.PoolManager {
	t.Helper()
	disk, err := diskmgr.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { disk.Close() })
	return buffer.NewPoolManager(disk, buffer.WithPoolSize(poolSize))
}

func collect(t *testing.T, it *Iterator) []uint64 {
	t.Helper()
	var got []uint64
	for it.Valid() {
		k, _ := it.Value()
		got = append(got, k)
		require.NoError(t, it.Next())
	}
	require.NoError(t, it.Close())
	return got
}

func TestCreateIndexRejectsDuplicateName(t *testing.T) {
	bpm := newTestBPM(t, 32)
	_, err := CreateIndex(bpm, "orders", Options{})
	require.NoError(t, err)

	_, err = CreateIndex(bpm, "orders", Options{})
	require.Error(t, err)
}

func TestOpenMissingIndexFails(t *testing.T) {
	bpm := newTestBPM(t, 32)
	_, err := OpenIndex(bpm, "missing", Options{})
	require.Error(t, err)
}

func TestEmptyIndexLookupFails(t *testing.T) {
	bpm := newTestBPM(t, 32)
	tree, err := CreateIndex(bpm, "t", Options{})
	require.NoError(t, err)
	require.True(t, tree.IsEmpty())

	_, err = tree.GetValue(1)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestInsertAndLookupSingleEntry(t *testing.T) {
	bpm := newTestBPM(t, 32)
	tree, err := CreateIndex(bpm, "t", Options{})
	require.NoError(t, err)

	require.NoError(t, tree.Insert(1, 100))
	require.False(t, tree.IsEmpty())

	v, err := tree.GetValue(1)
	require.NoError(t, err)
	require.Equal(t, uint64(100), v)
}

func TestInsertOverwritesExistingKey(t *testing.T) {
	bpm := newTestBPM(t, 32)
	tree, err := CreateIndex(bpm, "t", Options{})
	require.NoError(t, err)

	require.NoError(t, tree.Insert(1, 100))
	require.NoError(t, tree.Insert(1, 200))

	v, err := tree.GetValue(1)
	require.NoError(t, err)
	require.Equal(t, uint64(200), v)
}

func TestAscendingInsertTriggersSplitAndIterates(t *testing.T) {
	bpm := newTestBPM(t, 256)
	tree, err := CreateIndex(bpm, "t", Options{LeafMaxSize: 4, InternalMaxSize: 4})
	require.NoError(t, err)

	const n = 200
	for i := uint64(1); i <= n; i++ {
		require.NoError(t, tree.Insert(i, i*10))
	}
	for i := uint64(1); i <= n; i++ {
		v, err := tree.GetValue(i)
		require.NoError(t, err, "key %d", i)
		require.Equal(t, i*10, v)
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	got := collect(t, it)
	require.Len(t, got, n)
	require.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }))
}

func TestRandomInsertOrderStillIteratesSorted(t *testing.T) {
	bpm := newTestBPM(t, 256)
	tree, err := CreateIndex(bpm, "t", Options{LeafMaxSize: 4, InternalMaxSize: 4})
	require.NoError(t, err)

	keys := rand.New(rand.NewSource(1)).Perm(150)
	for _, k := range keys {
		require.NoError(t, tree.Insert(uint64(k), uint64(k)*10))
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	got := collect(t, it)
	require.Len(t, got, len(keys))
	require.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }))
}

func TestBeginAtStartsMidRange(t *testing.T) {
	bpm := newTestBPM(t, 256)
	tree, err := CreateIndex(bpm, "t", Options{LeafMaxSize: 4, InternalMaxSize: 4})
	require.NoError(t, err)

	for i := uint64(1); i <= 40; i++ {
		require.NoError(t, tree.Insert(i, i))
	}

	it, err := tree.BeginAt(20)
	require.NoError(t, err)
	got := collect(t, it)
	require.Equal(t, uint64(20), got[0])
	require.Len(t, got, 21)
}

func TestRemoveKeyNotFound(t *testing.T) {
	bpm := newTestBPM(t, 32)
	tree, err := CreateIndex(bpm, "t", Options{})
	require.NoError(t, err)
	require.NoError(t, tree.Insert(1, 1))

	err = tree.Remove(2)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRemoveThenLookupFails(t *testing.T) {
	bpm := newTestBPM(t, 32)
	tree, err := CreateIndex(bpm, "t", Options{})
	require.NoError(t, err)
	require.NoError(t, tree.Insert(1, 100))
	require.NoError(t, tree.Insert(2, 200))

	require.NoError(t, tree.Remove(1))
	_, err = tree.GetValue(1)
	require.ErrorIs(t, err, ErrKeyNotFound)

	v, err := tree.GetValue(2)
	require.NoError(t, err)
	require.Equal(t, uint64(200), v)
}

func TestDeleteWithMergeAndBorrowAcrossManyKeys(t *testing.T) {
	bpm := newTestBPM(t, 256)
	tree, err := CreateIndex(bpm, "t", Options{LeafMaxSize: 4, InternalMaxSize: 4})
	require.NoError(t, err)

	const n = 120
	expected := make(map[uint64]uint64, n)
	for i := uint64(1); i <= n; i++ {
		require.NoError(t, tree.Insert(i, i*10))
		expected[i] = i * 10
	}

	// Remove every third key, forcing a mix of borrows and merges.
	for i := uint64(1); i <= n; i += 3 {
		require.NoError(t, tree.Remove(i))
		delete(expected, i)
	}

	for k, v := range expected {
		got, err := tree.GetValue(k)
		require.NoError(t, err, "key %d", k)
		require.Equal(t, v, got)
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	got := collect(t, it)
	require.Len(t, got, len(expected))
	require.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }))
}

func TestDeleteAllKeysEmptiesTree(t *testing.T) {
	bpm := newTestBPM(t, 256)
	tree, err := CreateIndex(bpm, "t", Options{LeafMaxSize: 4, InternalMaxSize: 4})
	require.NoError(t, err)

	const n = 50
	for i := uint64(1); i <= n; i++ {
		require.NoError(t, tree.Insert(i, i))
	}
	for i := uint64(1); i <= n; i++ {
		require.NoError(t, tree.Remove(i))
	}

	for i := uint64(1); i <= n; i++ {
		_, err := tree.GetValue(i)
		require.ErrorIs(t, err, ErrKeyNotFound)
	}
}

func TestPersistedIndexReopensWithSameRoot(t *testing.T) {
	disk, err := diskmgr.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	defer disk.Close()
	bpm := buffer.NewPoolManager(disk, buffer.WithPoolSize(64))

	tree, err := CreateIndex(bpm, "persisted", Options{})
	require.NoError(t, err)
	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, tree.Insert(i, i*100))
	}
	rootID := tree.GetRootPageID()

	reopened, err := OpenIndex(bpm, "persisted", Options{})
	require.NoError(t, err)
	require.Equal(t, rootID, reopened.GetRootPageID())

	for i := uint64(1); i <= 10; i++ {
		v, err := reopened.GetValue(i)
		require.NoError(t, err)
		require.Equal(t, i*100, v)
	}
}

func TestConcurrentMixedWorkload(t *testing.T) {
	bpm := newTestBPM(t, 256)
	tree, err := CreateIndex(bpm, "t", Options{LeafMaxSize: 4, InternalMaxSize: 4})
	require.NoError(t, err)

	const n = 200
	for i := uint64(0); i < n; i++ {
		require.NoError(t, tree.Insert(i, i))
	}

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		w := w
		g.Go(func() error {
			for i := uint64(0); i < n; i++ {
				if (i+uint64(w))%2 == 0 {
					if _, err := tree.GetValue(i); err != nil && err != ErrKeyNotFound {
						return err
					}
				} else if err := tree.Insert(i, i+1); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	it, err := tree.Begin()
	require.NoError(t, err)
	got := collect(t, it)
	require.Len(t, got, n)
}
