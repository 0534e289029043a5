package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"minikvstore/internal/btree"
	"minikvstore/internal/buffer"
	"minikvstore/internal/diskmgr"
)

func newTestIndex(t *testing.T) *btree.Index {
	t.Helper()
	disk, err := diskmgr.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { disk.Close() })
	bpm := buffer.NewPoolManager(disk, buffer.WithPoolSize(64))
	index, err := btree.CreateIndex(bpm, "loaded", btree.Options{})
	require.NoError(t, err)
	return index
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestInsertFromFileLoadsValidLines(t *testing.T) {
	index := newTestIndex(t)
	path := writeCSV(t, "1,100\n2,200\n3,300\n#comment\n5,500\n10,1000\n")

	result, err := InsertFromFile(index, path)
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Equal(t, 5, result.EntriesProcessed)
	require.Equal(t, 5, result.EntriesInserted)

	expected := map[uint64]uint64{1: 100, 2: 200, 3: 300, 5: 500, 10: 1000}
	for k, v := range expected {
		got, err := index.GetValue(k)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestInsertFromFileRecordsMalformedLines(t *testing.T) {
	index := newTestIndex(t)
	path := writeCSV(t, "1,100\nnotanumber,5\n3,notanumber\n7\n")

	result, err := InsertFromFile(index, path)
	require.NoError(t, err)
	require.Equal(t, 4, result.EntriesProcessed)
	require.Equal(t, 1, result.EntriesInserted)
	require.Len(t, result.Errors, 3)
}

func TestRemoveFromFileDeletesKeys(t *testing.T) {
	index := newTestIndex(t)
	require.NoError(t, index.Insert(1, 100))
	require.NoError(t, index.Insert(2, 200))

	path := writeCSV(t, "1,0\n")
	result, err := RemoveFromFile(index, path)
	require.NoError(t, err)
	require.Equal(t, 1, result.EntriesInserted)

	_, err = index.GetValue(1)
	require.ErrorIs(t, err, btree.ErrKeyNotFound)
	v, err := index.GetValue(2)
	require.NoError(t, err)
	require.Equal(t, uint64(200), v)
}

func TestInsertFromFileMissingFile(t *testing.T) {
	index := newTestIndex(t)
	_, err := InsertFromFile(index, filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
}
