package diskmgr

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"minikvstore/internal/page"
)

func TestOpenReservesHeaderPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	buf := make([]byte, page.Size)
	require.NoError(t, m.ReadPage(HeaderPageID, buf))
	for _, b := range buf {
		require.Equal(t, byte(0), b)
	}
}

func TestWriteThenReadPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	id, err := m.AllocatePage()
	require.NoError(t, err)

	data := make([]byte, page.Size)
	data[0] = 0xAB
	data[page.Size-1] = 0xCD
	require.NoError(t, m.WritePage(id, data))

	got := make([]byte, page.Size)
	require.NoError(t, m.ReadPage(id, got))
	require.Equal(t, data, got)
}

func TestReadPastEndOfFileZeroPads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	buf := make([]byte, page.Size)
	require.NoError(t, m.ReadPage(999, buf))
	for _, b := range buf {
		require.Equal(t, byte(0), b)
	}
}

func TestAllocatePageIsMonotonic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	m, err := Open(path)
	require.NoError(t, err)
	defer m.Close()

	var ids []uint32
	for i := 0; i < 5; i++ {
		id, err := m.AllocatePage()
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		require.Greater(t, ids[i], ids[i-1])
	}
}

func TestReopenPersistsPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	m, err := Open(path)
	require.NoError(t, err)

	id, err := m.AllocatePage()
	require.NoError(t, err)
	data := make([]byte, page.Size)
	data[10] = 42
	require.NoError(t, m.WritePage(id, data))
	require.NoError(t, m.Close())

	m2, err := Open(path)
	require.NoError(t, err)
	defer m2.Close()

	got := make([]byte, page.Size)
	require.NoError(t, m2.ReadPage(id, got))
	require.Equal(t, byte(42), got[10])
}

func TestOperationsFailAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	m, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	_, err = m.AllocatePage()
	require.Error(t, err)
	require.Error(t, m.WritePage(0, make([]byte, page.Size)))
	require.Error(t, m.ReadPage(0, make([]byte, page.Size)))
}
