package filesystem

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hermeshub/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	return store
}

func TestEnsureDirectoryExists(t *testing.T) {
	testDir := filepath.Join(t.TempDir(), "hermes_test_dir")

	// Test creating new directory
	err := EnsureDirectoryExists(testDir)
	assert.NoError(t, err)

	// Verify directory exists
	info, err := os.Stat(testDir)
	assert.NoError(t, err)
	assert.True(t, info.IsDir())

	// Test with existing directory
	err = EnsureDirectoryExists(testDir)
	assert.NoError(t, err)

	assert.ErrorIs(t, EnsureDirectoryExists(""), errors.ErrValidation)
}

func TestValidateName(t *testing.T) {
	valid := []string{"a.txt", "report 2026.pdf", "me@host.log", ".hidden", "..a"}
	for _, name := range valid {
		assert.NoError(t, ValidateName(name), name)
	}

	invalid := []string{"", ".", "..", "../etc/passwd", "dir/file", `dir\file`, "nul\x00byte", "bad\nname", "bad\rname"}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateName(name), errors.ErrValidation, "%q", name)
	}
}

func TestReserve(t *testing.T) {
	store := newTestStore(t)

	file, err := store.Reserve("a.txt")
	require.NoError(t, err)
	require.NoError(t, PreallocateFile(file, 5))
	require.NoError(t, file.Close())

	size, exists, err := store.Size("a.txt")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, int64(5), size)

	_, err = store.Reserve("a.txt")
	assert.ErrorIs(t, err, errors.ErrAlreadyExists)

	_, err = store.Reserve("../escape")
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestReserveIsExclusive(t *testing.T) {
	store := newTestStore(t)

	const racers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			file, err := store.Reserve("contended.bin")
			if err != nil {
				assert.ErrorIs(t, err, errors.ErrAlreadyExists)
				return
			}
			file.Close()
			mu.Lock()
			wins++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestDiscard(t *testing.T) {
	store := newTestStore(t)

	file, err := store.Reserve("partial.bin")
	require.NoError(t, err)

	store.Discard("partial.bin", file)

	_, exists, err := store.Size("partial.bin")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPreallocateFile(t *testing.T) {
	store := newTestStore(t)

	file, err := store.Reserve("empty.bin")
	require.NoError(t, err)
	require.NoError(t, PreallocateFile(file, 0))
	require.NoError(t, file.Close())

	size, exists, err := store.Size("empty.bin")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Zero(t, size)

	file, err = store.Reserve("big.bin")
	require.NoError(t, err)
	defer file.Close()
	require.NoError(t, PreallocateFile(file, 1<<20))

	info, err := file.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), info.Size())

	assert.ErrorIs(t, PreallocateFile(file, -1), errors.ErrValidation)
}

func TestWriteAndReadRanges(t *testing.T) {
	store := newTestStore(t)

	file, err := store.Reserve("data.bin")
	require.NoError(t, err)
	require.NoError(t, PreallocateFile(file, 10))
	require.NoError(t, file.Close())

	// Disjoint ranges written concurrently, out of order
	var wg sync.WaitGroup
	for _, r := range []struct {
		offset int64
		data   string
	}{{6, "6789"}, {0, "012"}, {3, "345"}} {
		wg.Add(1)
		go func(offset int64, data string) {
			defer wg.Done()
			assert.NoError(t, store.WriteRange("data.bin", offset, int64(len(data)), strings.NewReader(data)))
		}(r.offset, r.data)
	}
	wg.Wait()

	content, err := os.ReadFile(filepath.Join(store.Root(), "data.bin"))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(content))

	var buf bytes.Buffer
	require.NoError(t, store.ReadRange("data.bin", 2, 5, &buf))
	assert.Equal(t, "23456", buf.String())
}

func TestWriteRangeShortSource(t *testing.T) {
	store := newTestStore(t)

	file, err := store.Reserve("short.bin")
	require.NoError(t, err)
	require.NoError(t, PreallocateFile(file, 8))
	require.NoError(t, file.Close())

	err = store.WriteRange("short.bin", 0, 8, strings.NewReader("abc"))
	assert.ErrorIs(t, err, errors.ErrConnectionClosedEarly)
}

func TestRangesOnMissingFile(t *testing.T) {
	store := newTestStore(t)

	err := store.WriteRange("ghost.bin", 0, 1, strings.NewReader("x"))
	assert.ErrorIs(t, err, errors.ErrNotFound)

	err = store.ReadRange("ghost.bin", 0, 1, &bytes.Buffer{})
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestReadRangePastEnd(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "tiny.txt"), []byte("abc"), 0644))

	err := store.ReadRange("tiny.txt", 1, 10, &bytes.Buffer{})
	assert.ErrorIs(t, err, errors.ErrConnectionClosedEarly)
}

func TestList(t *testing.T) {
	store := newTestStore(t)

	records, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, records)

	before := time.Now().Add(-time.Minute)
	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "b.log"), []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "a.txt"), nil, 0644))
	require.NoError(t, os.Mkdir(filepath.Join(store.Root(), "subdir"), 0755))

	records, err = store.List()
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "a.txt", records[0].Name)
	assert.Equal(t, uint64(0), records[0].Size)
	assert.Equal(t, "b.log", records[1].Name)
	assert.Equal(t, uint64(5), records[1].Size)
	for _, r := range records {
		assert.True(t, r.CreatedAt.After(before), r.Name)
	}
}

func TestRemove(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "a.txt"), []byte("x"), 0644))

	removed, err := store.Remove("a.txt")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.Remove("a.txt")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = store.Remove("..")
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestSizeOfDirectory(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.Mkdir(filepath.Join(store.Root(), "subdir"), 0755))

	_, exists, err := store.Size("subdir")
	require.NoError(t, err)
	assert.False(t, exists)
}
