package fileutil

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteJSONAtomic_ReadJSON_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "record.json")

	want := record{Name: "alpha", Count: 3}
	require.NoError(t, WriteJSONAtomic(path, want))

	var got record
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, want, got)
}

func TestReadJSON_Missing(t *testing.T) {
	var got record
	err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &got)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteJSONAtomic_NoPartialWriteVisible(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "record.json")
	require.NoError(t, WriteJSONAtomic(path, record{Name: "first"}))
	require.NoError(t, WriteJSONAtomic(path, record{Name: "second"}))

	var got record
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, "second", got.Name)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not remain after rename")
}

func TestAppendJSONLAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.jsonl")

	require.NoError(t, AppendJSONLAtomic(path, record{Name: "a", Count: 1}))
	require.NoError(t, AppendJSONLAtomic(path, record{Name: "b", Count: 2}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"name\":\"a\",\"count\":1}\n{\"name\":\"b\",\"count\":2}\n", string(data))
}

func TestPathLocker_SerializesSamePath(t *testing.T) {
	pl := NewPathLocker()
	var counter int
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := pl.Lock("shared")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestPathLocker_DifferentPathsIndependent(t *testing.T) {
	pl := NewPathLocker()
	unlockA := pl.Lock("a")
	unlockB := pl.Lock("b")
	unlockA()
	unlockB()
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.json")
	assert.False(t, Exists(path))
	require.NoError(t, WriteJSONAtomic(path, record{}))
	assert.True(t, Exists(path))
}
