package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorageJSONRoundTrip(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	type record struct {
		Name string `json:"name"`
	}
	require.NoError(t, fs.SaveJSONFile("saves/one.json", record{Name: "cave"}))
	assert.True(t, fs.FileExists("saves/one.json"))
	assert.NoFileExists(t, fs.Resolve("saves/one.json")+".tmp")

	var got record
	require.NoError(t, fs.LoadJSONFile("saves/one.json", &got))
	assert.Equal(t, "cave", got.Name)

	require.NoError(t, fs.DeleteFile("saves/one.json"))
	assert.False(t, fs.FileExists("saves/one.json"))
}

func TestFileStorageResolve(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	abs := filepath.Join(t.TempDir(), "x.json")
	assert.Equal(t, abs, fs.Resolve(abs))
	assert.Equal(t, filepath.Join(fs.BaseDir, "x.json"), fs.Resolve("x.json"))
}

func TestFileStorageMissingFile(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	_, err = fs.LoadTextFile("nope.json")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileCacheReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "story.txt")
	require.NoError(t, os.WriteFile(path, []byte("one"), 0644))

	cache := NewFileCacheService(4, time.Minute)
	loads := 0
	load := func(p string) (interface{}, error) {
		loads++
		data, err := os.ReadFile(p)
		return string(data), err
	}

	v, err := cache.GetOrLoad(path, load)
	require.NoError(t, err)
	assert.Equal(t, "one", v)
	_, err = cache.GetOrLoad(path, load)
	require.NoError(t, err)
	assert.Equal(t, 1, loads)

	require.NoError(t, os.WriteFile(path, []byte("two!"), 0644))
	v, err = cache.GetOrLoad(path, load)
	require.NoError(t, err)
	assert.Equal(t, "two!", v)
	assert.Equal(t, 2, loads)

	cache.Invalidate(path)
	assert.Equal(t, 0, cache.Len())
}

func TestFileCacheEvictsLeastRecentlyRead(t *testing.T) {
	dir := t.TempDir()
	cache := NewFileCacheService(2, time.Minute)
	load := func(p string) (interface{}, error) { return p, nil }

	for _, name := range []string{"a", "b", "c"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(name), 0644))
		_, err := cache.GetOrLoad(path, load)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, cache.Len(), 2)
}

func TestFileCacheMissingFile(t *testing.T) {
	cache := NewFileCacheService(0, 0)
	_, err := cache.GetOrLoad(filepath.Join(t.TempDir(), "gone"), func(string) (interface{}, error) {
		t.Fatal("load must not run")
		return nil, nil
	})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
