package respcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "cache.json"), "")
	require.NoError(t, err)

	require.NoError(t, c.Set("stable", "query", "model-a", 100, "the response"))

	resp, ok, err := c.Get("stable", "query", "model-a", 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "the response", resp)
}

func TestGetMissReturnsNotOk(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "cache.json"), "")
	require.NoError(t, err)

	_, ok, err := c.Get("stable", "query", "model-a", 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetIsWriteOnce(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "cache.json"), "")
	require.NoError(t, err)

	require.NoError(t, c.Set("s", "q", "m", 1, "first"))
	require.NoError(t, c.Set("s", "q", "m", 1, "second"))

	resp, ok, err := c.Get("s", "q", "m", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", resp)
}

func TestDeleteThenMiss(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "cache.json"), "")
	require.NoError(t, err)

	require.NoError(t, c.Set("s", "q", "m", 1, "v"))
	removed, err := c.Delete("s", "q", "m", 1)
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok, err := c.Get("s", "q", "m", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")

	c1, err := Open(path, "")
	require.NoError(t, err)
	require.NoError(t, c1.Set("s", "q", "m", 1, "persisted"))

	c2, err := Open(path, "")
	require.NoError(t, err)
	resp, ok, err := c2.Get("s", "q", "m", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "persisted", resp)
}

func TestOldCachePromotion(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "api_cache_old.json")
	mainPath := filepath.Join(dir, "api_cache.json")

	key := Key("s", "q", "m", 1)
	oldContent := `{"` + key + `": {"response": "from old cache"}}`
	require.NoError(t, os.WriteFile(oldPath, []byte(oldContent), 0o644))

	c, err := Open(mainPath, oldPath)
	require.NoError(t, err)

	resp, ok, err := c.Get("s", "q", "m", 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "from old cache", resp)

	// Promoted into main cache: reopening without the old cache file still hits.
	c2, err := Open(mainPath, "")
	require.NoError(t, err)
	resp2, ok2, err := c2.Get("s", "q", "m", 1)
	require.NoError(t, err)
	require.True(t, ok2)
	assert.Equal(t, "from old cache", resp2)
}

func TestCorruptMainCacheBacksUpAndRefuses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Open(path, "")
	require.Error(t, err)

	var cerr *CorruptCacheError
	require.ErrorAs(t, err, &cerr)

	_, statErr := os.Stat(cerr.BackupPath)
	assert.NoError(t, statErr)
}

func TestKeyIsDeterministicAndShapeSensitive(t *testing.T) {
	k1 := Key("stable", "query", "model", 100)
	k2 := Key("stable", "query", "model", 100)
	k3 := Key("stable", "query", "model", 200)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}
