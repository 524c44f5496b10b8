// Package respcache implements a content-addressed cache for LLM responses,
// keyed by a SHA-256 hash over the full request shape (stable prompt, query
// prompt, model name, max tokens). Entries are write-once: once a key is
// cached its response never changes except via explicit deletion. The cache
// file is written atomically and a corrupt main cache file is backed up and
// refused rather than silently discarded.
package respcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/Sumatoshi-tech/historian/pkg/persist"
)

type entry struct {
	Response string `json:"response"`
}

// Cache is a single project's response cache, optionally consolidating
// entries from a secondary "old cache" file that is read but never written.
type Cache struct {
	cacheFile    string
	oldCacheFile string

	cache    map[string]entry
	oldCache map[string]entry

	hits   atomic.Int64
	misses atomic.Int64
}

// Open loads (or initializes empty) the cache at cacheFile. If oldCacheFile
// is non-empty, its entries are consulted as a read-only fallback and
// promoted into the main cache on hit.
func Open(cacheFile, oldCacheFile string) (*Cache, error) {
	c := &Cache{
		cacheFile:    cacheFile,
		oldCacheFile: oldCacheFile,
	}

	loaded, err := loadCacheFile(cacheFile, true)
	if err != nil {
		return nil, err
	}
	c.cache = loaded

	if oldCacheFile != "" {
		old, err := loadCacheFile(oldCacheFile, false)
		if err != nil {
			return nil, err
		}
		c.oldCache = old
	} else {
		c.oldCache = map[string]entry{}
	}

	return c, nil
}

// CorruptCacheError reports that the main cache file could not be parsed.
// A timestamped backup of the corrupt file has already been written next to
// it; the caller must not proceed until the file is recovered or removed.
type CorruptCacheError struct {
	Path       string
	BackupPath string
	Cause      error
}

func (e *CorruptCacheError) Error() string {
	return fmt.Sprintf("cache file %s is corrupted (backup saved to %s): %v",
		e.Path, e.BackupPath, e.Cause)
}

func (e *CorruptCacheError) Unwrap() error { return e.Cause }

func loadCacheFile(path string, isMain bool) (map[string]entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]entry{}, nil
		}
		if !isMain {
			return map[string]entry{}, nil
		}
		return nil, fmt.Errorf("read cache file %s: %w", path, err)
	}

	var parsed map[string]entry
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if !isMain {
			return map[string]entry{}, nil
		}

		timestamp := time.Now().Format("20060102_150405")
		backupPath := fmt.Sprintf("%s.corrupted.%s.bak", path, timestamp)
		if copyErr := copyFile(path, backupPath); copyErr != nil {
			return nil, fmt.Errorf("cache file %s is corrupted and backup failed: %w (backup error: %v)", path, err, copyErr)
		}
		return nil, &CorruptCacheError{Path: path, BackupPath: backupPath, Cause: err}
	}

	return parsed, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// Key derives the content-addressed cache key for a request: a SHA-256 hash
// over the canonical 4-tuple "stablePrompt\n\n---QUERY---\n\nqueryPrompt\n\n
// ---MODEL---\n\nmodel\n\n---MAX_TOKENS---\n\nmaxTokens".
func Key(stablePrompt, queryPrompt, model string, maxTokens int) string {
	requestString := fmt.Sprintf("%s\n\n---QUERY---\n\n%s\n\n---MODEL---\n\n%s\n\n---MAX_TOKENS---\n\n%d",
		stablePrompt, queryPrompt, model, maxTokens)
	sum := sha256.Sum256([]byte(requestString))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached response for the given request shape, checking the
// main cache then the old cache (promoting an old-cache hit into the main
// cache). ok is false on a miss in both.
func (c *Cache) Get(stablePrompt, queryPrompt, model string, maxTokens int) (response string, ok bool, err error) {
	key := Key(stablePrompt, queryPrompt, model, maxTokens)

	if e, found := c.cache[key]; found {
		c.hits.Add(1)
		return e.Response, true, nil
	}

	if e, found := c.oldCache[key]; found {
		c.hits.Add(1)
		c.cache[key] = entry{Response: e.Response}
		if saveErr := c.saveLocked(); saveErr != nil {
			return e.Response, true, saveErr
		}
		return e.Response, true, nil
	}

	c.misses.Add(1)
	return "", false, nil
}

// CacheHits returns the cumulative number of Get calls that found an entry,
// satisfying observability.CacheStatsProvider.
func (c *Cache) CacheHits() int64 { return c.hits.Load() }

// CacheMisses returns the cumulative number of Get calls that found nothing,
// satisfying observability.CacheStatsProvider.
func (c *Cache) CacheMisses() int64 { return c.misses.Load() }

// Set stores a response under the given request shape. Write-once: if the
// key is already cached, this is a no-op (the stored response never
// changes except via Delete).
func (c *Cache) Set(stablePrompt, queryPrompt, model string, maxTokens int, response string) error {
	key := Key(stablePrompt, queryPrompt, model, maxTokens)
	if _, exists := c.cache[key]; exists {
		return nil
	}
	c.cache[key] = entry{Response: response}
	return c.saveLocked()
}

// Delete removes a specific cache entry, reporting whether it existed.
func (c *Cache) Delete(stablePrompt, queryPrompt, model string, maxTokens int) (bool, error) {
	key := Key(stablePrompt, queryPrompt, model, maxTokens)
	if _, exists := c.cache[key]; !exists {
		return false, nil
	}
	delete(c.cache, key)
	return true, c.saveLocked()
}

// Clear removes all entries from the main cache.
func (c *Cache) Clear() error {
	c.cache = map[string]entry{}
	return c.saveLocked()
}

// Stats reports cache sizes for diagnostics.
type Stats struct {
	Size         int
	CacheFile    string
	OldCacheFile string
	OldCacheSize int
}

// Stats returns a snapshot of cache sizes.
func (c *Cache) Stats() Stats {
	return Stats{
		Size:         len(c.cache),
		CacheFile:    c.cacheFile,
		OldCacheFile: c.oldCacheFile,
		OldCacheSize: len(c.oldCache),
	}
}

func (c *Cache) saveLocked() error {
	dir := filepath.Dir(c.cacheFile)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	basename := trimCacheExtension(filepath.Base(c.cacheFile))
	if err := persist.SaveStateAtomic(dir, basename, persist.NewJSONCodec(), c.cache); err != nil {
		return fmt.Errorf("save cache: %w", err)
	}
	return nil
}

func trimCacheExtension(name string) string {
	ext := filepath.Ext(name)
	return name[:len(name)-len(ext)]
}
