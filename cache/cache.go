// Package cache implements the content-addressed, TTL-expiring asset store.
//
// Entries live on disk as a blob plus a msgpack metadata sidecar recording
// creation time and TTL, so expiry survives process restarts and does not
// depend on filesystem mtimes. Writes are atomic (temp file in the same
// directory, then rename), so a concurrent Get never observes a partial
// blob. There is no background sweeper: expiry is checked lazily on read,
// trading a little disk slack for zero idle work.
package cache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/hostbridge/log"
)

// DefaultTTL is the default entry lifetime (7 days).
const DefaultTTL = 7 * 24 * time.Hour

// hotIndexSize bounds the in-memory index of recently served entries.
const hotIndexSize = 512

const (
	blobSuffix = ".bin"
	metaSuffix = ".meta"
)

// ErrNotFound is returned by Get when no valid entry exists.
var ErrNotFound = errors.New("cache entry not found")

// entryMeta is the msgpack sidecar written next to each blob.
type entryMeta struct {
	Key       string `msgpack:"key"`
	CreatedAt int64  `msgpack:"created_at"` // unix nanoseconds
	TTLNanos  int64  `msgpack:"ttl"`
	SizeBytes int64  `msgpack:"size_bytes"`
}

// Stats reports aggregate cache size.
type Stats struct {
	Files      int   `json:"files"`
	TotalBytes int64 `json:"total_bytes"`
}

// hotEntry is one in-memory index record. It carries the entry's absolute
// expiry so a hot hit is checked against the same deadline as the disk
// sidecar; the LRU's own TTL only bounds memory, it is not the source of
// truth for entry age.
type hotEntry struct {
	path      string
	expiresAt int64 // unix nanoseconds, created_at + ttl
}

// Cache is a content-addressed file cache. Safe for concurrent use; the
// directory is guarded by atomic rename-on-write, not explicit locks.
type Cache struct {
	dir    string
	ttl    time.Duration
	logger *log.Logger
	now    func() time.Time

	// hot maps key -> hotEntry for entries served recently. Disk metadata
	// remains authoritative; the index is rebuilt from it on a miss.
	hot *expirable.LRU[string, hotEntry]
}

// New creates a cache rooted at dir. A non-positive ttl falls back to
// DefaultTTL.
func New(dir string, ttl time.Duration, logger *log.Logger) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache directory required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	return &Cache{
		dir:    abs,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		hot:    expirable.NewLRU[string, hotEntry](hotIndexSize, nil, ttl),
	}, nil
}

// Key derives the stable content key for a logical identity and its
// variant parameters (resolution, format, ...). xxhash is collision
// resistant at practical asset counts; cryptographic strength is not
// required here.
func Key(identity string, variants ...string) string {
	h := xxhash.New()
	_, _ = h.WriteString(identity)
	for _, v := range variants {
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(v)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// Get returns the blob path for key, or ErrNotFound when absent or
// expired. An expired entry is deleted as a side effect.
func (c *Cache) Get(key string) (string, error) {
	if e, ok := c.hot.Get(key); ok && c.now().UnixNano() < e.expiresAt {
		if _, err := os.Stat(e.path); err == nil {
			c.logger.Debug("cache hit (hot)", map[string]any{"key": key})
			return e.path, nil
		}
		c.hot.Remove(key)
	}

	meta, err := c.readMeta(key)
	if err != nil {
		c.hot.Remove(key)
		c.logger.Debug("cache miss", map[string]any{"key": key})
		return "", ErrNotFound
	}

	age := c.now().UnixNano() - meta.CreatedAt
	if age >= meta.TTLNanos {
		c.remove(key)
		c.logger.Info("cache entry expired", map[string]any{"key": key, "age": time.Duration(age).String()})
		return "", ErrNotFound
	}

	blobPath := c.path(key, blobSuffix)
	if _, err := os.Stat(blobPath); err != nil {
		// The sidecar may belong to a Put still in flight; drop only the
		// stale index entry.
		c.hot.Remove(key)
		return "", ErrNotFound
	}

	c.hot.Add(key, hotEntry{path: blobPath, expiresAt: meta.CreatedAt + meta.TTLNanos})
	c.logger.Debug("cache hit", map[string]any{"key": key})
	return blobPath, nil
}

// Put stores the contents of r under key and returns the blob path.
// The blob and its sidecar are both written to temp files and renamed, so
// concurrent readers observe either the old entry or the complete new one.
// The blob commits first: a reader that sees the sidecar always finds the
// blob in place.
func (c *Cache) Put(key string, r io.Reader) (string, error) {
	blobPath := c.path(key, blobSuffix)

	tmp, err := os.CreateTemp(c.dir, ".put-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("write blob: %w", err)
	}

	if err := os.Rename(tmpName, blobPath); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("commit blob: %w", err)
	}

	meta := entryMeta{
		Key:       key,
		CreatedAt: c.now().UnixNano(),
		TTLNanos:  int64(c.ttl),
		SizeBytes: written,
	}
	if err := c.writeMeta(key, meta); err != nil {
		os.Remove(blobPath)
		return "", err
	}

	c.hot.Add(key, hotEntry{path: blobPath, expiresAt: meta.CreatedAt + meta.TTLNanos})
	c.logger.Info("cached entry", map[string]any{"key": key, "bytes": written})
	return blobPath, nil
}

// Clear removes all entries and returns the number of blobs removed.
func (c *Cache) Clear() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil {
			c.logger.Warn("failed to remove cache file", map[string]any{"file": name, "error": err.Error()})
			continue
		}
		if strings.HasSuffix(name, blobSuffix) {
			removed++
		}
	}

	c.hot.Purge()
	c.logger.Info("cache cleared", map[string]any{"removed": removed})
	return removed, nil
}

// Size returns the aggregate blob count and byte total.
func (c *Cache) Size() (Stats, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return Stats{}, fmt.Errorf("read cache dir: %w", err)
	}

	var stats Stats
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), blobSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // raced with a concurrent Clear
			}
			return Stats{}, err
		}
		stats.Files++
		stats.TotalBytes += info.Size()
	}
	return stats, nil
}

func (c *Cache) path(key, suffix string) string {
	return filepath.Join(c.dir, key+suffix)
}

func (c *Cache) readMeta(key string) (*entryMeta, error) {
	data, err := os.ReadFile(c.path(key, metaSuffix))
	if err != nil {
		return nil, err
	}
	var meta entryMeta
	if err := msgpack.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode cache metadata: %w", err)
	}
	return &meta, nil
}

func (c *Cache) writeMeta(key string, meta entryMeta) error {
	data, err := msgpack.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("encode cache metadata: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, ".meta-*")
	if err != nil {
		return fmt.Errorf("create temp metadata: %w", err)
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := os.Rename(tmpName, c.path(key, metaSuffix)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit metadata: %w", err)
	}
	return nil
}

// remove deletes the blob, sidecar, and hot-index entry for key.
func (c *Cache) remove(key string) {
	c.hot.Remove(key)
	_ = os.Remove(c.path(key, blobSuffix))
	_ = os.Remove(c.path(key, metaSuffix))
}
