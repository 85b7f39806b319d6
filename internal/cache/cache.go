// Package cache implements the persistent voice line cache.
//
// Synthesized audio is kept on disk and indexed through the store, keyed by a
// content fingerprint of (text, coach id, urgency, cache version). Eviction
// is strict LRU by last use, bounded by both entry count and total byte size.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/strideloop/voicecoach/internal/audio"
	"github.com/strideloop/voicecoach/internal/metrics"
	"github.com/strideloop/voicecoach/internal/models"
	"github.com/strideloop/voicecoach/internal/store"
)

// Version is the cache key schema version. Bumping it invalidates all
// previously cached lines.
const Version = 1

// Default capacity bounds.
const (
	DefaultMaxEntries = 200
	DefaultMaxBytes   = 50 << 20 // 50 MiB
)

// Opts holds configuration options for the cache.
type Opts struct {
	MaxEntries int
	MaxBytes   int64
}

// Option configures cache options.
type Option func(*Opts)

// WithMaxEntries bounds the number of cached voice lines.
func WithMaxEntries(n int) Option {
	return func(o *Opts) { o.MaxEntries = n }
}

// WithMaxBytes bounds the total size of cached audio on disk.
func WithMaxBytes(n int64) Option {
	return func(o *Opts) { o.MaxBytes = n }
}

// Cache is the voice line cache. Safe for concurrent use.
type Cache struct {
	store      store.Store
	mu         sync.Mutex
	maxEntries int
	maxBytes   int64
}

// New creates a cache over the given store.
func New(s store.Store, opts ...Option) *Cache {
	cfg := Opts{MaxEntries: DefaultMaxEntries, MaxBytes: DefaultMaxBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Creating voice line cache", "max_entries", cfg.MaxEntries, "max_bytes", cfg.MaxBytes)
	return &Cache{store: s, maxEntries: cfg.MaxEntries, maxBytes: cfg.MaxBytes}
}

// Key computes the deterministic cache fingerprint for a coaching line.
func Key(text, coachID string, urgency models.Urgency) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d", text, coachID, urgency, Version)
	return hex.EncodeToString(h.Sum(nil))
}

// Get looks up a cached voice line. A hit refreshes last_used and use_count.
// Entries whose backing file is missing are purged and reported as a miss,
// never served.
func (c *Cache) Get(key string) (*models.VoiceLine, error) {
	v, err := c.store.GetVoiceLine(key)
	if err != nil {
		return nil, fmt.Errorf("cache lookup failed: %w", err)
	}
	if v == nil {
		metrics.CacheMisses.Inc()
		slog.Debug("Cache miss", "cacheKey", key)
		return nil, nil
	}

	if _, err := os.Stat(v.FilePath); err != nil {
		slog.Warn("Cache entry backing file missing, purging", "cacheKey", key, "path", v.FilePath)
		if delErr := c.store.DeleteVoiceLine(key); delErr != nil {
			slog.Error("Failed to purge invalid cache entry", "error", delErr, "cacheKey", key)
		}
		metrics.CacheMisses.Inc()
		return nil, nil
	}

	now := time.Now()
	if err := c.store.TouchVoiceLine(key, now); err != nil {
		slog.Error("Failed to refresh cache entry", "error", err, "cacheKey", key)
	}
	v.LastUsedAt = now
	v.UseCount++
	metrics.CacheHits.Inc()
	slog.Debug("Cache hit", "cacheKey", key, "useCount", v.UseCount)
	return v, nil
}

// Put records a newly synthesized voice line and evicts if over capacity.
// File size, checksum, and duration are filled from the backing file when
// not already set.
func (c *Cache) Put(v models.VoiceLine) error {
	info, err := os.Stat(v.FilePath)
	if err != nil {
		return fmt.Errorf("cache put: backing file unreadable: %w", err)
	}
	if v.FileSize == 0 {
		v.FileSize = info.Size()
	}
	if v.Checksum == "" {
		sum, err := fileChecksum(v.FilePath)
		if err != nil {
			slog.Warn("Failed to checksum cached audio", "error", err, "path", v.FilePath)
		} else {
			v.Checksum = sum
		}
	}
	if v.Duration == 0 {
		if dur, err := audio.Duration(v.FilePath); err == nil {
			v.Duration = dur
		}
	}
	now := time.Now()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	if v.LastUsedAt.IsZero() {
		v.LastUsedAt = now
	}

	if err := c.store.SaveVoiceLine(v); err != nil {
		return fmt.Errorf("cache put failed: %w", err)
	}
	slog.Debug("Cache put", "cacheKey", v.CacheKey, "size", v.FileSize, "duration", v.Duration)
	return c.EvictIfOverCapacity()
}

// EvictIfOverCapacity removes entries oldest-first by last_used until both the
// entry count and total byte size bounds are satisfied.
func (c *Cache) EvictIfOverCapacity() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	count, bytes, err := c.store.VoiceLineTotals()
	if err != nil {
		return fmt.Errorf("eviction totals failed: %w", err)
	}
	if count <= c.maxEntries && bytes <= c.maxBytes {
		return nil
	}

	lines, err := c.store.ListVoiceLinesByLastUsed()
	if err != nil {
		return fmt.Errorf("eviction listing failed: %w", err)
	}
	evicted := 0
	for _, v := range lines {
		if count <= c.maxEntries && bytes <= c.maxBytes {
			break
		}
		if err := c.store.DeleteVoiceLine(v.CacheKey); err != nil {
			slog.Error("Eviction delete failed", "error", err, "cacheKey", v.CacheKey)
			return err
		}
		if err := os.Remove(v.FilePath); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove evicted audio file", "error", err, "path", v.FilePath)
		}
		count--
		bytes -= v.FileSize
		evicted++
		metrics.CacheEvictions.Inc()
	}
	slog.Info("Cache eviction completed", "evicted", evicted, "entries", count, "bytes", bytes)
	return nil
}

// Clear removes all entries and their backing files.
//
// Index records are deleted before the files, so a read that already resolved
// its file path either finishes playback against the still-open file or hits
// a missing-file error that the pipeline treats as a cache miss.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines, err := c.store.ListVoiceLinesByLastUsed()
	if err != nil {
		return fmt.Errorf("cache clear listing failed: %w", err)
	}
	if err := c.store.ClearVoiceLines(); err != nil {
		return fmt.Errorf("cache clear failed: %w", err)
	}
	for _, v := range lines {
		if err := os.Remove(v.FilePath); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove cached audio file", "error", err, "path", v.FilePath)
		}
	}
	slog.Info("Cache cleared", "removed", len(lines))
	return nil
}

// Sweep purges index entries whose backing files have vanished, then runs
// capacity eviction. Invoked periodically by the maintenance scheduler.
func (c *Cache) Sweep() error {
	lines, err := c.store.ListVoiceLinesByLastUsed()
	if err != nil {
		return fmt.Errorf("cache sweep listing failed: %w", err)
	}
	purged := 0
	for _, v := range lines {
		if _, err := os.Stat(v.FilePath); err == nil {
			continue
		}
		if err := c.store.DeleteVoiceLine(v.CacheKey); err != nil {
			slog.Error("Cache sweep delete failed", "error", err, "cacheKey", v.CacheKey)
			continue
		}
		purged++
	}
	if purged > 0 {
		slog.Info("Cache sweep purged invalid entries", "purged", purged)
	}
	return c.EvictIfOverCapacity()
}

// fileChecksum computes the hex SHA-256 of a file's contents.
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
