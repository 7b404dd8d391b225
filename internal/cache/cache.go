// Package cache is a size-bounded, TTL-expiring file cache used to persist
// embedding vectors across runs.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kyleking/askdb/internal/config"
)

// ErrMiss is returned by Get when the key is absent or expired
var ErrMiss = errors.New("cache miss")

// Cache is a byte-oriented key/value cache
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Cleanup(ctx context.Context) error
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Entry is the metadata stored next to each data file
type Entry struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Size      int64     `json:"size"`
}

// Stats represents cache statistics
type Stats struct {
	TotalEntries int64   `json:"total_entries"`
	TotalSize    int64   `json:"total_size"`
	HitRate      float64 `json:"hit_rate"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
}

// FileCache stores each entry as <hash>.data plus <hash>.meta
type FileCache struct {
	directory   string
	maxBytes    int64
	defaultTTL  time.Duration
	mu          sync.RWMutex
	hits        atomic.Int64
	misses      atomic.Int64
	stopCleanup chan struct{}
	cleanupOnce sync.Once
	wg          sync.WaitGroup
}

// NewFileCache creates a cache in directory. A positive cleanupFreq starts
// a background sweep of expired entries that runs until Close.
func NewFileCache(directory string, maxSizeMB int, defaultTTL, cleanupFreq time.Duration) (*FileCache, error) {
	directory, err := expandHome(directory)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &FileCache{
		directory:   directory,
		maxBytes:    int64(maxSizeMB) * 1024 * 1024,
		defaultTTL:  defaultTTL,
		stopCleanup: make(chan struct{}),
	}

	if cleanupFreq > 0 {
		c.wg.Add(1)

		go c.backgroundCleanup(cleanupFreq)
	}

	return c, nil
}

// NewFileCacheFromConfig builds a cache from the cache config section.
// Embedding vectors live under <directory>/embeddings.
func NewFileCacheFromConfig(cfg config.CacheConfig) (*FileCache, error) {
	return NewFileCache(
		filepath.Join(cfg.Directory, "embeddings"),
		cfg.MaxSizeMB,
		time.Duration(cfg.TTLHours)*time.Hour,
		config.Duration(cfg.CleanupFreq, time.Hour),
	)
}

// Get retrieves data from cache; absent or expired keys return ErrMiss
func (c *FileCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	entry, data, err := c.read(key)
	c.mu.RUnlock()

	if err != nil {
		c.misses.Add(1)
		return nil, err
	}

	if time.Now().After(entry.ExpiresAt) {
		c.misses.Add(1)
		_ = c.Delete(ctx, key)

		return nil, ErrMiss
	}

	c.hits.Add(1)

	return data, nil
}

func (c *FileCache) read(key string) (Entry, []byte, error) {
	var entry Entry

	metaData, err := os.ReadFile(c.path(key, ".meta"))
	if errors.Is(err, os.ErrNotExist) {
		return entry, nil, ErrMiss
	}

	if err != nil {
		return entry, nil, fmt.Errorf("failed to read cache metadata: %w", err)
	}

	if err := json.Unmarshal(metaData, &entry); err != nil {
		return entry, nil, fmt.Errorf("failed to parse cache metadata: %w", err)
	}

	// Hash prefixes can collide; the full key lives in the metadata
	if entry.Key != key {
		return entry, nil, ErrMiss
	}

	data, err := os.ReadFile(c.path(key, ".data"))
	if err != nil {
		return entry, nil, ErrMiss
	}

	return entry, data, nil
}

// Set stores data with ttl, or the default TTL when ttl is zero
func (c *FileCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ttl == 0 {
		ttl = c.defaultTTL
	}

	now := time.Now()
	entry := Entry{Key: key, CreatedAt: now, ExpiresAt: now.Add(ttl), Size: int64(len(data))}

	metaData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache metadata: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.evict(entry.Size); err != nil {
		return fmt.Errorf("failed to enforce cache size: %w", err)
	}

	if err := os.WriteFile(c.path(key, ".data"), data, 0600); err != nil {
		return fmt.Errorf("failed to write cache data: %w", err)
	}

	if err := os.WriteFile(c.path(key, ".meta"), metaData, 0600); err != nil {
		_ = os.Remove(c.path(key, ".data"))
		return fmt.Errorf("failed to write cache metadata: %w", err)
	}

	return nil
}

// Delete removes an entry; deleting a missing key is not an error
func (c *FileCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.remove(c.name(key))

	return nil
}

// Clear removes every entry and resets hit statistics
func (c *FileCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	files, err := c.list()
	if err != nil {
		return err
	}

	for _, f := range files {
		c.remove(f.name)
	}

	c.hits.Store(0)
	c.misses.Store(0)

	return nil
}

// Cleanup removes expired entries
func (c *FileCache) Cleanup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	files, err := c.list()
	if err != nil {
		return err
	}

	now := time.Now()

	for _, f := range files {
		metaData, err := os.ReadFile(filepath.Join(c.directory, f.name+".meta"))
		if err != nil {
			continue
		}

		var entry Entry
		if json.Unmarshal(metaData, &entry) == nil && now.After(entry.ExpiresAt) {
			c.remove(f.name)
		}
	}

	return nil
}

// Stats returns entry counts, size and hit rates
func (c *FileCache) Stats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	files, err := c.list()
	c.mu.RUnlock()

	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalEntries: int64(len(files)),
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
	}

	for _, f := range files {
		stats.TotalSize += f.size
	}

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}

	return stats, nil
}

// Close stops the background cleanup goroutine and waits for it to exit
func (c *FileCache) Close() error {
	c.cleanupOnce.Do(func() {
		close(c.stopCleanup)
	})
	c.wg.Wait()

	return nil
}

type cachedFile struct {
	name    string
	modTime time.Time
	size    int64
}

// list returns one record per entry; callers hold mu
func (c *FileCache) list() ([]cachedFile, error) {
	dirEntries, err := os.ReadDir(c.directory)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	var files []cachedFile

	for _, d := range dirEntries {
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".data") {
			continue
		}

		info, err := d.Info()
		if err != nil {
			continue
		}

		files = append(files, cachedFile{
			name:    strings.TrimSuffix(d.Name(), ".data"),
			modTime: info.ModTime(),
			size:    info.Size(),
		})
	}

	return files, nil
}

// evict removes the oldest entries until incoming bytes fit; callers hold mu
func (c *FileCache) evict(incoming int64) error {
	if c.maxBytes <= 0 {
		return nil
	}

	files, err := c.list()
	if err != nil {
		return err
	}

	var used int64
	for _, f := range files {
		used += f.size
	}

	if used+incoming <= c.maxBytes {
		return nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	for _, f := range files {
		if used+incoming <= c.maxBytes {
			break
		}

		c.remove(f.name)
		used -= f.size
	}

	return nil
}

func (c *FileCache) remove(name string) {
	_ = os.Remove(filepath.Join(c.directory, name+".data"))
	_ = os.Remove(filepath.Join(c.directory, name+".meta"))
}

func (c *FileCache) name(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:32]
}

func (c *FileCache) path(key, ext string) string {
	return filepath.Join(c.directory, c.name(key)+ext)
}

func (c *FileCache) backgroundCleanup(every time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.Cleanup(context.Background())
		case <-c.stopCleanup:
			return
		}
	}
}

func expandHome(dir string) (string, error) {
	if !strings.HasPrefix(dir, "~/") {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, dir[2:]), nil
}
