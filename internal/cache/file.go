package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"imageocr/internal/logger"
)

const (
	indexFile = "cache_index.json"
	lockFile  = "cache_index.lock"

	lockRetryDelay = 10 * time.Millisecond
)

// indexEntry is one record of cache_index.json. Timestamp is in Unix seconds.
type indexEntry struct {
	Timestamp float64 `json:"timestamp"`
	File      string  `json:"file"`
}

func (e indexEntry) storedAt() time.Time {
	sec, frac := math.Modf(e.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// textPath resolves an entry's text file. Absolute paths are used as stored;
// relative ones, including the "<cache_dir>/<key>.txt" form older indexes
// record against the process working directory, resolve to their base name in dir.
func (c *File) textPath(e indexEntry) string {
	if filepath.IsAbs(e.File) {
		return e.File
	}
	return filepath.Join(c.dir, filepath.Base(e.File))
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// File is a directory-backed Cache. Every operation holds the in-process
// mutex and the cross-process lock file, and re-reads the index when another
// process has rewritten it.
type File struct {
	dir  string
	ttl  time.Duration
	lock *flock.Flock
	now  func() time.Time
	log  zerolog.Logger

	mu    sync.Mutex
	index map[string]indexEntry
	// indexStat is the index file as last read or written by this instance.
	indexStat fs.FileInfo
}

// NewFile opens or creates a cache in dir.
func NewFile(dir string, ttl time.Duration) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ioError("Open", "", err)
	}
	c := &File{
		dir:   dir,
		ttl:   ttl,
		lock:  flock.New(filepath.Join(dir, lockFile)),
		now:   time.Now,
		log:   logger.WithComponent("cache").With().Str("dir", dir).Logger(),
		index: make(map[string]indexEntry),
	}
	if err := c.locked(context.Background(), func() error { return nil }); err != nil {
		return nil, err
	}
	return c, nil
}

// locked runs fn with both locks held and a fresh index.
func (c *File) locked(ctx context.Context, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok, err := c.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return ioError("lock", "", err)
	}
	if !ok {
		return ioError("lock", "", errors.New("lock not acquired"))
	}
	defer c.lock.Unlock()

	if err := c.reload(); err != nil {
		return err
	}
	return fn()
}

func (c *File) indexPath() string {
	return filepath.Join(c.dir, indexFile)
}

// reload re-reads the index when the file was replaced or modified since indexStat.
// An unreadable index is logged and replaced by an empty one.
func (c *File) reload() error {
	info, err := os.Stat(c.indexPath())
	if errors.Is(err, fs.ErrNotExist) {
		c.index = make(map[string]indexEntry)
		c.indexStat = nil
		return nil
	}
	if err != nil {
		return ioError("reload", "", err)
	}
	if unchanged(c.indexStat, info) {
		return nil
	}

	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		return ioError("reload", "", err)
	}
	index := make(map[string]indexEntry)
	if err := json.Unmarshal(data, &index); err != nil {
		c.log.Warn().Err(err).Msg("Cache index unreadable, starting empty")
		index = make(map[string]indexEntry)
	}
	c.index = index
	c.indexStat = info
	return nil
}

func unchanged(prev, cur fs.FileInfo) bool {
	return prev != nil && os.SameFile(prev, cur) && prev.ModTime().Equal(cur.ModTime()) && prev.Size() == cur.Size()
}

// save writes the index atomically and records its new stat.
func (c *File) save() error {
	data, err := json.MarshalIndent(c.index, "", "  ")
	if err != nil {
		return ioError("save", "", err)
	}
	if err := writeAtomic(c.indexPath(), data); err != nil {
		return ioError("save", "", err)
	}
	if info, err := os.Stat(c.indexPath()); err == nil {
		c.indexStat = info
	}
	return nil
}

// writeAtomic replaces path with data through a temporary file in the same directory.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// remove drops key from the index and deletes its text file.
func (c *File) remove(key string) {
	e, ok := c.index[key]
	if !ok {
		return
	}
	if err := os.Remove(c.textPath(e)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to remove cached text")
	}
	delete(c.index, key)
}

func (c *File) Get(ctx context.Context, key string) (string, bool, error) {
	var text string
	var hit bool
	err := c.locked(ctx, func() error {
		e, ok := c.index[key]
		if !ok {
			return nil
		}
		if expired(e.storedAt(), c.now(), c.ttl) {
			c.remove(key)
			return c.save()
		}
		data, err := os.ReadFile(c.textPath(e))
		if errors.Is(err, fs.ErrNotExist) {
			delete(c.index, key)
			return c.save()
		}
		if err != nil {
			return ioError("Get", key, err)
		}
		text, hit = string(data), true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return text, hit, nil
}

func (c *File) Set(ctx context.Context, key, text string) error {
	return c.locked(ctx, func() error {
		name := key + ".txt"
		if err := writeAtomic(filepath.Join(c.dir, name), []byte(text)); err != nil {
			return ioError("Set", key, err)
		}
		c.index[key] = indexEntry{Timestamp: unixSeconds(c.now()), File: name}
		return c.save()
	})
}

func (c *File) Delete(ctx context.Context, key string) error {
	return c.locked(ctx, func() error {
		if _, ok := c.index[key]; !ok {
			return nil
		}
		c.remove(key)
		return c.save()
	})
}

func (c *File) ClearExpired(ctx context.Context) (int, error) {
	removed := 0
	err := c.locked(ctx, func() error {
		now := c.now()
		for key, e := range c.index {
			if expired(e.storedAt(), now, c.ttl) {
				c.remove(key)
				removed++
			}
		}
		if removed == 0 {
			return nil
		}
		return c.save()
	})
	if removed > 0 {
		c.log.Info().Int("removed", removed).Msg("Expired cache entries cleared")
	}
	return removed, err
}

// Close flushes the index.
func (c *File) Close() error {
	return c.locked(context.Background(), c.save)
}

// Len returns the number of indexed entries.
func (c *File) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}
