// Package cache stores extracted text keyed by a digest of the source bytes.
//
// Backends:
//   - file: one <key>.txt per entry plus a JSON index, shared safely between
//     processes through an advisory lock file
//   - redis: entries expire server-side
//   - memory: process-local, used by tests and short-lived runs
//
// Cache failures never fail an extraction; callers log them and treat the
// lookup as a miss.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	TypeFile   = "file"
	TypeRedis  = "redis"
	TypeMemory = "memory"
)

var (
	// ErrCacheIO is returned when a backend cannot read or write an entry.
	ErrCacheIO = errors.New("cache I/O failure")

	// ErrUnknownType is returned by Open for an unsupported backend type.
	ErrUnknownType = errors.New("unknown cache type")
)

// CacheError wraps errors with the cache operation that failed.
type CacheError struct {
	Op      string
	Key     string
	Err     error
	Details string
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	msg := fmt.Sprintf("cache: %s failed", e.Op)
	if e.Key != "" {
		msg += fmt.Sprintf(" for %s", e.Key)
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

// Unwrap returns the underlying error.
func (e *CacheError) Unwrap() error {
	return e.Err
}

// Is reports whether the underlying error matches target.
func (e *CacheError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func ioError(op, key string, err error) error {
	return &CacheError{Op: op, Key: key, Err: ErrCacheIO, Details: err.Error()}
}

// Cache maps content keys to extracted text.
type Cache interface {
	// Get returns the text stored under key. ok is false on a miss or an expired entry.
	Get(ctx context.Context, key string) (text string, ok bool, err error)
	Set(ctx context.Context, key, text string) error
	Delete(ctx context.Context, key string) error
	// ClearExpired removes expired entries and reports how many were removed.
	ClearExpired(ctx context.Context) (int, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Type string
	Dir  string
	TTL  time.Duration

	RedisAddr     string
	RedisDB       int
	RedisPassword string
}

// Open creates the backend named by cfg.Type.
func Open(ctx context.Context, cfg Config) (Cache, error) {
	switch cfg.Type {
	case TypeFile, "":
		return NewFile(cfg.Dir, cfg.TTL)
	case TypeMemory:
		return NewMemory(cfg.TTL), nil
	case TypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, &CacheError{Op: "Open", Err: ErrCacheIO, Details: fmt.Sprintf("redis %s unreachable: %v", cfg.RedisAddr, err)}
		}
		return NewRedis(client, cfg.TTL), nil
	default:
		return nil, &CacheError{Op: "Open", Err: ErrUnknownType, Details: cfg.Type}
	}
}

// Key returns the hex SHA-256 digest of content.
func Key(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// expired reports whether an entry stored at storedAt is older than ttl.
func expired(storedAt, now time.Time, ttl time.Duration) bool {
	return now.Sub(storedAt) > ttl
}

// Nop is a Cache that never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) (string, bool, error) { return "", false, nil }
func (Nop) Set(context.Context, string, string) error         { return nil }
func (Nop) Delete(context.Context, string) error              { return nil }
func (Nop) ClearExpired(context.Context) (int, error)         { return 0, nil }
func (Nop) Close() error                                      { return nil }
