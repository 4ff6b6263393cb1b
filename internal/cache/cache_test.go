package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestKey(t *testing.T) {
	a, b := Key([]byte("same bytes")), Key([]byte("same bytes"))
	if a != b {
		t.Fatalf("Key not deterministic: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("Key length = %d, want 64 hex chars", len(a))
	}
	if Key([]byte("other bytes")) == a {
		t.Error("different content produced the same key")
	}
}

func backends(t *testing.T, ttl time.Duration) map[string]Cache {
	t.Helper()
	f, err := NewFile(t.TempDir(), ttl)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	mr := miniredis.RunT(t)
	return map[string]Cache{
		"file":   f,
		"memory": NewMemory(ttl),
		"redis":  NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), ttl),
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t, time.Hour) {
		t.Run(name, func(t *testing.T) {
			defer c.Close()
			key := Key([]byte(name))

			if _, ok, err := c.Get(ctx, key); ok || err != nil {
				t.Fatalf("Get on empty cache = %v, %v", ok, err)
			}
			if err := c.Set(ctx, key, "Hello\nWorld"); err != nil {
				t.Fatalf("Set: %v", err)
			}
			text, ok, err := c.Get(ctx, key)
			if err != nil || !ok || text != "Hello\nWorld" {
				t.Fatalf("Get = %q, %v, %v", text, ok, err)
			}
			if err := c.Delete(ctx, key); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := c.Get(ctx, key); ok {
				t.Fatal("entry still present after Delete")
			}
		})
	}
}

func TestFileExpiry(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	clk := newClock()

	c, err := NewFile(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	c.now = clk.now

	if err := c.Set(ctx, "k", "text"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	clk.advance(time.Hour)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("entry aged exactly ttl should still hit")
	}

	clk.advance(time.Second)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expired entry should miss")
	}
	if _, err := os.Stat(filepath.Join(dir, "k.txt")); !os.IsNotExist(err) {
		t.Errorf("expired text file not removed: %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("index still has %d entries", c.Len())
	}
}

func TestClearExpired(t *testing.T) {
	ctx := context.Background()
	clk := newClock()

	f, err := NewFile(t.TempDir(), time.Minute)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	f.now = clk.now
	m := NewMemory(time.Minute)
	m.now = clk.now

	for name, c := range map[string]Cache{"file": f, "memory": m} {
		c.Set(ctx, "old", "a")
		clk.advance(2 * time.Minute)
		c.Set(ctx, "new", "b")

		n, err := c.ClearExpired(ctx)
		if err != nil || n != 1 {
			t.Errorf("%s: ClearExpired = %d, %v; want 1", name, n, err)
		}
		if _, ok, _ := c.Get(ctx, "new"); !ok {
			t.Errorf("%s: fresh entry removed", name)
		}
	}
}

func TestFilePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c, err := NewFile(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if err := c.Set(ctx, "k", "persisted"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewFile(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	text, ok, err := reopened.Get(ctx, "k")
	if err != nil || !ok || text != "persisted" {
		t.Fatalf("Get after reopen = %q, %v, %v", text, ok, err)
	}
}

func TestFileReadsStoredPaths(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	abs := filepath.Join(dir, "abs.txt")
	rel := filepath.Join(dir, "rel.txt")
	for path, text := range map[string]string{abs: "absolute entry", rel: "relative entry"} {
		if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	stamp := unixSeconds(time.Now())
	index := fmt.Sprintf(`{
  "abs": {"timestamp": %f, "file": %q},
  "rel": {"timestamp": %f, "file": %q}
}`, stamp, abs, stamp, filepath.Join(".ocr_cache", "rel.txt"))
	if err := os.WriteFile(filepath.Join(dir, indexFile), []byte(index), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := NewFile(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	tests := []struct {
		key  string
		want string
	}{
		{"abs", "absolute entry"},
		{"rel", "relative entry"},
	}
	for _, tt := range tests {
		text, ok, err := c.Get(ctx, tt.key)
		if err != nil || !ok || text != tt.want {
			t.Errorf("Get(%q) = %q, %v, %v; want %q hit", tt.key, text, ok, err, tt.want)
		}
	}

	if err := c.Delete(ctx, "abs"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(abs); !os.IsNotExist(err) {
		t.Errorf("absolute text file still present after Delete: %v", err)
	}
}

func TestFileConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	const writers, perWriter = 4, 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		c, err := NewFile(dir, time.Hour)
		if err != nil {
			t.Fatalf("NewFile: %v", err)
		}
		wg.Add(1)
		go func(w int, c *File) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := c.Set(ctx, fmt.Sprintf("w%d-%d", w, i), "x"); err != nil {
					errs <- err
					return
				}
			}
		}(w, c)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Set: %v", err)
	}

	check, err := NewFile(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if check.Len() != writers*perWriter {
		t.Fatalf("index has %d entries, want %d", check.Len(), writers*perWriter)
	}
}

func TestFileCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, indexFile), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := NewFile(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if _, ok, err := c.Get(context.Background(), "k"); ok || err != nil {
		t.Fatalf("Get = %v, %v; want clean miss", ok, err)
	}
}

func TestRedisExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	defer c.Close()

	if err := c.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl := mr.TTL(redisKey("k")); ttl != time.Minute {
		t.Errorf("server TTL = %v, want 1m", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expired redis entry should miss")
	}
}

func TestRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	mr.Close()

	_, ok, err := c.Get(context.Background(), "k")
	if ok || !errors.Is(err, ErrCacheIO) {
		t.Fatalf("Get = %v, %v; want ErrCacheIO", ok, err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	tests := []struct {
		cfg     Config
		wantErr error
	}{
		{Config{Type: TypeFile, Dir: t.TempDir(), TTL: time.Hour}, nil},
		{Config{Type: TypeMemory, TTL: time.Hour}, nil},
		{Config{Type: TypeRedis, RedisAddr: mr.Addr(), TTL: time.Hour}, nil},
		{Config{Type: "memcached"}, ErrUnknownType},
	}
	for _, tt := range tests {
		c, err := Open(ctx, tt.cfg)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("Open(%s) err = %v, want %v", tt.cfg.Type, err, tt.wantErr)
			continue
		}
		if c != nil {
			c.Close()
		}
	}
}
