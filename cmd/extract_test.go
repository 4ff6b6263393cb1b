package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"imageocr/internal/cache"
	"imageocr/pkg/models"
)

func TestFormatText(t *testing.T) {
	single := formatText([]models.ExtractionResult{{Success: true, Text: "hello", Filename: "a.png"}})
	if single != "hello" {
		t.Errorf("single = %q", single)
	}

	many := formatText([]models.ExtractionResult{
		{Success: true, Text: "hello", Filename: "a.png"},
		{Success: false, Message: "No text detected in image", Filename: "b.png"},
	})
	want := "=== a.png ===\nhello\n\n=== b.png ===\n[failed] No text detected in image\n"
	if many != want {
		t.Errorf("many = %q, want %q", many, want)
	}
}

func TestCacheKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.png")
	if err := os.WriteFile(path, []byte("pixels"), 0o644); err != nil {
		t.Fatal(err)
	}

	key, err := cacheKey(path)
	if err != nil || key != cache.Key([]byte("pixels")) {
		t.Errorf("cacheKey(file) = %q, %v", key, err)
	}

	hash := strings.Repeat("ab", 32)
	if key, err := cacheKey(hash); err != nil || key != hash {
		t.Errorf("cacheKey(hash) = %q, %v", key, err)
	}

	if _, err := cacheKey("../../etc/passwd-not-here"); err == nil {
		t.Error("expected an error for a path that is neither a file nor a hash")
	}
}
