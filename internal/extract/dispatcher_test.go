package extract

import (
	"context"
	"image"
	"os"
	"strings"
	"testing"
	"time"

	"imageocr/internal/cache"
	"imageocr/internal/ocr"
)

func TestFormatOf(t *testing.T) {
	tests := []struct {
		name string
		want Format
		ext  string
	}{
		{"scan.PNG", FormatImage, "png"},
		{"photo.jpeg", FormatImage, "jpeg"},
		{"clip.final.mkv", FormatVideo, "mkv"},
		{"report.pdf", FormatPDF, "pdf"},
		{"letter.docx", FormatDOCX, "docx"},
		{"old.xls", FormatExcel, "xls"},
		{"data.csv", FormatText, "csv"},
		{"archive.tar.gz", FormatUnsupported, "gz"},
		{"README", FormatUnsupported, "readme"},
	}
	for _, tt := range tests {
		got, ext := FormatOf(tt.name)
		if got != tt.want || ext != tt.ext {
			t.Errorf("FormatOf(%q) = %v, %q; want %v, %q", tt.name, got, ext, tt.want, tt.ext)
		}
	}
}

func TestImageExtractedAndCached(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	content := scannedPage(t)

	res := h.dispatcher.Extract(context.Background(), content, "scan.png")
	if !res.Success {
		t.Fatalf("Extract failed: %s", res.Message)
	}
	if res.Message != "Text extracted successfully" {
		t.Errorf("message = %q", res.Message)
	}
	if res.Text != "Item total\nOCR ready" {
		t.Errorf("text = %q", res.Text)
	}

	cached, ok, err := h.cache.Get(context.Background(), cache.Key(content))
	if err != nil || !ok || cached != res.Text {
		t.Fatalf("cache entry = %q, %v, %v", cached, ok, err)
	}
}

func TestImageCacheHitSkipsPrimary(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	content := scannedPage(t)

	first := h.dispatcher.Extract(context.Background(), content, "scan.png")
	second := h.dispatcher.Extract(context.Background(), content, "again.png")

	if !second.Success || second.Text != first.Text {
		t.Fatalf("second result = %+v, want text %q", second, first.Text)
	}
	if second.Message != "Text extracted from cache" || !second.Cached {
		t.Errorf("second result not served from cache: %+v", second)
	}
	if n := h.primary.calls.Load(); n != 1 {
		t.Errorf("primary engine called %d times, want 1", n)
	}
}

func TestImageCacheDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.CacheEnabled = false
	h := newHarness(t, opts)
	content := scannedPage(t)

	h.dispatcher.Extract(context.Background(), content, "scan.png")
	h.dispatcher.Extract(context.Background(), content, "scan.png")
	if n := h.primary.calls.Load(); n != 2 {
		t.Errorf("primary engine called %d times, want 2", n)
	}
}

func TestBlankImageRejected(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	content := encodePNG(t, textImage(10, 10, 1))

	res := h.dispatcher.Extract(context.Background(), content, "blank.png")
	if res.Success {
		t.Fatal("blank image should fail")
	}
	if !strings.Contains(res.Message, "low contrast") && !strings.Contains(res.Message, "resolution too low") {
		t.Errorf("message = %q", res.Message)
	}
	if h.primary.calls.Load() != 0 {
		t.Error("primary engine ran on a rejected image")
	}
}

func TestInvalidImage(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	res := h.dispatcher.Extract(context.Background(), []byte("not an image"), "broken.jpg")
	if res.Success || !strings.HasPrefix(res.Message, "Invalid image file: ") {
		t.Fatalf("result = %+v", res)
	}
}

func TestNoTextDetected(t *testing.T) {
	tests := []struct {
		name  string
		lines []ocr.TextLine
		want  string
	}{
		{"empty", nil, "No text detected in image"},
		{"degenerate", []ocr.TextLine{{Box: image.Rect(0, 0, 3, 3), Text: "x", Confidence: 1}}, "No valid text found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, DefaultOptions())
			h.primary.lines = tt.lines
			res := h.dispatcher.Extract(context.Background(), scannedPage(t), "scan.png")
			if res.Success || res.Message != tt.want {
				t.Fatalf("result = %+v, want message %q", res, tt.want)
			}
		})
	}
}

func TestPanicIsContained(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.primary.panic = true

	res := h.dispatcher.Extract(context.Background(), scannedPage(t), "scan.png")
	if res.Success || !strings.Contains(res.Message, "detector exploded") {
		t.Fatalf("result = %+v", res)
	}
}

func TestTimeout(t *testing.T) {
	opts := DefaultOptions()
	opts.Timeout = 50 * time.Millisecond
	h := newHarness(t, opts)
	h.primary.block = true

	res := h.dispatcher.Extract(context.Background(), scannedPage(t), "scan.png")
	if res.Success || !strings.HasPrefix(res.Message, "Processing timed out") {
		t.Fatalf("result = %+v", res)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	res := h.dispatcher.Extract(context.Background(), []byte("x"), "notes.xyz")
	if res.Success || res.Message != "Unsupported file type: xyz" {
		t.Fatalf("result = %+v", res)
	}
}

func TestFileTooLarge(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxFileSize = 10
	h := newHarness(t, opts)
	res := h.dispatcher.Extract(context.Background(), []byte("eleven byte"), "a.txt")
	if res.Success || !strings.HasPrefix(res.Message, "File too large") {
		t.Fatalf("result = %+v", res)
	}
}

func TestEveryFormatYieldsResult(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	for _, ext := range SupportedExtensions() {
		res := h.dispatcher.Extract(context.Background(), []byte("definitely not a real document"), "file."+ext)
		if !res.Success && res.Message == "" {
			t.Errorf("%s: failure without message", ext)
		}
		if res.Filename != "file."+ext || res.Format == "" {
			t.Errorf("%s: metadata missing: %+v", ext, res)
		}
	}
}

func TestVideoFramesAndCleanup(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.sampler.duration = 3 * time.Second
	h.page.texts = []string{"Frame one", "   ", "Frame three"}

	res := h.dispatcher.Extract(context.Background(), []byte("fake mp4 bytes"), "clip.mp4")
	if !res.Success {
		t.Fatalf("Extract failed: %s", res.Message)
	}
	if res.Message != "Extracted text from 2 video frames" {
		t.Errorf("message = %q", res.Message)
	}
	if res.Text != "Frame one\n\nFrame three" {
		t.Errorf("text = %q", res.Text)
	}
	if len(h.sampler.paths) != 1 {
		t.Fatalf("sampler saw %d paths", len(h.sampler.paths))
	}
	if _, err := os.Stat(h.sampler.paths[0]); !os.IsNotExist(err) {
		t.Errorf("temporary video not removed: %v", err)
	}
}

func TestBatchPreservesOrder(t *testing.T) {
	opts := DefaultOptions()
	opts.Workers = 3
	h := newHarness(t, opts)

	docs := []Document{
		{Filename: "a.txt", Content: []byte("alpha")},
		{Filename: "b.xyz", Content: []byte("beta")},
		{Filename: "c.csv", Content: []byte("gamma")},
		{Filename: "d.txt", Content: []byte("delta")},
	}
	results := h.dispatcher.ExtractBatch(context.Background(), docs)
	if len(results) != len(docs) {
		t.Fatalf("got %d results", len(results))
	}
	for i, doc := range docs {
		if results[i].Filename != doc.Filename {
			t.Errorf("result %d is for %q, want %q", i, results[i].Filename, doc.Filename)
		}
	}
	if results[1].Success {
		t.Error("unsupported document should fail")
	}
	if results[3].Text != "delta" {
		t.Errorf("text = %q", results[3].Text)
	}
}
