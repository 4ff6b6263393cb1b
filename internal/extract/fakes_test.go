package extract

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"imageocr/internal/cache"
	"imageocr/internal/imgproc"
	"imageocr/internal/ocr"
	"imageocr/internal/preprocess"
	"imageocr/internal/quality"
)

type fakeDetector struct {
	lines []ocr.TextLine
	err   error
	calls atomic.Int32
	panic bool
	block bool
}

func (f *fakeDetector) Name() string { return "fake-primary" }

func (f *fakeDetector) Detect(ctx context.Context, _ *imgproc.Frame) ([]ocr.TextLine, error) {
	f.calls.Add(1)
	if f.panic {
		panic("detector exploded")
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return append([]ocr.TextLine(nil), f.lines...), f.err
}

type fakeRecognizer struct {
	mu    sync.Mutex
	texts []string
	calls int
}

func (f *fakeRecognizer) Name() string { return "fake-page" }

// Recognize returns texts in order and then repeats the last one.
func (f *fakeRecognizer) Recognize(_ context.Context, _ *imgproc.Frame) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return "", errors.New("no text scripted")
	}
	i := min(f.calls, len(f.texts)-1)
	f.calls++
	return f.texts[i], nil
}

type fakeSampler struct {
	duration time.Duration
	paths    []string
}

func (s *fakeSampler) Duration(_ context.Context, path string) (time.Duration, error) {
	s.paths = append(s.paths, path)
	return s.duration, nil
}

func (s *fakeSampler) FrameAt(_ context.Context, _ string, at time.Duration) (image.Image, error) {
	if at >= s.duration {
		return nil, ErrNoFrame
	}
	return textImage(40, 20, 1, "frame"), nil
}

type fakeRasterizer struct {
	calls [][2]int
}

func (r *fakeRasterizer) Rasterize(_ context.Context, _ []byte, first, last int) ([]image.Image, error) {
	r.calls = append(r.calls, [2]int{first, last})
	images := make([]image.Image, 0, last-first+1)
	for p := first; p <= last; p++ {
		images = append(images, textImage(60, 30, 1, "page"))
	}
	return images, nil
}

// textImage draws lines of text on white at (w,h) and scales it by scale.
func textImage(w, h, scale int, lines ...string) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	d := &font.Drawer{Dst: img, Src: image.Black, Face: basicfont.Face7x13}
	for i, line := range lines {
		d.Dot = fixed.P(8, 16+i*18)
		d.DrawString(line)
	}
	if scale == 1 {
		return img
	}
	return imaging.Resize(img, w*scale, h*scale, imaging.NearestNeighbor)
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

// scannedPage is a sharp, high-contrast, 800x600 image of printed text.
func scannedPage(t *testing.T) []byte {
	return encodePNG(t, textImage(200, 150, 4, "Item total", "OCR ready", "Item total"))
}

func newPipeline(primary ocr.Detector, secondary ocr.Recognizer) *ImagePipeline {
	pre := preprocess.New(preprocess.Options{BlurThreshold: quality.DefaultBlurThreshold}, nil)
	fusion := ocr.NewFusionMerger(secondary, ocr.DefaultConfidenceThreshold, preprocess.PrepareCrop)
	return NewImagePipeline(pre, quality.NewValidator(), primary, fusion)
}

type harness struct {
	dispatcher *Dispatcher
	primary    *fakeDetector
	page       *fakeRecognizer
	sampler    *fakeSampler
	raster     *fakeRasterizer
	cache      *cache.Memory
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		primary: &fakeDetector{lines: []ocr.TextLine{
			{Box: image.Rect(20, 20, 300, 60), Text: "I1em total", Confidence: 0.95},
			{Box: image.Rect(20, 80, 300, 120), Text: "0CR ready", Confidence: 0.90},
			{Box: image.Rect(20, 140, 300, 180), Text: "I1em total", Confidence: 0.92},
		}},
		page:    &fakeRecognizer{texts: []string{"Scanned invoice 42"}},
		sampler: &fakeSampler{},
		raster:  &fakeRasterizer{},
		cache:   cache.NewMemory(time.Hour),
	}
	if opts.TempDir == "" {
		opts.TempDir = t.TempDir()
	}
	h.dispatcher = New(opts, Deps{
		Image:      newPipeline(h.primary, &fakeRecognizer{texts: []string{"unused"}}),
		Page:       h.page,
		Sampler:    h.sampler,
		Rasterizer: h.raster,
		Cache:      h.cache,
	})
	return h
}
