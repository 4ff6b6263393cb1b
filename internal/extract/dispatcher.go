// Package extract routes documents to the extraction strategy for their format
// and converts every outcome, including panics and timeouts, into a
// models.ExtractionResult.
package extract

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"imageocr/internal/cache"
	"imageocr/internal/logger"
	"imageocr/internal/ocr"
	"imageocr/pkg/models"
)

// Options tune the format branches.
type Options struct {
	CacheEnabled       bool
	VideoFrameInterval time.Duration
	PDFBatchSize       int
	ExcelChunkSize     int
	MaxFileSize        int64
	// Timeout bounds a single document; zero disables the deadline.
	Timeout time.Duration
	// Workers bounds ExtractBatch parallelism.
	Workers int
	// TempDir holds per-document scratch directories; empty means os.TempDir.
	TempDir string
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		CacheEnabled:       true,
		VideoFrameInterval: time.Second,
		PDFBatchSize:       5,
		ExcelChunkSize:     1000,
		MaxFileSize:        50 * 1024 * 1024,
		Timeout:            5 * time.Minute,
		Workers:            4,
	}
}

// Deps are the collaborators a Dispatcher needs. Cache, TextSource and PDFOCR
// are optional.
type Deps struct {
	Image *ImagePipeline
	// Page reads whole video frames and rasterized pages.
	Page    ocr.Recognizer
	Sampler FrameSampler
	// Text reads embedded PDF text; defaults to EmbeddedText.
	Text TextSource
	// PDFOCR transcribes scanned PDF pages. When nil, pages are rasterized
	// with Rasterizer and read with Page.
	PDFOCR     ocr.PageOCR
	Rasterizer Rasterizer
	Cache      cache.Cache
}

// Dispatcher extracts text from documents of any supported format.
type Dispatcher struct {
	opts   Options
	image  *ImagePipeline
	page   ocr.Recognizer
	frames FrameSampler
	text   TextSource
	pdfOCR ocr.PageOCR
	cache  cache.Cache
	log    zerolog.Logger
}

// New creates a Dispatcher.
func New(opts Options, deps Deps) *Dispatcher {
	defaults := DefaultOptions()
	if opts.VideoFrameInterval <= 0 {
		opts.VideoFrameInterval = defaults.VideoFrameInterval
	}
	if opts.PDFBatchSize <= 0 {
		opts.PDFBatchSize = defaults.PDFBatchSize
	}
	if opts.ExcelChunkSize <= 0 {
		opts.ExcelChunkSize = defaults.ExcelChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	d := &Dispatcher{
		opts:   opts,
		image:  deps.Image,
		page:   deps.Page,
		frames: deps.Sampler,
		text:   deps.Text,
		pdfOCR: deps.PDFOCR,
		cache:  deps.Cache,
		log:    logger.WithComponent("dispatcher"),
	}
	if d.text == nil {
		d.text = EmbeddedText{}
	}
	if d.cache == nil {
		d.cache = cache.Nop{}
	}
	if d.pdfOCR == nil && deps.Rasterizer != nil && deps.Page != nil {
		d.pdfOCR = &RasterPageOCR{Rasterizer: deps.Rasterizer, Recognizer: deps.Page}
	}
	return d
}

// document is one input of a branch.
type document struct {
	content  []byte
	filename string
	ext      string
	format   Format
}

// outcome is a successful branch result.
type outcome struct {
	text    string
	message string
	cached  bool
}

// Extract extracts text from content. It never panics and never returns an
// error: every failure is reported through a result with Success false.
func (d *Dispatcher) Extract(ctx context.Context, content []byte, filename string) (result models.ExtractionResult) {
	format, ext := FormatOf(filename)
	log := logger.WithDocument("dispatcher", filename, format.String())
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Extraction panicked")
			result = models.Failed(fmt.Sprintf("Unexpected error: %v", r))
		}
		result.Filename = filename
		result.Format = format.String()
	}()

	if format == FormatUnsupported {
		log.Warn().Str("ext", ext).Msg("Unsupported file type")
		return models.Failed(fmt.Sprintf("Unsupported file type: %s", ext))
	}
	if d.opts.MaxFileSize > 0 && int64(len(content)) > d.opts.MaxFileSize {
		log.Warn().Int("size", len(content)).Int64("max_size", d.opts.MaxFileSize).Msg("File exceeds size limit")
		return models.Failed(fmt.Sprintf("File too large: %d bytes (maximum %d bytes)", len(content), d.opts.MaxFileSize))
	}

	doc := document{content: content, filename: filename, ext: ext, format: format}
	out, err := d.runWithDeadline(ctx, doc)
	if err != nil {
		log.Error().Err(err).Str("kind", KindOf(err).String()).Dur("duration", time.Since(start)).Msg("Extraction failed")
		return models.Failed(messageFor(format, err))
	}

	log.Info().
		Bool("cached", out.cached).
		Int("text_length", len(out.text)).
		Dur("duration", time.Since(start)).
		Msg("Extraction completed")
	result = models.Succeeded(out.message, out.text)
	result.Cached = out.cached
	return result
}

type branchResult struct {
	out outcome
	err error
}

// runWithDeadline runs the branch in its own goroutine so that a deadline or
// cancellation returns promptly even while an engine call is still blocking.
func (d *Dispatcher) runWithDeadline(ctx context.Context, doc document) (outcome, error) {
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	done := make(chan branchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Str("file", doc.filename).Msg("Branch panicked")
				done <- branchResult{err: newError("Extract", KindInternal, ErrPanic, "Unexpected error: %v", r)}
			}
		}()
		out, err := d.branch(ctx, doc)
		done <- branchResult{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() != nil && !errors.As(r.err, new(*ExtractionError)) {
			return outcome{}, d.deadlineError(ctx)
		}
		return r.out, r.err
	case <-ctx.Done():
		return outcome{}, d.deadlineError(ctx)
	}
}

func (d *Dispatcher) deadlineError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError("Extract", KindTimeout, ErrTimeout, "Processing timed out after %s", d.opts.Timeout)
	}
	return newError("Extract", KindTimeout, ctx.Err(), "Processing canceled")
}

// branch is the per-format strategy table.
func (d *Dispatcher) branch(ctx context.Context, doc document) (outcome, error) {
	switch doc.format {
	case FormatImage:
		return d.extractImage(ctx, doc)
	case FormatVideo:
		return d.extractVideo(ctx, doc)
	case FormatPDF:
		return d.extractPDF(ctx, doc)
	case FormatDOCX:
		return extractDOCX(doc)
	case FormatExcel:
		return extractExcel(doc, d.opts.ExcelChunkSize)
	case FormatText:
		return extractText(doc)
	default:
		return outcome{}, newError("Extract", KindUnsupportedFormat, ErrUnsupportedFormat, "Unsupported file type: %s", doc.ext)
	}
}

// Document is a named input of ExtractBatch.
type Document struct {
	Filename string
	Content  []byte
}

// ExtractBatch extracts every document with at most Options.Workers running at
// once. Results are in input order.
func (d *Dispatcher) ExtractBatch(ctx context.Context, docs []Document) []models.ExtractionResult {
	results := make([]models.ExtractionResult, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)
	for i, doc := range docs {
		g.Go(func() error {
			results[i] = d.Extract(gctx, doc.Content, doc.Filename)
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	d.log.Info().Int("documents", len(docs)).Int("succeeded", succeeded).Int("workers", d.opts.Workers).Msg("Batch extraction finished")
	return results
}
