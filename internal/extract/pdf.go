package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"imageocr/internal/imgproc"
	"imageocr/internal/ocr"
	"imageocr/internal/preprocess"
)

// TextSource reads the embedded text layer of a PDF, one string per page.
type TextSource interface {
	PageTexts(content []byte) ([]string, error)
}

// EmbeddedText reads PDF text with ledongthuc/pdf.
type EmbeddedText struct{}

// PageTexts returns the plain text of every page. Pages whose content cannot
// be parsed yield an empty string; a document that cannot be opened is an error.
func (EmbeddedText) PageTexts(content []byte) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, err
	}

	n := reader.NumPage()
	pages = make([]string, n)
	for i := 1; i <= n; i++ {
		pages[i-1] = pageText(reader, i)
	}
	return pages, nil
}

func pageText(reader *pdf.Reader, n int) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	page := reader.Page(n)
	if page.V.IsNull() {
		return ""
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return text
}

// Rasterizer renders PDF pages first..last (1-based, inclusive) to images.
type Rasterizer interface {
	Rasterize(ctx context.Context, content []byte, first, last int) ([]image.Image, error)
}

// PDFToPPM rasterizes pages with poppler's pdftoppm.
type PDFToPPM struct {
	Path    string
	DPI     int
	TempDir string
}

// Rasterize writes the document and the rendered pages to a scratch directory
// that is removed before returning.
func (r PDFToPPM) Rasterize(ctx context.Context, content []byte, first, last int) ([]image.Image, error) {
	bin := r.Path
	if bin == "" {
		bin = "pdftoppm"
	}
	dpi := r.DPI
	if dpi <= 0 {
		dpi = 200
	}

	dir, err := os.MkdirTemp(r.TempDir, "imageocr-pdf-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(input, content, 0o600); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, bin,
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", strconv.Itoa(first),
		"-l", strconv.Itoa(last),
		input, filepath.Join(dir, "page"))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	files, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return nil, err
	}
	// pdftoppm zero-pads page numbers to a common width, so names sort in page order.
	sort.Strings(files)

	images := make([]image.Image, 0, len(files))
	for _, f := range files {
		img, err := decodePNGFile(f)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

func decodePNGFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}

// RasterPageOCR implements ocr.PageOCR by rasterizing pages, enhancing each
// one and reading it with a Recognizer.
type RasterPageOCR struct {
	Rasterizer Rasterizer
	Recognizer ocr.Recognizer
}

// Name implements ocr.PageOCR.
func (r *RasterPageOCR) Name() string {
	return "raster+" + r.Recognizer.Name()
}

// OCRPages implements ocr.PageOCR.
func (r *RasterPageOCR) OCRPages(ctx context.Context, content []byte, first, last int) ([]string, error) {
	images, err := r.Rasterizer.Rasterize(ctx, content, first, last)
	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(images))
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		enhanced, err := preprocess.EnhanceFrame(imgproc.FromImage(img))
		if err != nil {
			return nil, err
		}
		text, err := r.Recognizer.Recognize(ctx, enhanced)
		if err != nil {
			return nil, err
		}
		texts = append(texts, text)
	}
	return texts, nil
}

// extractPDF prefers the embedded text layer and falls back to page OCR in
// batches of Options.PDFBatchSize when the whole layer is blank.
func (d *Dispatcher) extractPDF(ctx context.Context, doc document) (outcome, error) {
	pages, err := d.text.PageTexts(doc.content)
	if err != nil {
		return outcome{}, err
	}

	text := strings.TrimSpace(strings.Join(pages, "\n"))
	if text == "" && len(pages) > 0 {
		text, err = d.ocrPDF(ctx, doc.content, len(pages))
		if err != nil {
			return outcome{}, err
		}
	}

	return outcome{
		text:    text,
		message: fmt.Sprintf("Extracted text from %d PDF pages", len(pages)),
	}, nil
}

func (d *Dispatcher) ocrPDF(ctx context.Context, content []byte, total int) (string, error) {
	if d.pdfOCR == nil {
		return "", errors.New("no OCR backend configured for scanned PDFs")
	}

	batch := d.opts.PDFBatchSize
	var texts []string
	for first := 1; first <= total; first += batch {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		last := min(first+batch-1, total)
		pageTexts, err := d.pdfOCR.OCRPages(ctx, content, first, last)
		if err != nil {
			return "", err
		}
		for _, t := range pageTexts {
			if strings.TrimSpace(t) != "" {
				texts = append(texts, t)
			}
		}
		d.log.Debug().Str("backend", d.pdfOCR.Name()).Int("first", first).Int("last", last).Msg("PDF pages transcribed")
	}
	return strings.Join(texts, "\n"), nil
}
