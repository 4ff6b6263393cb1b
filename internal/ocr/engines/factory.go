// Package engines builds the recognition engines named by configuration.
package engines

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"imageocr/internal/logger"
	"imageocr/internal/ocr"
	"imageocr/internal/ocr/docai"
	"imageocr/internal/ocr/tesseract"
	"imageocr/internal/ocr/vision"
	"imageocr/internal/preprocess"
)

const (
	PrimaryTesseract = "tesseract"
	PrimaryVision    = "vision"

	PDFBackendTesseract  = "tesseract"
	PDFBackendDocumentAI = "documentai"
)

// Config selects and tunes the engines. Fields are used as given; start
// from DefaultConfig for the stock tuning.
type Config struct {
	Primary             string
	PDFBackend          string
	Languages           []string
	ConfidenceThreshold float64
	Policy              ocr.Policy
	DocumentAI          docai.Config
}

// DefaultConfig returns local tesseract engines with the stock fusion tuning.
func DefaultConfig() Config {
	return Config{
		Primary:             PrimaryTesseract,
		PDFBackend:          PDFBackendTesseract,
		Languages:           []string{"eng"},
		ConfidenceThreshold: ocr.DefaultConfidenceThreshold,
		Policy:              ocr.DefaultPolicy(),
	}
}

// Engines is the wired set of recognition engines.
type Engines struct {
	// Primary finds and reads text lines on a whole frame.
	Primary ocr.Detector
	// Secondary re-reads low-confidence region crops.
	Secondary ocr.Recognizer
	// Page reads whole video frames and rasterized PDF pages.
	Page ocr.Recognizer
	// PDF is set when a cloud backend transcribes scanned PDFs directly.
	PDF ocr.PageOCR
	// Fusion reconciles Primary lines with Secondary.
	Fusion *ocr.FusionMerger

	closers []io.Closer
	log     zerolog.Logger
}

// New creates the engines for cfg. Cloud clients are created only when selected.
func New(ctx context.Context, cfg Config) (*Engines, error) {
	const op = "engines.New"

	e := &Engines{log: logger.WithComponent("engines")}

	switch cfg.Primary {
	case "", PrimaryTesseract:
		e.Primary = tesseract.New("primary", tesseract.Config{Languages: cfg.Languages, PSM: tesseract.PSMAuto})
	case PrimaryVision:
		d, err := vision.New(ctx, cfg.Languages)
		if err != nil {
			return nil, err
		}
		e.Primary = d
		e.closers = append(e.closers, d)
	default:
		return nil, ocr.NewOCRError(op, ocr.ErrEngineNotConfigured, fmt.Sprintf("unknown primary engine %q", cfg.Primary))
	}

	e.Secondary = tesseract.New("secondary", tesseract.Config{Languages: cfg.Languages, PSM: tesseract.PSMSingleBlock})
	e.Page = tesseract.New("page", tesseract.Config{Languages: cfg.Languages, PSM: tesseract.PSMAuto})

	switch cfg.PDFBackend {
	case "", PDFBackendTesseract:
	case PDFBackendDocumentAI:
		p, err := docai.New(ctx, cfg.DocumentAI)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.PDF = p
		e.closers = append(e.closers, p)
	default:
		e.Close()
		return nil, ocr.NewOCRError(op, ocr.ErrEngineNotConfigured, fmt.Sprintf("unknown PDF OCR backend %q", cfg.PDFBackend))
	}

	e.Fusion = ocr.NewFusionMerger(e.Secondary, cfg.ConfidenceThreshold, preprocess.PrepareCrop)
	e.Fusion.Policy = cfg.Policy

	e.log.Info().
		Str("primary", e.Primary.Name()).
		Str("secondary", e.Secondary.Name()).
		Bool("document_ai", e.PDF != nil).
		Float64("threshold", cfg.ConfidenceThreshold).
		Msg("OCR engines ready")
	return e, nil
}

// Close releases cloud clients.
func (e *Engines) Close() error {
	var first error
	for _, c := range e.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	e.closers = nil
	return first
}
