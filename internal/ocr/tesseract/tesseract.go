// Package tesseract runs the local Tesseract engine through gosseract.
//
// One Engine serves as the primary Detector (text-line boxes with confidence)
// and as a Recognizer for region crops, video frames and rasterized pages.
// gosseract clients are not safe for concurrent use, so every call creates and
// closes its own client.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog"

	"imageocr/internal/imgproc"
	"imageocr/internal/logger"
	"imageocr/internal/ocr"
)

// PageSegMode mirrors the tesseract --psm values used by the pipeline.
type PageSegMode = gosseract.PageSegMode

const (
	// PSMAuto lets tesseract segment the page.
	PSMAuto = gosseract.PSM_AUTO
	// PSMSingleBlock treats the image as one uniform block of text.
	PSMSingleBlock = gosseract.PSM_SINGLE_BLOCK
)

// Config configures an Engine.
type Config struct {
	Languages []string
	PSM       PageSegMode
	// Variables are passed to SetVariable (e.g. tessedit_char_whitelist).
	Variables map[string]string
}

// Engine implements ocr.Detector and ocr.Recognizer.
type Engine struct {
	name string
	cfg  Config
	log  zerolog.Logger
}

// New creates an engine. name distinguishes primary and secondary instances in logs.
func New(name string, cfg Config) *Engine {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	return &Engine{
		name: name,
		cfg:  cfg,
		log:  logger.WithComponent("tesseract").With().Str("engine", name).Logger(),
	}
}

// Name implements ocr.Detector and ocr.Recognizer.
func (e *Engine) Name() string {
	return e.name
}

func (e *Engine) client(frame *imgproc.Frame) (*gosseract.Client, error) {
	const op = "tesseract.client"

	var buf bytes.Buffer
	if err := png.Encode(&buf, frame.Image()); err != nil {
		return nil, ocr.WrapOCRError(op, ocr.ErrInvalidImage, err.Error())
	}

	c := gosseract.NewClient()
	if err := c.SetLanguage(e.cfg.Languages...); err != nil {
		c.Close()
		return nil, ocr.WrapOCRError(op, err, "failed to set languages")
	}
	if err := c.SetPageSegMode(e.cfg.PSM); err != nil {
		c.Close()
		return nil, ocr.WrapOCRError(op, err, "failed to set page segmentation mode")
	}
	for k, v := range e.cfg.Variables {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			c.Close()
			return nil, ocr.WrapOCRError(op, err, fmt.Sprintf("failed to set variable %s", k))
		}
	}
	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		c.Close()
		return nil, ocr.WrapOCRError(op, ocr.ErrInvalidImage, err.Error())
	}
	return c, nil
}

// Detect returns one TextLine per tesseract text line.
func (e *Engine) Detect(ctx context.Context, frame *imgproc.Frame) ([]ocr.TextLine, error) {
	const op = "tesseract.Detect"

	if err := ctx.Err(); err != nil {
		return nil, ocr.WrapOCRError(op, ocr.ErrContextCanceled, err.Error())
	}

	c, err := e.client(frame)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, ocr.WrapOCRError(op, ocr.ErrEngineFailed, err.Error())
	}

	lines := make([]ocr.TextLine, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		lines = append(lines, ocr.TextLine{
			Box:        b.Box,
			Text:       text,
			Confidence: b.Confidence / 100,
			Source:     ocr.SourcePrimary,
		})
	}

	e.log.Debug().Int("lines", len(lines)).Str("frame", frame.String()).Msg("Text lines detected")
	return lines, nil
}

// Recognize returns the plain text of the whole frame.
func (e *Engine) Recognize(ctx context.Context, frame *imgproc.Frame) (string, error) {
	const op = "tesseract.Recognize"

	if err := ctx.Err(); err != nil {
		return "", ocr.WrapOCRError(op, ocr.ErrContextCanceled, err.Error())
	}

	c, err := e.client(frame)
	if err != nil {
		return "", err
	}
	defer c.Close()

	text, err := c.Text()
	if err != nil {
		return "", ocr.WrapOCRError(op, ocr.ErrEngineFailed, err.Error())
	}
	return strings.TrimSpace(text), nil
}
