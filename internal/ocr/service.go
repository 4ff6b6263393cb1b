// Package ocr defines the recognition engines used by the extraction pipeline
// and the logic that reconciles their output.
//
// Two kinds of engine exist:
//   - Detector: the primary engine. Finds text regions on a whole frame and
//     returns one TextLine per region with a bounding box and a confidence.
//   - Recognizer: transcribes a single image (a region crop, a video frame
//     or a rasterized PDF page) into plain text.
//
// Implementations live in subpackages:
//   - tesseract: local Tesseract through gosseract (Detector and Recognizer)
//   - vision: Google Cloud Vision document text detection (Detector)
//   - docai: Google Document AI OCR processor for PDF pages
//   - engines: EngineFactory wiring the above from configuration
//
// Fusion:
//   - Lines at or above the confidence threshold keep the primary text.
//   - Other lines are cropped, re-recognized by the secondary engine and the
//     two transcriptions are compared with a normalized edit-distance ratio.
//   - This is a per-line voting heuristic. The similarity and length margins are
//     policy values kept for compatibility, not derived constants.
package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	"imageocr/internal/imgproc"
)

// Source identifies which engine produced the final text of a line.
type Source int

const (
	// SourcePrimary means the primary text was accepted without consultation.
	SourcePrimary Source = iota
	// SourceSecondary means the secondary engine's text replaced the primary text.
	SourceSecondary
	// SourceFused means the secondary engine was consulted and the primary text kept.
	SourceFused
)

func (s Source) String() string {
	switch s {
	case SourcePrimary:
		return "primary"
	case SourceSecondary:
		return "secondary"
	case SourceFused:
		return "fused"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// TextLine is one detected text region.
type TextLine struct {
	// Box is the axis-aligned bounding box in frame pixel coordinates.
	Box image.Rectangle `json:"box"`

	// Text is the transcription, refined by fusion.
	Text string `json:"text"`

	// Confidence is the primary engine's score in [0,1].
	Confidence float64 `json:"confidence"`

	// Source records which engine the final text came from.
	Source Source `json:"source"`
}

// Detector is the primary engine: joint region detection and recognition.
type Detector interface {
	Name() string
	Detect(ctx context.Context, frame *imgproc.Frame) ([]TextLine, error)
}

// Recognizer transcribes a whole image into text.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, frame *imgproc.Frame) (string, error)
}

// BoxFromPolygon returns the axis-aligned bounding box of a polygon.
func BoxFromPolygon(points []image.Point) image.Rectangle {
	if len(points) == 0 {
		return image.Rectangle{}
	}
	r := image.Rectangle{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		r.Min.X = min(r.Min.X, p.X)
		r.Min.Y = min(r.Min.Y, p.Y)
		r.Max.X = max(r.Max.X, p.X)
		r.Max.Y = max(r.Max.Y, p.Y)
	}
	return r
}

// Texts returns the text of each line.
func Texts(lines []TextLine) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}

// JoinLines joins line texts with newlines.
func JoinLines(lines []TextLine) string {
	return strings.Join(Texts(lines), "\n")
}

// PageOCR transcribes a range of PDF pages (1-based, inclusive) and returns
// one text per page in order.
type PageOCR interface {
	Name() string
	OCRPages(ctx context.Context, pdf []byte, first, last int) ([]string, error)
}
