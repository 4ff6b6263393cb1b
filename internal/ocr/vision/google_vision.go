// Package vision provides a primary text Detector backed by Google Cloud Vision
// document text detection.
//
// Required Environment Variables:
//   - GOOGLE_APPLICATION_CREDENTIALS: Path to service account JSON file, OR
//   - GOOGLE_CREDENTIALS: Inline JSON credentials string
//
// Cloud Vision API Limitations:
//   - Maximum image size: 20MB per request
//   - Lines are rebuilt from word symbols using the detected break types
package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"imageocr/internal/imgproc"
	"imageocr/internal/logger"
	"imageocr/internal/ocr"
)

// MaxImageSizeBytes is the maximum encoded image size accepted by the API (20MB)
const MaxImageSizeBytes = 20 * 1024 * 1024

// Detector implements ocr.Detector using Google Cloud Vision API.
type Detector struct {
	client        *vision.ImageAnnotatorClient
	languageHints []string
	log           zerolog.Logger
}

// New creates a Detector with credentials from environment.
// It expects either GOOGLE_APPLICATION_CREDENTIALS path or GOOGLE_CREDENTIALS JSON in env.
func New(ctx context.Context, languageHints []string) (*Detector, error) {
	const op = "vision.New"

	var client *vision.ImageAnnotatorClient
	var err error

	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
		if err != nil {
			return nil, ocr.WrapOCRError(op, err, "failed to create client with GOOGLE_CREDENTIALS")
		}
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsFile(credFile))
		if err != nil {
			return nil, ocr.WrapOCRError(op, err, "failed to create client with GOOGLE_APPLICATION_CREDENTIALS")
		}
	} else {
		client, err = vision.NewImageAnnotatorClient(ctx)
		if err != nil {
			return nil, ocr.WrapOCRError(op, ocr.ErrMissingCredentials, "no credentials found in environment")
		}
	}

	return NewWithClient(client, languageHints), nil
}

// NewWithClient creates a Detector with an explicit client (for testing).
func NewWithClient(client *vision.ImageAnnotatorClient, languageHints []string) *Detector {
	return &Detector{
		client:        client,
		languageHints: languageHints,
		log:           logger.WithComponent("google-vision"),
	}
}

// Name implements ocr.Detector.
func (d *Detector) Name() string {
	return "google-vision"
}

// Detect sends the frame to DOCUMENT_TEXT_DETECTION and returns one TextLine per text line.
func (d *Detector) Detect(ctx context.Context, frame *imgproc.Frame) ([]ocr.TextLine, error) {
	const op = "vision.Detect"

	var buf bytes.Buffer
	if err := png.Encode(&buf, frame.Image()); err != nil {
		return nil, ocr.WrapOCRError(op, ocr.ErrInvalidImage, err.Error())
	}
	if buf.Len() > MaxImageSizeBytes {
		return nil, ocr.WrapOCRError(op, ocr.ErrInvalidImage, fmt.Sprintf("encoded image is %d bytes", buf.Len()))
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: buf.Bytes()},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
				ImageContext: &visionpb.ImageContext{LanguageHints: d.languageHints},
			},
		},
	}

	resp, err := d.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, ocr.WrapOCRError(op, ocr.ErrEngineFailed, fmt.Sprintf("Vision API call failed: %v", err))
	}
	if len(resp.Responses) == 0 {
		return nil, ocr.WrapOCRError(op, ocr.ErrEngineFailed, "no response from Vision API")
	}
	imgResp := resp.Responses[0]
	if imgResp.Error != nil {
		return nil, ocr.WrapOCRError(op, ocr.ErrEngineFailed, fmt.Sprintf("Vision API error: %s", imgResp.Error.Message))
	}

	lines := LinesFromAnnotation(imgResp.FullTextAnnotation)
	d.log.Debug().Int("lines", len(lines)).Msg("Text lines detected")
	return lines, nil
}

// Close closes the underlying Vision client.
func (d *Detector) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

type lineBuilder struct {
	text       strings.Builder
	points     []image.Point
	confidence float64
	words      int
}

func (b *lineBuilder) flush(lines []ocr.TextLine) []ocr.TextLine {
	text := strings.TrimSpace(b.text.String())
	if text != "" && b.words > 0 {
		lines = append(lines, ocr.TextLine{
			Box:        ocr.BoxFromPolygon(b.points),
			Text:       text,
			Confidence: b.confidence / float64(b.words),
			Source:     ocr.SourcePrimary,
		})
	}
	*b = lineBuilder{}
	return lines
}

// LinesFromAnnotation rebuilds text lines from a full text annotation. A line
// ends at a LINE_BREAK or EOL_SURE_SPACE break and at every paragraph end; its
// box spans the vertices of its words and its confidence is the mean word confidence.
func LinesFromAnnotation(annotation *visionpb.TextAnnotation) []ocr.TextLine {
	var lines []ocr.TextLine
	var b lineBuilder

	for _, page := range annotation.GetPages() {
		for _, block := range page.GetBlocks() {
			for _, paragraph := range block.GetParagraphs() {
				for _, word := range paragraph.GetWords() {
					for _, v := range word.GetBoundingBox().GetVertices() {
						b.points = append(b.points, image.Point{X: int(v.GetX()), Y: int(v.GetY())})
					}
					b.confidence += float64(word.GetConfidence())
					b.words++

					endOfLine := false
					for _, symbol := range word.GetSymbols() {
						b.text.WriteString(symbol.GetText())
						switch symbol.GetProperty().GetDetectedBreak().GetType() {
						case visionpb.TextAnnotation_DetectedBreak_SPACE, visionpb.TextAnnotation_DetectedBreak_SURE_SPACE:
							b.text.WriteByte(' ')
						case visionpb.TextAnnotation_DetectedBreak_EOL_SURE_SPACE, visionpb.TextAnnotation_DetectedBreak_LINE_BREAK:
							endOfLine = true
						case visionpb.TextAnnotation_DetectedBreak_HYPHEN:
							b.text.WriteByte('-')
							endOfLine = true
						}
					}
					if endOfLine {
						lines = b.flush(lines)
					}
				}
				lines = b.flush(lines)
			}
		}
	}
	return lines
}
