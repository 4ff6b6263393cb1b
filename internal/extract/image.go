package extract

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"imageocr/internal/cache"
	"imageocr/internal/imgproc"
	"imageocr/internal/logger"
	"imageocr/internal/ocr"
	"imageocr/internal/preprocess"
	"imageocr/internal/quality"
)

const (
	msgNoText      = "No text detected in image"
	msgNoValidText = "No valid text found"
)

// ImagePipeline turns a decoded frame into cleaned text: upscale, quality
// gate, enhancement, primary detection, fusion, post-processing and line
// de-duplication.
type ImagePipeline struct {
	Preprocessor *preprocess.Preprocessor
	Validator    quality.Validator
	Primary      ocr.Detector
	Fusion       *ocr.FusionMerger
	Post         ocr.PostProcessor

	log zerolog.Logger
}

// NewImagePipeline wires a pipeline with the default post-processing table.
func NewImagePipeline(pre *preprocess.Preprocessor, validator quality.Validator, primary ocr.Detector, fusion *ocr.FusionMerger) *ImagePipeline {
	return &ImagePipeline{
		Preprocessor: pre,
		Validator:    validator,
		Primary:      primary,
		Fusion:       fusion,
		Post:         ocr.NewPostProcessor(),
		log:          logger.WithComponent("image-pipeline"),
	}
}

// Run extracts text from frame. Failures are ExtractionErrors.
func (p *ImagePipeline) Run(ctx context.Context, frame *imgproc.Frame) (string, error) {
	const op = "ImagePipeline.Run"
	start := time.Now()

	upscaled := p.Preprocessor.Upscale(ctx, frame)

	verdict, err := p.Validator.Validate(upscaled)
	if err != nil {
		return "", newError(op, KindDecodeFailure, err, "Invalid image file: %v", err)
	}
	if !verdict.OK {
		p.log.Info().Str("check", verdict.Check.String()).Float64("score", verdict.Score).Msg("Image rejected by quality gate")
		return "", newError(op, KindLowQualityImage, ErrLowQuality, "%s", verdict.Reason)
	}

	enhanced, stages, err := p.Preprocessor.Enhance(upscaled)
	if err != nil {
		if preprocess.IsFatal(err) {
			return "", newError(op, KindDecodeFailure, err, "Invalid image file: %v", err)
		}
		return "", newError(op, KindInternal, err, "OCR failed: %v", err)
	}
	for _, s := range stages {
		p.log.Debug().Str("stage", s.Stage).Bool("degraded", s.Degraded).Dur("duration", s.Duration).Msg("Stage finished")
	}

	lines, err := p.Primary.Detect(ctx, enhanced)
	if err != nil {
		return "", newError(op, KindEngineFailure, err, "OCR failed: %v", err)
	}
	if len(lines) == 0 {
		return "", newError(op, KindNoTextDetected, ErrNoText, msgNoText)
	}

	lines = ocr.UsableLines(enhanced, lines)
	if len(lines) == 0 {
		return "", newError(op, KindNoTextDetected, ErrNoText, msgNoValidText)
	}

	fused, err := p.Fusion.Fuse(ctx, enhanced, lines)
	if err != nil {
		return "", err
	}

	cleaned := p.Post.Clean(ocr.Texts(fused))
	text := ocr.DedupeLines(strings.Join(cleaned, "\n"))
	if text == "" {
		return "", newError(op, KindNoTextDetected, ErrNoText, msgNoValidText)
	}

	p.log.Debug().
		Int("lines", len(lines)).
		Dur("duration", time.Since(start)).
		Msg("Image text extracted")
	return text, nil
}

// DecodeImage decodes png/jpeg/gif/bmp/tiff/webp bytes, honouring EXIF orientation.
func DecodeImage(content []byte) (*imgproc.Frame, error) {
	img, err := imaging.Decode(bytes.NewReader(content), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	return imgproc.FromImage(img), nil
}

func (d *Dispatcher) extractImage(ctx context.Context, doc document) (outcome, error) {
	const op = "extractImage"

	key := cache.Key(doc.content)
	log := d.log.With().Str("hash", key).Logger()

	if d.opts.CacheEnabled {
		text, ok, err := d.cache.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Msg("Cache lookup failed, extracting uncached")
		} else if ok && text != "" {
			log.Info().Msg("OCR cache hit")
			return outcome{text: text, message: "Text extracted from cache", cached: true}, nil
		}
	}

	frame, err := DecodeImage(doc.content)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load image")
		return outcome{}, newError(op, KindDecodeFailure, err, "Invalid image file: %v", err)
	}

	text, err := d.image.Run(ctx, frame)
	if err != nil {
		return outcome{}, err
	}

	if d.opts.CacheEnabled {
		if err := d.cache.Set(ctx, key, text); err != nil {
			log.Warn().Err(err).Msg("Failed to cache extracted text")
		}
	}
	return outcome{text: text, message: "Text extracted successfully"}, nil
}
