// Package preprocess normalizes decoded images before text detection.
//
// The enhancement pipeline is a fixed list of stages. Each stage consumes one
// frame and produces a new one; a failing stage is reported in its StageResult
// and the previous frame is carried forward. Only grayscale conversion is
// fatal, since every later stage depends on a single-channel frame.
package preprocess

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"imageocr/internal/imgproc"
	"imageocr/internal/logger"
	"imageocr/internal/quality"
)

const (
	// deblurSigma approximates the 9x9 smoothing window of the unsharp mask.
	deblurSigma  = 2.6
	deblurAmount = 1.5

	denoiseStrength     = 30
	denoisePatchRadius  = 3
	denoiseSearchRadius = 4

	illuminationKernel = 15

	thresholdBlock    = 31
	thresholdConstant = 15

	// crop and frame enhancement use a smaller neighbourhood
	regionBlock    = 11
	regionConstant = 2
	regionBlurSize = 3
)

// Options gate the optional stages.
type Options struct {
	UseSuperResolution bool
	UseDeskew          bool
	// BlurThreshold decides whether the conditional deblur stage fires.
	BlurThreshold float64
}

// DefaultOptions enables every stage.
func DefaultOptions() Options {
	return Options{
		UseSuperResolution: true,
		UseDeskew:          true,
		BlurThreshold:      quality.DefaultBlurThreshold,
	}
}

// Stage is one step of the enhancement pipeline.
type Stage struct {
	Name string
	// Fatal stages abort the pipeline instead of propagating the prior frame.
	Fatal bool
	Apply func(*imgproc.Frame) (*imgproc.Frame, error)
}

// StageResult records what a stage did.
type StageResult struct {
	Stage string
	// Frame is the frame handed to the next stage: the stage output on
	// success, the stage input when the stage failed.
	Frame    *imgproc.Frame
	Err      error
	Degraded bool
	Duration time.Duration
}

// Preprocessor runs the enhancement pipeline.
type Preprocessor struct {
	opts     Options
	upscaler SuperResolver
	log      zerolog.Logger
}

// New creates a Preprocessor. upscaler may be nil when super-resolution is disabled.
func New(opts Options, upscaler SuperResolver) *Preprocessor {
	return &Preprocessor{
		opts:     opts,
		upscaler: upscaler,
		log:      logger.WithComponent("preprocess"),
	}
}

// Upscale runs the super-resolution stage. It never fails: when the stage is
// disabled or the upscaler errors, the input frame is returned.
func (p *Preprocessor) Upscale(ctx context.Context, f *imgproc.Frame) *imgproc.Frame {
	if !p.opts.UseSuperResolution || p.upscaler == nil {
		return f
	}
	out, err := p.upscaler.Upscale(ctx, f)
	if err != nil {
		p.log.Warn().Err(err).Msg("Super-resolution unavailable, using original frame")
		return f
	}
	p.log.Debug().Str("from", f.String()).Str("to", out.String()).Msg("Frame upscaled")
	return out
}

// Enhance runs background whitening through deskew and returns the final
// frame along with one StageResult per stage.
func (p *Preprocessor) Enhance(f *imgproc.Frame) (*imgproc.Frame, []StageResult, error) {
	return p.Run(f, p.Stages())
}

// Stages returns the enhancement stages in execution order.
func (p *Preprocessor) Stages() []Stage {
	stages := []Stage{
		{Name: "whiten", Apply: WhitenBackground},
		{Name: "deblur", Apply: p.deblur},
		{Name: "grayscale", Fatal: true, Apply: imgproc.ToGray},
		{Name: "denoise", Apply: denoise},
		{Name: "illumination", Apply: correctIllumination},
		{Name: "sharpen", Apply: sharpen},
		{Name: "threshold", Apply: threshold},
		{Name: "polarity", Apply: NormalizePolarity},
	}
	if p.opts.UseDeskew {
		stages = append(stages, Stage{Name: "deskew", Apply: p.deskew})
	}
	return stages
}

// Run executes stages over f in order.
func (p *Preprocessor) Run(f *imgproc.Frame, stages []Stage) (*imgproc.Frame, []StageResult, error) {
	results := make([]StageResult, 0, len(stages))
	current := f

	for _, stage := range stages {
		start := time.Now()
		out, err := applyStage(stage, current)
		result := StageResult{Stage: stage.Name, Duration: time.Since(start)}

		if err != nil {
			result.Err = err
			result.Degraded = true
			result.Frame = current
			results = append(results, result)
			if stage.Fatal {
				return nil, results, fmt.Errorf("preprocess stage %s: %w", stage.Name, err)
			}
			p.log.Warn().Err(err).Str("stage", stage.Name).Msg("Preprocessing stage failed, continuing with previous frame")
			continue
		}

		result.Frame = out
		results = append(results, result)
		current = out
	}

	return current, results, nil
}

// applyStage converts panics inside a stage into errors.
func applyStage(stage Stage, f *imgproc.Frame) (out *imgproc.Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	out, err = stage.Apply(f)
	if err == nil && out.Empty() {
		err = imgproc.ErrEmptyFrame
	}
	return out, err
}

// WhitenBackground forces pixels above the Otsu threshold to pure white and
// leaves darker pixels untouched.
func WhitenBackground(f *imgproc.Frame) (*imgproc.Frame, error) {
	gray, err := imgproc.ToGray(f)
	if err != nil {
		return nil, err
	}
	t := imgproc.OtsuThreshold(gray)
	out := f.Clone()
	for i, v := range gray.Pix {
		if v > t {
			for c := 0; c < f.C; c++ {
				out.Pix[i*f.C+c] = 255
			}
		}
	}
	return out, nil
}

func (p *Preprocessor) deblur(f *imgproc.Frame) (*imgproc.Frame, error) {
	blurry, score, err := quality.IsBlurry(f, p.opts.BlurThreshold)
	if err != nil {
		return nil, err
	}
	if !blurry {
		return f.Clone(), nil
	}
	p.log.Debug().Float64("focus_score", score).Msg("Applying unsharp mask")
	smooth := imgproc.GaussianBlur(f, deblurSigma)
	return imgproc.AddWeighted(f, deblurAmount, smooth, 1-deblurAmount, 0), nil
}

func denoise(f *imgproc.Frame) (*imgproc.Frame, error) {
	return imgproc.DenoiseNLM(f, denoiseStrength, denoisePatchRadius, denoiseSearchRadius), nil
}

func correctIllumination(f *imgproc.Frame) (*imgproc.Frame, error) {
	background := imgproc.MorphClose(f, illuminationKernel)
	return imgproc.Divide(f, background, 255), nil
}

func sharpen(f *imgproc.Frame) (*imgproc.Frame, error) {
	return imgproc.Sharpen(f), nil
}

func threshold(f *imgproc.Frame) (*imgproc.Frame, error) {
	return imgproc.AdaptiveThresholdGaussian(f, thresholdBlock, thresholdConstant), nil
}

// NormalizePolarity inverts binarized frames with more black than white pixels
// so text is dark on a light background.
func NormalizePolarity(f *imgproc.Frame) (*imgproc.Frame, error) {
	black, white := imgproc.CountBinary(f)
	if black > white {
		return imgproc.Invert(f), nil
	}
	return f.Clone(), nil
}

func (p *Preprocessor) deskew(f *imgproc.Frame) (*imgproc.Frame, error) {
	out, angle, err := imgproc.Deskew(f)
	if err != nil {
		return nil, err
	}
	if angle != 0 {
		p.log.Debug().Float64("angle", angle).Msg("Frame deskewed")
	}
	return out, nil
}

// EnhanceFrame is the enhancement applied to sampled video frames and
// rasterized PDF pages: upscale x2, denoise, sharpen, equalize, binarize.
func EnhanceFrame(f *imgproc.Frame) (*imgproc.Frame, error) {
	gray, err := imgproc.ToGray(f)
	if err != nil {
		return nil, err
	}
	out := imgproc.Resize(gray, gray.W*2, gray.H*2)
	out = imgproc.DenoiseNLM(out, denoiseStrength, denoisePatchRadius, denoiseSearchRadius)
	out = imgproc.Sharpen(out)
	out = imgproc.EqualizeHist(out)
	return imgproc.AdaptiveThresholdGaussian(out, regionBlock, regionConstant), nil
}

// PrepareCrop is the lightweight preprocessing applied to a region before
// secondary recognition.
func PrepareCrop(f *imgproc.Frame) (*imgproc.Frame, error) {
	if f.Empty() {
		return nil, imgproc.ErrEmptyFrame
	}
	gray, err := imgproc.ToGray(f)
	if err != nil {
		return nil, err
	}
	smooth := imgproc.GaussianBlur(gray, imgproc.SigmaForKernel(regionBlurSize))
	return imgproc.AdaptiveThresholdGaussian(smooth, regionBlock, regionConstant), nil
}

// IsFatal reports whether err came from a fatal stage.
func IsFatal(err error) bool {
	return errors.Is(err, imgproc.ErrUnsupportedImageShape) || errors.Is(err, imgproc.ErrEmptyFrame)
}
