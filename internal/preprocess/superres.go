package preprocess

import (
	"context"
	"errors"
	"fmt"

	"imageocr/internal/imgproc"
)

// maxUpscaledPixels bounds the output of super-resolution; larger frames are
// passed through unchanged.
const maxUpscaledPixels = 40_000_000

// ErrFrameTooLarge is returned when upscaling would exceed maxUpscaledPixels.
var ErrFrameTooLarge = errors.New("frame too large to upscale")

// SuperResolver enlarges a frame.
type SuperResolver interface {
	Upscale(ctx context.Context, f *imgproc.Frame) (*imgproc.Frame, error)
}

// BicubicUpscaler enlarges frames by Factor with bicubic resampling. It stands
// in for a learned super-resolution model; a DNN-backed SuperResolver can be
// passed to New instead.
type BicubicUpscaler struct {
	Factor int
}

// Upscale implements SuperResolver.
func (b BicubicUpscaler) Upscale(ctx context.Context, f *imgproc.Frame) (*imgproc.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.Factor <= 1 {
		return f.Clone(), nil
	}
	w, h := f.W*b.Factor, f.H*b.Factor
	if w*h > maxUpscaledPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrFrameTooLarge, w, h)
	}
	return imgproc.Resize(f, w, h), nil
}
