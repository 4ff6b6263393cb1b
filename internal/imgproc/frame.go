// Package imgproc holds the raster type shared by the preprocessing pipeline and
// the numeric kernels that operate on it.
//
// A Frame is an interleaved 8-bit raster with 1, 3 or 4 channels. Every kernel
// returns a new Frame and never mutates its input, so a stage can always fall
// back to the frame it was given.
//
// Resampling, Gaussian blur and 3x3 convolution are delegated to
// github.com/disintegration/imaging. Histogram, threshold, morphology,
// denoising and geometry kernels are implemented here because no library in
// our stack provides them for 8-bit rasters.
package imgproc

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

var (
	// ErrUnsupportedImageShape is returned for frames whose channel count is not 1, 3 or 4.
	ErrUnsupportedImageShape = errors.New("unsupported image shape")

	// ErrEmptyFrame is returned when a kernel receives a frame without pixels.
	ErrEmptyFrame = errors.New("empty frame")
)

// Frame is a decoded raster image at some pipeline stage.
type Frame struct {
	W, H int
	// C is the number of interleaved channels (1 gray, 3 RGB, 4 RGBA).
	C   int
	Pix []uint8
}

// NewFrame allocates a zeroed frame.
func NewFrame(w, h, c int) *Frame {
	return &Frame{W: w, H: h, C: c, Pix: make([]uint8, w*h*c)}
}

// Empty reports whether the frame has no pixels.
func (f *Frame) Empty() bool {
	return f == nil || f.W <= 0 || f.H <= 0 || len(f.Pix) < f.W*f.H*f.C
}

// Bounds returns the frame rectangle anchored at the origin.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.W, f.H)
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	out := &Frame{W: f.W, H: f.H, C: f.C, Pix: make([]uint8, len(f.Pix))}
	copy(out.Pix, f.Pix)
	return out
}

func (f *Frame) String() string {
	return fmt.Sprintf("%dx%dx%d", f.W, f.H, f.C)
}

// FromImage decodes any image.Image into a 3-channel RGB frame. Alpha is dropped
// without compositing.
func FromImage(img image.Image) *Frame {
	return fromNRGBA(imaging.Clone(img), 3)
}

// Image converts the frame into a standard library image: *image.Gray for
// single-channel frames and *image.NRGBA otherwise.
func (f *Frame) Image() image.Image {
	if f.C == 1 {
		g := image.NewGray(f.Bounds())
		copy(g.Pix, f.Pix)
		return g
	}
	n := image.NewNRGBA(f.Bounds())
	for i, j := 0, 0; i < len(f.Pix); i, j = i+f.C, j+4 {
		n.Pix[j] = f.Pix[i]
		n.Pix[j+1] = f.Pix[i+1]
		n.Pix[j+2] = f.Pix[i+2]
		if f.C == 4 {
			n.Pix[j+3] = f.Pix[i+3]
		} else {
			n.Pix[j+3] = 0xff
		}
	}
	return n
}

// fromNRGBA copies an imaging result back into a frame with c channels. For
// c == 1 the red channel is taken, which is exact for images built from gray frames.
func fromNRGBA(n *image.NRGBA, c int) *Frame {
	b := n.Bounds()
	out := NewFrame(b.Dx(), b.Dy(), c)
	for y := 0; y < out.H; y++ {
		row := n.Pix[y*n.Stride : y*n.Stride+out.W*4]
		for x := 0; x < out.W; x++ {
			dst := (y*out.W + x) * c
			src := x * 4
			switch c {
			case 1:
				out.Pix[dst] = row[src]
			case 3:
				copy(out.Pix[dst:dst+3], row[src:src+3])
			default:
				copy(out.Pix[dst:dst+4], row[src:src+4])
			}
		}
	}
	return out
}

// ToGray converts 1-, 3- and 4-channel frames to a single channel using
// ITU-R BT.601 luma weights. Alpha is ignored.
func ToGray(f *Frame) (*Frame, error) {
	if f.Empty() {
		return nil, ErrEmptyFrame
	}
	switch f.C {
	case 1:
		return f.Clone(), nil
	case 3, 4:
		out := NewFrame(f.W, f.H, 1)
		for i, j := 0, 0; j < len(out.Pix); i, j = i+f.C, j+1 {
			y := 0.299*float64(f.Pix[i]) + 0.587*float64(f.Pix[i+1]) + 0.114*float64(f.Pix[i+2])
			out.Pix[j] = clamp(y)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedImageShape, f.C)
	}
}

// ToRGB converts a frame to 3 channels.
func ToRGB(f *Frame) (*Frame, error) {
	if f.Empty() {
		return nil, ErrEmptyFrame
	}
	switch f.C {
	case 3:
		return f.Clone(), nil
	case 1, 4:
		out := NewFrame(f.W, f.H, 3)
		for i, j := 0, 0; i < len(f.Pix); i, j = i+f.C, j+3 {
			if f.C == 1 {
				out.Pix[j], out.Pix[j+1], out.Pix[j+2] = f.Pix[i], f.Pix[i], f.Pix[i]
			} else {
				copy(out.Pix[j:j+3], f.Pix[i:i+3])
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedImageShape, f.C)
	}
}

// GrayAt returns the sample at (x, y) of a single-channel frame.
func (f *Frame) GrayAt(x, y int) uint8 {
	return f.Pix[y*f.W+x]
}

// SetGray sets the sample at (x, y) of a single-channel frame.
func (f *Frame) SetGray(x, y int, v uint8) {
	f.Pix[y*f.W+x] = v
}

// At implements a subset of image.Image for debugging and tests.
func (f *Frame) At(x, y int) color.Color {
	i := (y*f.W + x) * f.C
	if f.C == 1 {
		return color.Gray{Y: f.Pix[i]}
	}
	return color.NRGBA{R: f.Pix[i], G: f.Pix[i+1], B: f.Pix[i+2], A: 0xff}
}

func clamp(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
