package imgproc

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// SharpenKernel is the 3x3 high-pass kernel used by the sharpening stages.
var SharpenKernel = [9]float64{
	0, -1, 0,
	-1, 5, -1,
	0, -1, 0,
}

// GaussianBlur blurs the frame with the given sigma.
func GaussianBlur(f *Frame, sigma float64) *Frame {
	return fromNRGBA(imaging.Blur(f.Image(), sigma), f.C)
}

// SigmaForKernel returns the Gaussian sigma conventionally paired with an odd
// kernel size when none is given explicitly.
func SigmaForKernel(ksize int) float64 {
	return 0.3*(float64(ksize-1)*0.5-1) + 0.8
}

// Convolve3x3 applies a 3x3 kernel, clamping results to [0,255].
func Convolve3x3(f *Frame, kernel [9]float64) *Frame {
	return fromNRGBA(imaging.Convolve3x3(f.Image(), kernel, nil), f.C)
}

// Sharpen applies SharpenKernel.
func Sharpen(f *Frame) *Frame {
	return Convolve3x3(f, SharpenKernel)
}

// Resize scales the frame to w x h with a bicubic (Catmull-Rom) filter.
func Resize(f *Frame, w, h int) *Frame {
	return fromNRGBA(imaging.Resize(f.Image(), w, h, imaging.CatmullRom), f.C)
}

// Crop returns the part of f inside r, clipped to the frame.
func Crop(f *Frame, r image.Rectangle) *Frame {
	r = r.Intersect(f.Bounds())
	if r.Empty() {
		return &Frame{C: f.C}
	}
	return fromNRGBA(imaging.Crop(f.Image(), r), f.C)
}

// AddWeighted returns clamp(a*alpha + b*beta + gamma) per sample.
func AddWeighted(a *Frame, alpha float64, b *Frame, beta, gamma float64) *Frame {
	out := NewFrame(a.W, a.H, a.C)
	for i := range out.Pix {
		out.Pix[i] = clamp(float64(a.Pix[i])*alpha + float64(b.Pix[i])*beta + gamma)
	}
	return out
}

// Histogram counts the samples of a single-channel frame.
func Histogram(f *Frame) [256]int {
	var hist [256]int
	for _, v := range f.Pix {
		hist[v]++
	}
	return hist
}

// OtsuThreshold returns the global threshold maximizing between-class variance.
func OtsuThreshold(f *Frame) uint8 {
	hist := Histogram(f)
	total := len(f.Pix)

	var sum float64
	for i, n := range hist {
		sum += float64(i * n)
	}

	var sumB, best float64
	var wB int
	var threshold uint8
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = uint8(t)
		}
	}
	return threshold
}

// Threshold binarizes a single-channel frame: samples above t become 255, others 0.
func Threshold(f *Frame, t uint8) *Frame {
	out := NewFrame(f.W, f.H, 1)
	for i, v := range f.Pix {
		if v > t {
			out.Pix[i] = 255
		}
	}
	return out
}

// AdaptiveThresholdGaussian binarizes a single-channel frame against the
// Gaussian-weighted mean of a block x block neighborhood minus c.
func AdaptiveThresholdGaussian(f *Frame, block int, c float64) *Frame {
	mean := GaussianBlur(f, SigmaForKernel(block))
	out := NewFrame(f.W, f.H, 1)
	for i, v := range f.Pix {
		if float64(v) > float64(mean.Pix[i])-c {
			out.Pix[i] = 255
		}
	}
	return out
}

// Invert returns 255 - v for every sample.
func Invert(f *Frame) *Frame {
	out := NewFrame(f.W, f.H, f.C)
	for i, v := range f.Pix {
		out.Pix[i] = 255 - v
	}
	return out
}

// CountBinary returns the number of 0 and 255 samples.
func CountBinary(f *Frame) (black, white int) {
	for _, v := range f.Pix {
		switch v {
		case 0:
			black++
		case 255:
			white++
		}
	}
	return black, white
}

// MinMax returns the smallest and largest sample.
func MinMax(f *Frame) (lo, hi uint8) {
	lo = 255
	for _, v := range f.Pix {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// EqualizeHist spreads the intensity histogram of a single-channel frame.
func EqualizeHist(f *Frame) *Frame {
	hist := Histogram(f)
	total := len(f.Pix)

	cdfMin := 0
	for _, n := range hist {
		if n > 0 {
			cdfMin = n
			break
		}
	}
	if total == cdfMin {
		return f.Clone()
	}

	var lut [256]uint8
	cdf := 0
	scale := 255.0 / float64(total-cdfMin)
	for i, n := range hist {
		cdf += n
		lut[i] = clamp(float64(cdf-cdfMin) * scale)
	}

	out := NewFrame(f.W, f.H, 1)
	for i, v := range f.Pix {
		out.Pix[i] = lut[v]
	}
	return out
}

// LaplacianVariance returns the variance of the 4-neighbour Laplacian response
// of a single-channel frame, with reflected borders.
func LaplacianVariance(f *Frame) float64 {
	if f.Empty() {
		return 0
	}
	var sum, sumSq float64
	for y := 0; y < f.H; y++ {
		up := reflect101(y-1, f.H)
		down := reflect101(y+1, f.H)
		for x := 0; x < f.W; x++ {
			left := reflect101(x-1, f.W)
			right := reflect101(x+1, f.W)
			v := float64(f.Pix[up*f.W+x]) + float64(f.Pix[down*f.W+x]) +
				float64(f.Pix[y*f.W+left]) + float64(f.Pix[y*f.W+right]) -
				4*float64(f.Pix[y*f.W+x])
			sum += v
			sumSq += v * v
		}
	}
	n := float64(f.W * f.H)
	mean := sum / n
	return sumSq/n - mean*mean
}

// Divide returns clamp(a*scale/b), with 0 where b is 0.
func Divide(a, b *Frame, scale float64) *Frame {
	out := NewFrame(a.W, a.H, a.C)
	for i, v := range a.Pix {
		if b.Pix[i] == 0 {
			continue
		}
		out.Pix[i] = clamp(float64(v) * scale / float64(b.Pix[i]))
	}
	return out
}

// MorphClose performs a grayscale closing (dilate then erode) with a k x k
// rectangular structuring element.
func MorphClose(f *Frame, k int) *Frame {
	r := k / 2
	return rankFilter(rankFilter(f, r, maxOf), r, minOf)
}

func maxOf(a, b uint8) uint8 {
	if a > b {
		return a
	}
	return b
}

func minOf(a, b uint8) uint8 {
	if a < b {
		return a
	}
	return b
}

// rankFilter applies a separable min or max filter with radius r. Windows are
// clipped at the borders.
func rankFilter(f *Frame, r int, pick func(a, b uint8) uint8) *Frame {
	tmp := NewFrame(f.W, f.H, 1)
	for y := 0; y < f.H; y++ {
		row := f.Pix[y*f.W : (y+1)*f.W]
		for x := 0; x < f.W; x++ {
			v := row[x]
			for i := max(0, x-r); i <= min(f.W-1, x+r); i++ {
				v = pick(v, row[i])
			}
			tmp.Pix[y*f.W+x] = v
		}
	}
	out := NewFrame(f.W, f.H, 1)
	for y := 0; y < f.H; y++ {
		for x := 0; x < f.W; x++ {
			v := tmp.Pix[y*f.W+x]
			for j := max(0, y-r); j <= min(f.H-1, y+r); j++ {
				v = pick(v, tmp.Pix[j*f.W+x])
			}
			out.Pix[y*f.W+x] = v
		}
	}
	return out
}

// nlmTileRows is the number of output rows DenoiseNLM holds working planes for.
var nlmTileRows = 64

// DenoiseNLM runs non-local-means denoising on a single-channel frame. Each
// pixel becomes the weighted mean of the pixels in its search window, weighted
// by exp(-d/h^2) where d is the mean squared difference of the surrounding
// patches. Patch distances are computed per offset with an integral image.
// Rows are processed in tiles of nlmTileRows, so working memory scales with
// the frame width rather than its area.
func DenoiseNLM(f *Frame, h float64, patchRadius, searchRadius int) *Frame {
	w, ht := f.W, f.H

	// weight lookup indexed by the rounded mean squared patch distance
	lut := make([]float32, 255*255+1)
	h2 := h * h
	for d := range lut {
		lut[d] = float32(math.Exp(-float64(d) / h2))
	}

	tile := max(1, min(nlmTileRows, ht))
	halo := tile + 2*patchRadius
	diff := make([]uint16, w*halo)
	integral := make([]uint64, (w+1)*(halo+1))
	acc := make([]float32, w*tile)
	wsum := make([]float32, w*tile)

	out := NewFrame(w, ht, 1)
	for top := 0; top < ht; top += tile {
		bottom := min(ht, top+tile)
		hy0, hy1 := max(0, top-patchRadius), min(ht, bottom+patchRadius)
		clear(acc)
		clear(wsum)

		for dy := -searchRadius; dy <= searchRadius; dy++ {
			for dx := -searchRadius; dx <= searchRadius; dx++ {
				for y := hy0; y < hy1; y++ {
					sy := clampIndex(y+dy, ht)
					for x := 0; x < w; x++ {
						sx := clampIndex(x+dx, w)
						d := int(f.Pix[y*w+x]) - int(f.Pix[sy*w+sx])
						diff[(y-hy0)*w+x] = uint16(d * d)
					}
				}
				buildIntegral(diff, integral, w, hy1-hy0)

				for y := top; y < bottom; y++ {
					y0, y1 := max(0, y-patchRadius)-hy0, min(ht-1, y+patchRadius)-hy0
					sy := clampIndex(y+dy, ht)
					for x := 0; x < w; x++ {
						x0, x1 := max(0, x-patchRadius), min(w-1, x+patchRadius)
						area := uint64((y1 - y0 + 1) * (x1 - x0 + 1))
						s := integral[(y1+1)*(w+1)+x1+1] - integral[y0*(w+1)+x1+1] -
							integral[(y1+1)*(w+1)+x0] + integral[y0*(w+1)+x0]
						d := int((2*s + area) / (2 * area))
						if d >= len(lut) {
							d = len(lut) - 1
						}
						weight := lut[d]
						sx := clampIndex(x+dx, w)
						i := (y-top)*w + x
						acc[i] += weight * float32(f.Pix[sy*w+sx])
						wsum[i] += weight
					}
				}
			}
		}

		for y := top; y < bottom; y++ {
			for x := 0; x < w; x++ {
				i := (y-top)*w + x
				out.Pix[y*w+x] = clamp(float64(acc[i] / wsum[i]))
			}
		}
	}
	return out
}

// buildIntegral fills dst with the summed-area table of the first h rows of src.
func buildIntegral(src []uint16, dst []uint64, w, h int) {
	stride := w + 1
	for x := 0; x <= w; x++ {
		dst[x] = 0
	}
	for y := 0; y < h; y++ {
		var row uint64
		dst[(y+1)*stride] = 0
		for x := 0; x < w; x++ {
			row += uint64(src[y*w+x])
			dst[(y+1)*stride+x+1] = dst[y*stride+x+1] + row
		}
	}
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// reflect101 mirrors an out-of-range index without repeating the edge sample.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}
