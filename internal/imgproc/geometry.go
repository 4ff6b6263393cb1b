package imgproc

import (
	"math"
	"sort"
)

// minComponentPixels drops specks that carry no orientation information.
const minComponentPixels = 10

// Rotate turns the frame by deg degrees counter-clockwise about its center,
// keeping the frame size and replicating border pixels into uncovered areas.
func Rotate(f *Frame, deg float64) *Frame {
	rad := deg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	cx, cy := float64(f.W-1)/2, float64(f.H-1)/2

	out := NewFrame(f.W, f.H, f.C)
	for y := 0; y < f.H; y++ {
		dy := float64(y) - cy
		for x := 0; x < f.W; x++ {
			dx := float64(x) - cx
			sx := cx + dx*cos - dy*sin
			sy := cy + dx*sin + dy*cos
			sampleBilinear(f, sx, sy, out.Pix[(y*f.W+x)*f.C:(y*f.W+x+1)*f.C])
		}
	}
	return out
}

func sampleBilinear(f *Frame, sx, sy float64, dst []uint8) {
	sx = math.Max(0, math.Min(sx, float64(f.W-1)))
	sy = math.Max(0, math.Min(sy, float64(f.H-1)))
	x0, y0 := int(sx), int(sy)
	x1, y1 := min(x0+1, f.W-1), min(y0+1, f.H-1)
	fx, fy := sx-float64(x0), sy-float64(y0)

	for c := 0; c < f.C; c++ {
		p00 := float64(f.Pix[(y0*f.W+x0)*f.C+c])
		p10 := float64(f.Pix[(y0*f.W+x1)*f.C+c])
		p01 := float64(f.Pix[(y1*f.W+x0)*f.C+c])
		p11 := float64(f.Pix[(y1*f.W+x1)*f.C+c])
		top := p00 + (p10-p00)*fx
		bottom := p01 + (p11-p01)*fx
		dst[c] = clamp(top + (bottom-top)*fy)
	}
}

type point struct{ x, y float64 }

// SkewAngle estimates the text skew of a single-channel frame in degrees,
// counter-clockwise positive. Dark connected components are located after an
// Otsu binarization; the minimum-area rectangle angle of each is folded into
// (-45, 45) and the median is returned. ok is false when no component qualifies.
func SkewAngle(f *Frame) (angle float64, ok bool) {
	bin := Threshold(f, OtsuThreshold(f))

	var angles []float64
	for _, hull := range componentHulls(bin) {
		a, valid := minAreaRectAngle(hull)
		if !valid {
			continue
		}
		if a <= -45 {
			a += 90
		}
		if a > -45 && a < 45 {
			angles = append(angles, a)
		}
	}
	if len(angles) == 0 {
		return 0, false
	}
	return Median(angles), true
}

// Deskew rotates f by the negative of its estimated skew. It returns the angle
// that was corrected; when no skew can be measured the frame is returned as a copy.
func Deskew(f *Frame) (*Frame, float64, error) {
	gray, err := ToGray(f)
	if err != nil {
		return nil, 0, err
	}
	angle, ok := SkewAngle(gray)
	if !ok || angle == 0 {
		return f.Clone(), 0, nil
	}
	return Rotate(f, -angle), angle, nil
}

// Median returns the median of values; values is reordered.
func Median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

// componentHulls labels the 8-connected zero-valued components of a binary
// frame and returns the convex hull of each in y-up coordinates. Only the
// leftmost and rightmost pixel of every row contribute hull candidates.
func componentHulls(bin *Frame) [][]point {
	w, h := bin.W, bin.H
	seen := make([]bool, w*h)
	var hulls [][]point
	stack := make([]int, 0, 64)

	type span struct{ lo, hi int }

	for start := range bin.Pix {
		if seen[start] || bin.Pix[start] != 0 {
			continue
		}
		seen[start] = true
		stack = append(stack[:0], start)
		rows := map[int]span{}
		count := 0

		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			count++
			if s, found := rows[y]; found {
				rows[y] = span{min(s.lo, x), max(s.hi, x)}
			} else {
				rows[y] = span{x, x}
			}
			for ny := y - 1; ny <= y+1; ny++ {
				for nx := x - 1; nx <= x+1; nx++ {
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					j := ny*w + nx
					if !seen[j] && bin.Pix[j] == 0 {
						seen[j] = true
						stack = append(stack, j)
					}
				}
			}
		}

		if count < minComponentPixels {
			continue
		}
		pts := make([]point, 0, len(rows)*4)
		for y, s := range rows {
			top, bottom := -float64(y), -float64(y+1)
			pts = append(pts,
				point{float64(s.lo), top}, point{float64(s.lo), bottom},
				point{float64(s.hi + 1), top}, point{float64(s.hi + 1), bottom})
		}
		hulls = append(hulls, convexHull(pts))
	}
	return hulls
}

// convexHull returns the hull in counter-clockwise order (monotone chain).
func convexHull(pts []point) []point {
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].x != pts[j].x {
			return pts[i].x < pts[j].x
		}
		return pts[i].y < pts[j].y
	})
	if len(pts) < 3 {
		return pts
	}
	cross := func(o, a, b point) float64 {
		return (a.x-o.x)*(b.y-o.y) - (a.y-o.y)*(b.x-o.x)
	}
	hull := make([]point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// minAreaRectAngle finds the hull edge whose direction yields the smallest
// enclosing rectangle and returns that direction folded into [-90, 0).
func minAreaRectAngle(hull []point) (float64, bool) {
	if len(hull) < 3 {
		return 0, false
	}
	bestArea := math.Inf(1)
	var bestAngle float64
	for i := range hull {
		a, b := hull[i], hull[(i+1)%len(hull)]
		ex, ey := b.x-a.x, b.y-a.y
		length := math.Hypot(ex, ey)
		if length == 0 {
			continue
		}
		ux, uy := ex/length, ey/length
		minU, maxU := math.Inf(1), math.Inf(-1)
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, p := range hull {
			u := p.x*ux + p.y*uy
			v := -p.x*uy + p.y*ux
			minU, maxU = math.Min(minU, u), math.Max(maxU, u)
			minV, maxV = math.Min(minV, v), math.Max(maxV, v)
		}
		if area := (maxU - minU) * (maxV - minV); area < bestArea {
			bestArea = area
			bestAngle = math.Atan2(uy, ux) * 180 / math.Pi
		}
	}
	folded := math.Mod(bestAngle, 90)
	if folded < 0 {
		folded += 90
	}
	return folded - 90, true
}
