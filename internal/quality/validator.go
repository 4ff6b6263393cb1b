// Package quality rejects images that are too blurry, too flat or too small to
// be recognized reliably.
package quality

import (
	"fmt"

	"imageocr/internal/imgproc"
)

const (
	DefaultBlurThreshold     = 100.0
	DefaultContrastThreshold = 15.0
	DefaultMinHeight         = 500
)

// Check identifies which gate rejected a frame.
type Check int

const (
	CheckNone Check = iota
	CheckBlur
	CheckContrast
	CheckResolution
)

func (c Check) String() string {
	switch c {
	case CheckBlur:
		return "blur"
	case CheckContrast:
		return "contrast"
	case CheckResolution:
		return "resolution"
	default:
		return "none"
	}
}

// Verdict is the outcome of Validate.
type Verdict struct {
	OK     bool
	Reason string
	Check  Check
	// Score is the measured metric of the failing check: focus score,
	// intensity range or height in pixels.
	Score float64
}

// Validator holds the gate thresholds. Checks run blur, contrast, resolution;
// the first failure wins.
type Validator struct {
	BlurThreshold     float64
	ContrastThreshold float64
	MinHeight         int
}

// NewValidator returns a Validator with the default thresholds.
func NewValidator() Validator {
	return Validator{
		BlurThreshold:     DefaultBlurThreshold,
		ContrastThreshold: DefaultContrastThreshold,
		MinHeight:         DefaultMinHeight,
	}
}

// Validate inspects f. The returned error is non-nil only when the frame
// cannot be converted to grayscale.
func (v Validator) Validate(f *imgproc.Frame) (Verdict, error) {
	gray, err := imgproc.ToGray(f)
	if err != nil {
		return Verdict{}, err
	}

	lo, hi := imgproc.MinMax(gray)

	// A perfectly flat frame has no edges to measure focus on; it is left to the contrast gate.
	if hi > lo {
		if score := imgproc.LaplacianVariance(gray); score < v.BlurThreshold {
			return Verdict{
				Check:  CheckBlur,
				Score:  score,
				Reason: fmt.Sprintf("Image is too blurry (focus score = %.2f)", score),
			}, nil
		}
	}

	if spread := float64(hi) - float64(lo); spread < v.ContrastThreshold {
		return Verdict{
			Check:  CheckContrast,
			Score:  spread,
			Reason: fmt.Sprintf("Image has low contrast (intensity range = %.0f) - please provide a clearer image", spread),
		}, nil
	}

	if gray.H < v.MinHeight {
		return Verdict{
			Check:  CheckResolution,
			Score:  float64(gray.H),
			Reason: fmt.Sprintf("Image resolution too low (height: %dpx) - please upload a higher resolution image", gray.H),
		}, nil
	}

	return Verdict{OK: true}, nil
}

// IsBlurry reports whether the frame's focus score is below threshold.
func IsBlurry(f *imgproc.Frame, threshold float64) (bool, float64, error) {
	gray, err := imgproc.ToGray(f)
	if err != nil {
		return false, 0, err
	}
	score := imgproc.LaplacianVariance(gray)
	return score < threshold, score, nil
}
