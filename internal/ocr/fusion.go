package ocr

import (
	"context"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"
	"github.com/rs/zerolog"

	"imageocr/internal/imgproc"
	"imageocr/internal/logger"
)

const (
	DefaultConfidenceThreshold = 0.75
	DefaultMinSimilarity       = 0.85
	DefaultLengthMargin        = 3

	// MinCropSize is the smallest crop width or height kept for recognition.
	MinCropSize = 5
)

// Policy decides when the secondary transcription replaces the primary one.
type Policy struct {
	// MinSimilarity accepts the secondary text when the two agree at least this much.
	MinSimilarity float64
	// LengthMargin accepts the secondary text when it is longer by more than this many characters.
	LengthMargin int
}

// DefaultPolicy returns the standard acceptance rule.
func DefaultPolicy() Policy {
	return Policy{MinSimilarity: DefaultMinSimilarity, LengthMargin: DefaultLengthMargin}
}

// Accept reports whether secondary should replace primary given their similarity.
func (p Policy) Accept(primary, secondary string, similarity float64) bool {
	if secondary == "" {
		return false
	}
	return similarity >= p.MinSimilarity ||
		utf8.RuneCountInString(secondary) > utf8.RuneCountInString(primary)+p.LengthMargin
}

// SimilarityFunc scores two strings in [0,1].
type SimilarityFunc func(a, b string) float64

// Similarity is the normalized InDel ratio 2*LCS(a, b) / (len(a)+len(b)),
// measured in runes. Substitutions cost two edits, so "abcde" against
// "abcdef" scores 10/11 and a transposed pair like "ba"/"ab" scores 0.5.
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 1
	}
	return 2 * float64(edlib.LCS(a, b)) / float64(total)
}

// FusionMerger reconciles primary lines with a secondary recognizer.
type FusionMerger struct {
	Secondary Recognizer
	Threshold float64
	Policy    Policy
	// Similarity defaults to Similarity.
	Similarity SimilarityFunc
	// Prepare preprocesses region crops before secondary recognition; nil skips it.
	Prepare func(*imgproc.Frame) (*imgproc.Frame, error)

	log zerolog.Logger
}

// NewFusionMerger returns a merger with the default policy.
func NewFusionMerger(secondary Recognizer, threshold float64, prepare func(*imgproc.Frame) (*imgproc.Frame, error)) *FusionMerger {
	return &FusionMerger{
		Secondary:  secondary,
		Threshold:  threshold,
		Policy:     DefaultPolicy(),
		Similarity: Similarity,
		Prepare:    prepare,
		log:        logger.WithComponent("fusion"),
	}
}

// Crop cuts a line's region out of frame. ok is false when the clipped crop is
// smaller than MinCropSize in either dimension.
func Crop(frame *imgproc.Frame, line TextLine) (*imgproc.Frame, bool) {
	r := line.Box.Intersect(frame.Bounds())
	if r.Dx() < MinCropSize || r.Dy() < MinCropSize {
		return nil, false
	}
	return imgproc.Crop(frame, r), true
}

// UsableLines drops lines whose crop is degenerate.
func UsableLines(frame *imgproc.Frame, lines []TextLine) []TextLine {
	out := make([]TextLine, 0, len(lines))
	for _, l := range lines {
		if _, ok := Crop(frame, l); ok {
			out = append(out, l)
		}
	}
	return out
}

// Fuse returns lines with their final text and source, in detection order.
// The input slice is not modified. Secondary engine failures keep the primary text.
func (m *FusionMerger) Fuse(ctx context.Context, frame *imgproc.Frame, lines []TextLine) ([]TextLine, error) {
	similarity := m.Similarity
	if similarity == nil {
		similarity = Similarity
	}

	out := make([]TextLine, len(lines))
	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = m.fuseLine(ctx, frame, line, similarity)
	}
	return out, nil
}

// FuseText fuses lines and joins the result with newlines.
func (m *FusionMerger) FuseText(ctx context.Context, frame *imgproc.Frame, lines []TextLine) (string, error) {
	fused, err := m.Fuse(ctx, frame, lines)
	if err != nil {
		return "", err
	}
	return JoinLines(fused), nil
}

func (m *FusionMerger) fuseLine(ctx context.Context, frame *imgproc.Frame, line TextLine, similarity SimilarityFunc) TextLine {
	line.Source = SourcePrimary
	if line.Confidence >= m.Threshold || m.Secondary == nil {
		return line
	}

	line.Source = SourceFused
	crop, ok := Crop(frame, line)
	if !ok {
		return line
	}
	if m.Prepare != nil {
		prepared, err := m.Prepare(crop)
		if err != nil {
			m.log.Warn().Err(err).Msg("Region preprocessing failed, using raw crop")
		} else {
			crop = prepared
		}
	}

	secondary, err := m.Secondary.Recognize(ctx, crop)
	if err != nil {
		m.log.Warn().
			Err(err).
			Str("engine", m.Secondary.Name()).
			Str("primary_text", line.Text).
			Msg("Secondary recognition failed, keeping primary text")
		return line
	}

	score := similarity(secondary, line.Text)
	accepted := m.Policy.Accept(line.Text, secondary, score)

	m.log.Debug().
		Str("primary", line.Text).
		Str("secondary", secondary).
		Float64("confidence", line.Confidence).
		Float64("similarity", score).
		Bool("accepted", accepted).
		Msg("Fused low-confidence line")

	if accepted {
		line.Text = secondary
		line.Source = SourceSecondary
	}
	return line
}
