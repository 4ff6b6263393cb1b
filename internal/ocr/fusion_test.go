package ocr

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"

	"imageocr/internal/imgproc"
)

type fakeRecognizer struct {
	text  string
	err   error
	calls int
}

func (f *fakeRecognizer) Name() string { return "fake" }

func (f *fakeRecognizer) Recognize(_ context.Context, _ *imgproc.Frame) (string, error) {
	f.calls++
	return f.text, f.err
}

func fixedSimilarity(v float64) SimilarityFunc {
	return func(string, string) float64 { return v }
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1},
		{"abc", "", 0},
		{"kitten", "kitten", 1},
		{"kitten", "sitting", 8.0 / 13},
		{"Total", "T0tal", 0.8},
		{"abcde", "abcdef", 10.0 / 11},
		{"ba", "ab", 0.5},
		{"Größe", "Grösse", 8.0 / 11},
	}
	for _, tt := range tests {
		if got := Similarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Similarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestPolicyAccept(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name               string
		primary, secondary string
		similarity         float64
		want               bool
	}{
		{"similar enough", "Total 10", "Total 1O", 0.85, true},
		{"dissimilar same length", "Total", "Tctai", 0.40, false},
		{"longer by exactly margin", "abc", "abcdef", 0.1, false},
		{"longer by more than margin", "abc", "abcdefg", 0.1, true},
		{"empty secondary never wins", "abc", "", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Accept(tt.primary, tt.secondary, tt.similarity); got != tt.want {
				t.Errorf("Accept = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSimilarityDrivesAcceptance(t *testing.T) {
	frame := imgproc.NewFrame(100, 40, 3)
	line := TextLine{Box: image.Rect(10, 10, 60, 30), Text: "abcdef", Confidence: 0.5}

	m := NewFusionMerger(&fakeRecognizer{text: "abcde"}, DefaultConfidenceThreshold, nil)
	got, err := m.Fuse(context.Background(), frame, []TextLine{line})
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if got[0].Text != "abcde" || got[0].Source != SourceSecondary {
		t.Errorf("got %q/%v, want secondary text accepted", got[0].Text, got[0].Source)
	}
}

func TestFuse(t *testing.T) {
	frame := imgproc.NewFrame(100, 40, 3)
	box := image.Rect(10, 10, 60, 30)

	tests := []struct {
		name       string
		line       TextLine
		secondary  *fakeRecognizer
		similarity float64
		wantText   string
		wantSource Source
		wantCalls  int
	}{
		{
			name:       "confident line is kept verbatim",
			line:       TextLine{Box: box, Text: "Invoice", Confidence: 0.9},
			secondary:  &fakeRecognizer{text: "Invo1ce"},
			similarity: 1,
			wantText:   "Invoice",
			wantSource: SourcePrimary,
		},
		{
			name:       "low confidence dissimilar and not longer keeps primary",
			line:       TextLine{Box: box, Text: "Total", Confidence: 0.60},
			secondary:  &fakeRecognizer{text: "Tctai"},
			similarity: 0.40,
			wantText:   "Total",
			wantSource: SourceFused,
			wantCalls:  1,
		},
		{
			name:       "low confidence similar takes secondary",
			line:       TextLine{Box: box, Text: "T0tal", Confidence: 0.5},
			secondary:  &fakeRecognizer{text: "Total"},
			similarity: 0.9,
			wantText:   "Total",
			wantSource: SourceSecondary,
			wantCalls:  1,
		},
		{
			name:       "much longer secondary wins",
			line:       TextLine{Box: box, Text: "Amt", Confidence: 0.3},
			secondary:  &fakeRecognizer{text: "Amount due"},
			similarity: 0.1,
			wantText:   "Amount due",
			wantSource: SourceSecondary,
			wantCalls:  1,
		},
		{
			name:       "secondary failure keeps primary",
			line:       TextLine{Box: box, Text: "Date", Confidence: 0.2},
			secondary:  &fakeRecognizer{err: errors.New("tesseract crashed")},
			similarity: 1,
			wantText:   "Date",
			wantSource: SourceFused,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewFusionMerger(tt.secondary, DefaultConfidenceThreshold, nil)
			m.Similarity = fixedSimilarity(tt.similarity)

			for run := 0; run < 2; run++ {
				tt.secondary.calls = 0
				got, err := m.Fuse(context.Background(), frame, []TextLine{tt.line})
				if err != nil {
					t.Fatalf("Fuse: %v", err)
				}
				if got[0].Text != tt.wantText || got[0].Source != tt.wantSource {
					t.Fatalf("run %d: got %q/%v, want %q/%v", run, got[0].Text, got[0].Source, tt.wantText, tt.wantSource)
				}
				if tt.secondary.calls != tt.wantCalls {
					t.Errorf("secondary calls = %d, want %d", tt.secondary.calls, tt.wantCalls)
				}
			}
		})
	}
}

func TestFuseTextKeepsDetectionOrder(t *testing.T) {
	frame := imgproc.NewFrame(100, 100, 3)
	lines := []TextLine{
		{Box: image.Rect(0, 0, 50, 20), Text: "first", Confidence: 0.99},
		{Box: image.Rect(0, 30, 50, 50), Text: "second", Confidence: 0.95},
	}
	m := NewFusionMerger(&fakeRecognizer{}, DefaultConfidenceThreshold, nil)
	text, err := m.FuseText(context.Background(), frame, lines)
	if err != nil {
		t.Fatal(err)
	}
	if text != "first\nsecond" {
		t.Errorf("text = %q", text)
	}
}

func TestUsableLinesDropsDegenerateCrops(t *testing.T) {
	frame := imgproc.NewFrame(100, 100, 3)
	lines := []TextLine{
		{Box: image.Rect(0, 0, 50, 20), Text: "ok"},
		{Box: image.Rect(10, 10, 14, 40), Text: "narrow"},
		{Box: image.Rect(95, 95, 140, 140), Text: "clipped"},
	}
	got := UsableLines(frame, lines)
	if len(got) != 1 || got[0].Text != "ok" {
		t.Errorf("usable lines = %+v", got)
	}
}

func TestBoxFromPolygon(t *testing.T) {
	poly := []image.Point{{12, 5}, {40, 7}, {39, 20}, {10, 18}}
	if got, want := BoxFromPolygon(poly), image.Rect(10, 5, 40, 20); got != want {
		t.Errorf("BoxFromPolygon = %v, want %v", got, want)
	}
}
