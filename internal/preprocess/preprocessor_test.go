package preprocess

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"testing"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"imageocr/internal/imgproc"
)

func textFrame(t *testing.T, text string) *imgproc.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 240, 60))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	d := &font.Drawer{Dst: img, Src: image.Black, Face: basicfont.Face7x13, Dot: fixed.P(10, 35)}
	d.DrawString(text)
	return imgproc.FromImage(img)
}

func isBinary(f *imgproc.Frame) bool {
	for _, v := range f.Pix {
		if v != 0 && v != 255 {
			return false
		}
	}
	return true
}

func TestRunPropagatesPriorFrameOnFailure(t *testing.T) {
	p := New(DefaultOptions(), nil)
	in := imgproc.NewFrame(4, 4, 1)
	marker := func(v uint8) func(*imgproc.Frame) (*imgproc.Frame, error) {
		return func(f *imgproc.Frame) (*imgproc.Frame, error) {
			out := f.Clone()
			out.Pix[0] = v
			return out, nil
		}
	}

	stages := []Stage{
		{Name: "first", Apply: marker(1)},
		{Name: "broken", Apply: func(*imgproc.Frame) (*imgproc.Frame, error) { return nil, errors.New("boom") }},
		{Name: "panics", Apply: func(*imgproc.Frame) (*imgproc.Frame, error) { panic("bad index") }},
		{Name: "last", Apply: marker(2)},
	}

	out, results, err := p.Run(in, stages)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Pix[0] != 2 {
		t.Errorf("final frame marker = %d, want 2", out.Pix[0])
	}
	if len(results) != 4 {
		t.Fatalf("results = %d, want 4", len(results))
	}
	for _, i := range []int{1, 2} {
		if !results[i].Degraded || results[i].Frame.Pix[0] != 1 {
			t.Errorf("stage %s should degrade to the prior frame: %+v", results[i].Stage, results[i])
		}
	}
	if in.Pix[0] != 0 {
		t.Error("input frame must not be mutated")
	}
}

func TestRunStopsOnFatalStage(t *testing.T) {
	p := New(DefaultOptions(), nil)
	bad := &imgproc.Frame{W: 2, H: 2, C: 2, Pix: make([]uint8, 8)}
	_, _, err := p.Run(bad, []Stage{{Name: "grayscale", Fatal: true, Apply: imgproc.ToGray}})
	if !errors.Is(err, imgproc.ErrUnsupportedImageShape) {
		t.Fatalf("err = %v, want ErrUnsupportedImageShape", err)
	}
	if !IsFatal(err) {
		t.Error("IsFatal should recognise the shape error")
	}
}

func TestUpscale(t *testing.T) {
	f := imgproc.NewFrame(8, 6, 3)

	p := New(DefaultOptions(), BicubicUpscaler{Factor: 2})
	out := p.Upscale(context.Background(), f)
	if out.W != 16 || out.H != 12 || out.C != 3 {
		t.Errorf("upscaled to %s, want 16x12x3", out)
	}

	disabled := New(Options{UseSuperResolution: false}, BicubicUpscaler{Factor: 2})
	if out := disabled.Upscale(context.Background(), f); out != f {
		t.Error("disabled stage should pass the frame through")
	}
}

func TestBicubicUpscalerNeedsNoModelFile(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := BicubicUpscaler{Factor: 3}.Upscale(context.Background(), imgproc.NewFrame(4, 5, 1))
	if err != nil {
		t.Fatalf("Upscale: %v", err)
	}
	if out.W != 12 || out.H != 15 {
		t.Errorf("upscaled to %s, want 12x15x1", out)
	}
}

func TestBicubicUpscalerLimits(t *testing.T) {
	big := &imgproc.Frame{W: 5000, H: 5000, C: 1}
	if _, err := (BicubicUpscaler{Factor: 2}).Upscale(context.Background(), big); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("err = %v, want ErrFrameTooLarge", err)
	}

	p := New(DefaultOptions(), BicubicUpscaler{Factor: 2})
	if out := p.Upscale(context.Background(), big); out != big {
		t.Error("oversized frame should pass through")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (BicubicUpscaler{Factor: 2}).Upscale(ctx, imgproc.NewFrame(2, 2, 1)); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestWhitenBackground(t *testing.T) {
	f := imgproc.NewFrame(2, 1, 3)
	copy(f.Pix, []uint8{20, 20, 20, 200, 190, 180})
	out, err := WhitenBackground(f)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint8{20, 20, 20, 255, 255, 255}
	for i := range want {
		if out.Pix[i] != want[i] {
			t.Fatalf("pix = %v, want %v", out.Pix, want)
		}
	}
}

func TestNormalizePolarity(t *testing.T) {
	f := imgproc.NewFrame(3, 1, 1)
	f.Pix[2] = 255
	out, _ := NormalizePolarity(f)
	if out.Pix[0] != 255 || out.Pix[2] != 0 {
		t.Errorf("mostly black frame should be inverted: %v", out.Pix)
	}
	out, _ = NormalizePolarity(out)
	if out.Pix[0] != 255 {
		t.Errorf("mostly white frame should be kept: %v", out.Pix)
	}
}

func TestEnhanceProducesBinaryDarkOnLight(t *testing.T) {
	p := New(Options{UseDeskew: false, BlurThreshold: 100}, nil)
	in := textFrame(t, "Invoice 0042")

	out, results, err := p.Enhance(in)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if out.C != 1 || out.W != in.W || out.H != in.H {
		t.Fatalf("output frame %s, want %dx%dx1", out, in.W, in.H)
	}
	if !isBinary(out) {
		t.Error("output should be binarized")
	}
	black, white := imgproc.CountBinary(out)
	if black == 0 || black > white {
		t.Errorf("expected dark text on light background, black=%d white=%d", black, white)
	}
	for _, r := range results {
		if r.Degraded {
			t.Errorf("stage %s degraded: %v", r.Stage, r.Err)
		}
	}
}

func TestEnhanceFrameDoublesSize(t *testing.T) {
	in := textFrame(t, "frame")
	out, err := EnhanceFrame(in)
	if err != nil {
		t.Fatal(err)
	}
	if out.W != in.W*2 || out.H != in.H*2 || !isBinary(out) {
		t.Errorf("EnhanceFrame output %s, binary=%v", out, isBinary(out))
	}
}

func TestPrepareCrop(t *testing.T) {
	in := textFrame(t, "crop")
	out, err := PrepareCrop(imgproc.Crop(in, image.Rect(5, 20, 60, 40)))
	if err != nil {
		t.Fatal(err)
	}
	if out.W != 55 || out.H != 20 || !isBinary(out) {
		t.Errorf("PrepareCrop output %s", out)
	}
	if _, err := PrepareCrop(imgproc.Crop(in, image.Rect(500, 500, 600, 600))); err == nil {
		t.Error("empty crop should fail")
	}
}
