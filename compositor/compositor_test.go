package compositor

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// near tolerates the rounding of the resampling kernels.
func near(a, b color.RGBA) bool {
	d := func(x, y uint8) bool { return x-y <= 1 || y-x <= 1 }
	return d(a.R, b.R) && d(a.G, b.G) && d(a.B, b.B) && d(a.A, b.A)
}

var (
	red   = color.RGBA{0xff, 0, 0, 0xff}
	green = color.RGBA{0, 0xff, 0, 0xff}
	blue  = color.RGBA{0, 0, 0xff, 0xff}
	white = color.RGBA{0xff, 0xff, 0xff, 0xff}
	black = color.RGBA{0, 0, 0, 0xff}
)

func TestCompose_Row(t *testing.T) {
	out, err := Compose([]image.Image{solid(4, 3, red), solid(4, 3, green), solid(8, 6, blue)}, Row)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Bounds(); got != image.Rect(0, 0, 12, 3) {
		t.Fatalf("bounds = %v, want 12x3", got)
	}
	for i, want := range []color.RGBA{red, green, blue} {
		if got := out.RGBAAt(i*4+1, 1); !near(got, want) {
			t.Errorf("tile %d = %v, want %v", i, got, want)
		}
	}
}

func TestCompose_Wraps(t *testing.T) {
	imgs := []image.Image{solid(2, 2, red), solid(2, 2, green), solid(2, 2, blue)}
	out, err := Compose(imgs, Layout{Columns: 2})
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Bounds(); got != image.Rect(0, 0, 4, 4) {
		t.Fatalf("bounds = %v, want 4x4", got)
	}
	if got := out.RGBAAt(0, 2); got != blue {
		t.Errorf("second row = %v, want blue", got)
	}
	if got := out.RGBAAt(3, 3); got.A != 0 {
		t.Errorf("empty cell should stay transparent, got %v", got)
	}
}

func TestCompose_Errors(t *testing.T) {
	tests := []struct {
		name   string
		images []image.Image
		layout Layout
		want   error
	}{
		{"none", nil, Row, ErrNoImages},
		{"negative columns", []image.Image{solid(1, 1, red)}, Layout{Columns: -1}, ErrInvalidLayout},
		{"empty tile", []image.Image{solid(1, 1, red), image.NewRGBA(image.Rect(0, 0, 0, 0))}, Row, ErrEmptyImage},
		{"nil tile", []image.Image{nil}, Row, ErrEmptyImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compose(tt.images, tt.layout); !errors.Is(err, tt.want) {
				t.Errorf("Compose() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestApplyMask(t *testing.T) {
	mask := solid(8, 8, black)
	for y := 0; y < 8; y++ {
		for x := 4; x < 8; x++ {
			mask.SetRGBA(x, y, white)
		}
	}
	// The original is half the size; it is scaled up before blending.
	out, err := ApplyMask(solid(4, 4, red), solid(8, 8, blue), mask)
	if err != nil {
		t.Fatal(err)
	}
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			want := red
			if x >= 4 {
				want = blue
			}
			if got := out.RGBAAt(x, y); !near(got, want) {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestApplyMask_AllBlackKeepsOriginal(t *testing.T) {
	orig := solid(6, 6, green)
	out, err := ApplyMask(orig, solid(6, 6, red), solid(2, 2, black))
	if err != nil {
		t.Fatal(err)
	}
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			if !near(out.RGBAAt(x, y), green) {
				t.Fatalf("pixel (%d,%d) changed under a black mask", x, y)
			}
		}
	}
}

func TestMaskPreview(t *testing.T) {
	m := image.NewGray(image.Rect(0, 0, 2, 1))
	m.SetGray(0, 0, color.Gray{Y: 200})
	m.SetGray(1, 0, color.Gray{Y: 100})
	out := MaskPreview(m, 4, 2)
	if out.RGBAAt(0, 1) != white || out.RGBAAt(3, 0) != black {
		t.Errorf("MaskPreview thresholds wrong: %v %v", out.RGBAAt(0, 1), out.RGBAAt(3, 0))
	}
}

func TestScaleMask_SamplesCellCentres(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 4, 1))
	src.SetGray(0, 0, color.Gray{Y: 255})
	src.SetGray(2, 0, color.Gray{Y: 255})
	g := ScaleMask(src, 2, 1)
	if g.GrayAt(0, 0).Y != 0 || g.GrayAt(1, 0).Y != 0 {
		t.Errorf("ScaleMask = %v, want the odd (black) columns", g.Pix)
	}
}

func TestResize_MatchesApplyMaskOriginal(t *testing.T) {
	orig := image.NewRGBA(image.Rect(0, 0, 7, 5))
	for i := range orig.Pix {
		orig.Pix[i] = uint8(i * 37)
	}
	for i := 3; i < len(orig.Pix); i += 4 {
		orig.Pix[i] = 0xff
	}
	out, err := ApplyMask(orig, solid(16, 16, blue), solid(1, 1, black))
	if err != nil {
		t.Fatal(err)
	}
	if want := Resize(orig, 16, 16); !bytes.Equal(out.Pix, want.Pix) {
		t.Error("pixels kept by ApplyMask differ from Resize of the original")
	}
}
