// Package compositor assembles generated images for display and download.
//
// Every function here is pure: inputs are never modified and the returned
// images are freshly allocated.
package compositor

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

var (
	ErrNoImages      = errors.New("compositor: no images to compose")
	ErrInvalidLayout = errors.New("compositor: invalid layout")
	ErrEmptyImage    = errors.New("compositor: empty image")
)

// Layout controls how Compose tiles images. Columns <= 0 places every image
// on a single row.
type Layout struct {
	Columns int
}

// Row is the single-row layout used for base|refined pairs and triptychs.
var Row = Layout{}

// Compose tiles images left to right, wrapping after layout.Columns. Every
// tile is resized to the size of the first image.
func Compose(images []image.Image, layout Layout) (*image.RGBA, error) {
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	if layout.Columns < 0 {
		return nil, fmt.Errorf("%w: %d columns", ErrInvalidLayout, layout.Columns)
	}
	for i, img := range images {
		if img == nil || img.Bounds().Empty() {
			return nil, fmt.Errorf("%w: tile %d", ErrEmptyImage, i)
		}
	}

	cols := layout.Columns
	if cols == 0 || cols > len(images) {
		cols = len(images)
	}
	rows := (len(images) + cols - 1) / cols

	tw, th := images[0].Bounds().Dx(), images[0].Bounds().Dy()
	out := image.NewRGBA(image.Rect(0, 0, cols*tw, rows*th))

	for i, img := range images {
		x, y := (i%cols)*tw, (i/cols)*th
		cell := image.Rect(x, y, x+tw, y+th)
		b := img.Bounds()
		if b.Dx() == tw && b.Dy() == th {
			draw.Draw(out, cell, img, b.Min, draw.Src)
			continue
		}
		draw.CatmullRom.Scale(out, cell, img, b, draw.Src, nil)
	}
	return out, nil
}

// ApplyMask blends original and generated through mask. The original is
// resized with Resize and the mask with ScaleMask to the generated image's
// size. Pixels where the mask is white (luma >= 128) come from generated;
// all others come from original.
func ApplyMask(original, generated, mask image.Image) (*image.RGBA, error) {
	for _, img := range []image.Image{original, generated, mask} {
		if img == nil || img.Bounds().Empty() {
			return nil, ErrEmptyImage
		}
	}

	gb := generated.Bounds()
	w, h := gb.Dx(), gb.Dy()
	rect := image.Rect(0, 0, w, h)

	orig := Resize(original, w, h)
	m := ScaleMask(mask, w, h)

	out := image.NewRGBA(rect)
	draw.Draw(out, rect, generated, gb.Min, draw.Src)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if m.GrayAt(x, y).Y < 128 {
				out.SetRGBA(x, y, orig.RGBAAt(x, y))
			}
		}
	}
	return out, nil
}

// ScaleMask resizes mask by nearest neighbour (cell centres) to width x
// height as a grey image. Callers that build a latent mask use this so the
// regenerated region and the composited region agree pixel for pixel.
func ScaleMask(mask image.Image, width, height int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, width, height))
	scaleInto(g, mask, draw.NearestNeighbor)
	return g
}

// MaskPreview renders a mask as an opaque black and white image at the
// given size, thresholded the way ApplyMask reads it.
func MaskPreview(mask image.Image, width, height int) *image.RGBA {
	g := ScaleMask(mask, width, height)

	out := image.NewRGBA(g.Bounds())
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.RGBA{A: 0xff}
			if g.GrayAt(x, y).Y >= 128 {
				c = color.RGBA{0xff, 0xff, 0xff, 0xff}
			}
			out.SetRGBA(x, y, c)
		}
	}
	return out
}

// Resize scales img to width x height bilinearly. ApplyMask resizes the
// original with it, so a resized original panel matches the kept pixels of
// an inpainted image exactly.
func Resize(img image.Image, width, height int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	scaleInto(out, img, draw.BiLinear)
	return out
}

// scaleInto fills dst with src, copying pixels directly when the sizes
// already match.
func scaleInto(dst draw.Image, src image.Image, s draw.Scaler) {
	db, sb := dst.Bounds(), src.Bounds()
	if db.Dx() == sb.Dx() && db.Dy() == sb.Dy() {
		draw.Draw(dst, db, src, sb.Min, draw.Src)
		return
	}
	s.Scale(dst, db, src, sb, draw.Src, nil)
}
