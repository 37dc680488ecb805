package session

import (
	"image"
	"time"

	"sdstudio/compositor"
)

// Image labels used in results.
const (
	LabelImage     = "image"
	LabelBase      = "base"
	LabelRefined   = "refined"
	LabelOriginal  = "original"
	LabelMask      = "mask"
	LabelInpainted = "inpainted"
)

// LabeledImage is one panel of a result.
type LabeledImage struct {
	Label string
	Image image.Image
}

// Result is a finished run. Images are in display order and the last one is
// the final output: refine returns base then refined, inpaint returns
// original, mask and inpainted.
type Result struct {
	Images   []LabeledImage
	Style    string
	Mode     Mode
	Seed     int64
	Steps    int
	Duration time.Duration
	RunID    string
}

// Final is the last-stage image.
func (r *Result) Final() image.Image {
	if r == nil || len(r.Images) == 0 {
		return nil
	}
	return r.Images[len(r.Images)-1].Image
}

// Image returns the panel with the given label.
func (r *Result) Image(label string) (image.Image, bool) {
	for _, li := range r.Images {
		if li.Label == label {
			return li.Image, true
		}
	}
	return nil, false
}

// Composite lays every panel out on one row.
func (r *Result) Composite() (*image.RGBA, error) {
	imgs := make([]image.Image, len(r.Images))
	for i, li := range r.Images {
		imgs[i] = li.Image
	}
	return compositor.Compose(imgs, compositor.Row)
}

// DownloadName is the file name offered for the final image.
func (r *Result) DownloadName(f compositor.Format) string {
	return compositor.DownloadNameFor(r.Style, string(r.Mode), f)
}
