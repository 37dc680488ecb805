package sdruntime

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Channels in every latent. The reference engine denoises directly in
// normalised RGB space.
const Channels = 3

// Latent is a width x height x Channels tensor, channel-interleaved and
// row-major.
type Latent struct {
	Width  int
	Height int
	Data   []float64
}

// NewLatent allocates a zero latent.
func NewLatent(width, height int) *Latent {
	return &Latent{Width: width, Height: height, Data: make([]float64, width*height*Channels)}
}

// Clone deep-copies l.
func (l *Latent) Clone() *Latent {
	c := &Latent{Width: l.Width, Height: l.Height, Data: make([]float64, len(l.Data))}
	copy(c.Data, l.Data)
	return c
}

// SameShape reports whether o can be combined element-wise with l.
func (l *Latent) SameShape(o *Latent) bool {
	return o != nil && l.Width == o.Width && l.Height == o.Height && len(l.Data) == len(o.Data)
}

// Distance is the root-mean-square difference between two latents.
func (l *Latent) Distance(o *Latent) (float64, error) {
	if !l.SameShape(o) {
		return 0, fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, l.Width, l.Height, o.Width, o.Height)
	}
	if len(l.Data) == 0 {
		return 0, nil
	}
	d := floats.Distance(l.Data, o.Data, 2)
	return d / math.Sqrt(float64(len(l.Data))), nil
}
