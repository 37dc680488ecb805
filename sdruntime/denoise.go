package sdruntime

import (
	"context"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"
)

// Denoising limits.
const (
	MaxSteps        = 150
	SizeMultiple    = 8
	MaxPromptLength = 2000
)

// Mask marks latent pixels to regenerate with weights in [0, 1].
// Weight 1 regenerates; weight 0 keeps the source pixel.
type Mask struct {
	Width  int
	Height int
	Data   []float64
}

// MaskFromImage thresholds img at mid-grey after nearest-neighbour resizing
// to width x height. White regions are regenerated. The resize samples cell
// centres, the same as the compositor's mask scaling.
func MaskFromImage(img image.Image, width, height int) *Mask {
	g := image.NewGray(image.Rect(0, 0, width, height))
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	} else {
		draw.NearestNeighbor.Scale(g, g.Bounds(), img, b, draw.Src, nil)
	}

	m := &Mask{Width: width, Height: height, Data: make([]float64, width*height)}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if g.GrayAt(x, y).Y >= 128 {
				m.Data[y*width+x] = 1
			}
		}
	}
	return m
}

// DenoiseRequest describes one window of the noise schedule.
//
// The schedule always has Steps steps. A plain run covers all of them. A
// first stage sets DenoisingEnd and returns a partially denoised latent; a
// second stage passes that latent in Latent with DenoisingStart equal to the
// first stage's DenoisingEnd. Image switches to image-to-image, starting
// Strength of the way up the schedule. Mask with Source restricts changes to
// the masked region.
type DenoiseRequest struct {
	Prompt          string
	NegativePrompt  string
	SecondaryPrompt string

	Width         int
	Height        int
	Steps         int
	GuidanceScale float64
	Generator     *Generator

	Image    *Latent
	Strength float64

	DenoisingStart float64
	DenoisingEnd   float64
	Latent         *Latent

	Mask   *Mask
	Source *Latent

	AdapterImage image.Image

	// OnStep is called after each completed step with the step's index in
	// the full schedule.
	OnStep func(step, total int)
}

// SplitStep converts a fraction of the schedule into a step boundary. Any
// fraction strictly inside (0, 1) yields a boundary that leaves at least
// one step on each side.
func SplitStep(steps int, frac float64) int {
	switch {
	case frac <= 0:
		return 0
	case frac >= 1:
		return steps
	}
	k := int(math.Round(frac * float64(steps)))
	if k < 1 {
		k = 1
	}
	if k > steps-1 {
		k = steps - 1
	}
	return k
}

// StrengthStart is the first step run for image-to-image at strength s.
func StrengthStart(steps int, strength float64) int {
	init := int(strength * float64(steps))
	if init > steps {
		init = steps
	}
	if init < 0 {
		init = 0
	}
	return steps - init
}

// Window returns the half-open range of steps the request will run.
func (r DenoiseRequest) Window() (start, end int, err error) {
	if err := r.validate(); err != nil {
		return 0, 0, err
	}
	end = r.Steps
	if r.DenoisingEnd > 0 {
		end = SplitStep(r.Steps, r.DenoisingEnd)
	}
	switch {
	case r.Latent != nil:
		start = SplitStep(r.Steps, r.DenoisingStart)
	case r.Image != nil && r.Mask == nil:
		start = StrengthStart(r.Steps, r.Strength)
	}
	if start > end {
		return 0, 0, fmt.Errorf("%w: window starts at step %d after it ends at %d", ErrInvalidParams, start, end)
	}
	return start, end, nil
}

func (r DenoiseRequest) validate() error {
	switch {
	case r.Width <= 0 || r.Height <= 0 || r.Width%SizeMultiple != 0 || r.Height%SizeMultiple != 0:
		return fmt.Errorf("%w: size %dx%d must be positive multiples of %d", ErrInvalidParams, r.Width, r.Height, SizeMultiple)
	case r.Steps < 1 || r.Steps > MaxSteps:
		return fmt.Errorf("%w: steps %d outside [1, %d]", ErrInvalidParams, r.Steps, MaxSteps)
	case r.Generator == nil:
		return fmt.Errorf("%w: generator is required", ErrInvalidParams)
	case len(r.Prompt) > MaxPromptLength || len(r.NegativePrompt) > MaxPromptLength || len(r.SecondaryPrompt) > MaxPromptLength:
		return fmt.Errorf("%w: prompt longer than %d bytes", ErrInvalidParams, MaxPromptLength)
	case r.Strength < 0 || r.Strength > 1:
		return fmt.Errorf("%w: strength %v outside [0, 1]", ErrInvalidParams, r.Strength)
	case r.DenoisingStart < 0 || r.DenoisingStart > 1 || r.DenoisingEnd < 0 || r.DenoisingEnd > 1:
		return fmt.Errorf("%w: denoising fractions must lie in [0, 1]", ErrInvalidParams)
	case r.DenoisingStart > 0 && r.Latent == nil:
		return fmt.Errorf("%w: denoising start needs an input latent", ErrInvalidParams)
	case r.Mask != nil && r.Source == nil:
		return fmt.Errorf("%w: mask needs a source latent", ErrInvalidParams)
	}
	for _, l := range []*Latent{r.Image, r.Latent, r.Source} {
		if l != nil && (l.Width != r.Width || l.Height != r.Height || len(l.Data) != r.Width*r.Height*Channels) {
			return fmt.Errorf("%w: latent %dx%d for %dx%d request", ErrShapeMismatch, l.Width, l.Height, r.Width, r.Height)
		}
	}
	if m := r.Mask; m != nil && (m.Width != r.Width || m.Height != r.Height || len(m.Data) != r.Width*r.Height) {
		return fmt.Errorf("%w: mask %dx%d for %dx%d request", ErrShapeMismatch, m.Width, m.Height, r.Width, r.Height)
	}
	return nil
}

// sigma is the noise level at step i of n: 1 at the start, 0 at the end.
func sigma(i, n int) float64 { return 1 - float64(i)/float64(n) }

func alpha(s float64) float64 { return math.Sqrt(math.Max(0, 1-s*s)) }

// Denoise runs the request's window and returns the resulting latent. When
// the window ends before the last step the latent is still noisy and is
// meant for a second stage. The context is checked before every step.
func (m *Model) Denoise(ctx context.Context, req DenoiseRequest) (*Latent, error) {
	start, end, err := req.Window()
	if err != nil {
		return nil, err
	}
	n := req.Steps
	size := req.Width * req.Height * Channels

	x := make([]float64, size)
	switch {
	case req.Latent != nil:
		copy(x, req.Latent.Data)
	default:
		req.Generator.Normal(x)
		if req.Image != nil && req.Mask == nil {
			s := sigma(start, n)
			floats.Scale(s, x)
			floats.AddScaled(x, alpha(s), req.Image.Data)
		}
	}

	m.mu.RLock()
	denoiser := m.denoiser
	adapter, adapterScale := m.adapter, m.adapterScale
	m.mu.RUnlock()

	cond := m.conditioning(req, adapter, adapterScale)
	target := denoiser.target(cond, req.Width, req.Height).Data

	x0 := make([]float64, size)
	eps := make([]float64, size)
	z := make([]float64, size)
	known := make([]float64, size)

	for i := start; i < end; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, sn := sigma(i, n), sigma(i+1, n)
		a, an := alpha(s), alpha(sn)

		// Predict the clean latent: the target dominates at high noise, the
		// current latent at low noise.
		for j, v := range x {
			x0[j] = s*target[j] + (1-s)*math.Max(-1, math.Min(1, v))
		}
		floats.AddScaledTo(eps, x, -a, x0)
		floats.Scale(1/s, eps)

		floats.ScaleTo(x, an, x0)
		if m.scheduler == SchedulerEulerAncestral {
			up := sn * math.Sqrt(math.Max(0, 1-(sn*sn)/(s*s)))
			down := math.Sqrt(math.Max(0, sn*sn-up*up))
			req.Generator.Normal(z)
			floats.AddScaled(x, down, eps)
			floats.AddScaled(x, up, z)
		} else {
			floats.AddScaled(x, sn, eps)
		}

		if req.Mask != nil {
			req.Generator.Normal(z)
			floats.ScaleTo(known, an, req.Source.Data)
			floats.AddScaled(known, sn, z)
			for p, w := range req.Mask.Data {
				for c := 0; c < Channels; c++ {
					j := p*Channels + c
					x[j] = w*x[j] + (1-w)*known[j]
				}
			}
		}

		if req.OnStep != nil {
			req.OnStep(i, n)
		}
	}

	return &Latent{Width: req.Width, Height: req.Height, Data: x}, nil
}

// conditioning mixes prompt embeddings, classifier-free guidance and the
// optional image prompt into one vector.
func (m *Model) conditioning(req DenoiseRequest, adapter *Adapter, adapterScale float64) []float64 {
	second := req.SecondaryPrompt
	if second == "" {
		second = req.Prompt
	}
	pos := m.embed(req.Prompt, second)
	neg := m.embed(req.NegativePrompt, req.NegativePrompt)

	if adapter != nil && req.AdapterImage != nil && m.kind == KindBase {
		floats.Scale(1-adapterScale, pos)
		floats.AddScaled(pos, adapterScale, adapter.Embed(req.AdapterImage))
	}

	g := req.GuidanceScale
	if g < 1 {
		g = 1
	}
	diff := make([]float64, EmbeddingDim)
	floats.SubTo(diff, pos, neg)
	floats.AddScaled(pos, 0.1*(g-1), diff)
	return pos
}

// embed averages both encoders for a base model. A refiner only has the
// second encoder and sees only the second prompt.
func (m *Model) embed(first, second string) []float64 {
	e2 := m.textEncoder2.Encode(second)
	if m.textEncoder == nil {
		return e2
	}
	e1 := m.textEncoder.Encode(first)
	floats.Add(e1, e2)
	floats.Scale(0.5, e1)
	return e1
}
