package sdruntime

import (
	"context"
	"fmt"
	"image"
	"sync"
)

// Scheduler names accepted by LoadModel.
const (
	SchedulerEulerAncestral = "euler_a"
	SchedulerEuler          = "euler"
)

// Kind distinguishes first-stage models from refiners.
type Kind int

const (
	KindBase Kind = iota
	KindRefiner
)

func (k Kind) String() string {
	if k == KindRefiner {
		return "refiner"
	}
	return "base"
}

// Model is a loaded denoising model with its text encoders and VAE.
//
// Components are read-only after construction except for the adapter scale,
// which SetAdapterScale guards. A refiner has no first text encoder and
// shares the second one and the VAE with the base it was loaded against.
type Model struct {
	ref       string
	kind      Kind
	scheduler string

	textEncoder  *TextEncoder
	textEncoder2 *TextEncoder
	denoiser     *Denoiser
	vae          *VAE

	mu           sync.RWMutex
	adapter      *Adapter
	adapterScale float64
	overlays     []string
}

// LoadModel loads a base model from the store.
func LoadModel(ctx context.Context, store *ArtifactStore, ref, scheduler string) (*Model, error) {
	if err := checkScheduler(scheduler); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fp, err := store.Fingerprint(ref)
	if err != nil {
		return nil, err
	}
	return &Model{
		ref:          ref,
		kind:         KindBase,
		scheduler:    scheduler,
		textEncoder:  newTextEncoder(fp, "text_encoder"),
		textEncoder2: newTextEncoder(fp, "text_encoder_2"),
		denoiser:     newDenoiser(fp, "unet"),
		vae:          newVAE(fp),
	}, nil
}

// LoadRefiner loads a refiner that reuses base's second text encoder and
// VAE. Only the refiner's own denoiser is read from ref.
func LoadRefiner(ctx context.Context, store *ArtifactStore, ref string, base *Model, scheduler string) (*Model, error) {
	if base == nil || base.kind != KindBase {
		return nil, fmt.Errorf("%w: refiner %s", ErrNotBaseModel, ref)
	}
	if err := checkScheduler(scheduler); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fp, err := store.Fingerprint(ref)
	if err != nil {
		return nil, err
	}
	return &Model{
		ref:          ref,
		kind:         KindRefiner,
		scheduler:    scheduler,
		textEncoder2: base.textEncoder2,
		denoiser:     newDenoiser(fp, "unet"),
		vae:          base.vae,
	}, nil
}

func checkScheduler(name string) error {
	switch name {
	case SchedulerEulerAncestral, SchedulerEuler:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownScheduler, name)
}

func (m *Model) Ref() string       { return m.ref }
func (m *Model) Kind() Kind        { return m.kind }
func (m *Model) Scheduler() string { return m.scheduler }

// TextEncoder2 returns the second text encoder. Base and refiner share it.
func (m *Model) TextEncoder2() *TextEncoder { return m.textEncoder2 }

// VAE returns the latent codec. Base and refiner share it.
func (m *Model) VAE() *VAE { return m.vae }

// Encode converts img to a latent of the given size.
func (m *Model) Encode(img image.Image, width, height int) *Latent {
	return m.vae.Encode(img, width, height)
}

// Decode converts a latent to pixels.
func (m *Model) Decode(l *Latent) *image.NRGBA {
	return m.vae.Decode(l)
}

// LoadAdapter reads image-prompt adapter weights.
func LoadAdapter(ctx context.Context, store *ArtifactStore, ref string) (*Adapter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fp, err := store.Fingerprint(ref)
	if err != nil {
		return nil, err
	}
	return newAdapter(ref, fp), nil
}

// AttachAdapter installs a on a base model at the given scale.
func (m *Model) AttachAdapter(a *Adapter, scale float64) error {
	if m.kind != KindBase {
		return fmt.Errorf("%w: cannot attach adapter to %s", ErrNotBaseModel, m.ref)
	}
	if scale < 0 || scale > 1 {
		return fmt.Errorf("%w: adapter scale %v outside [0, 1]", ErrInvalidParams, scale)
	}
	m.mu.Lock()
	m.adapter = a
	m.adapterScale = scale
	m.mu.Unlock()
	return nil
}

// SetAdapterScale changes the blend between text and image conditioning.
func (m *Model) SetAdapterScale(scale float64) error {
	if scale < 0 || scale > 1 {
		return fmt.Errorf("%w: adapter scale %v outside [0, 1]", ErrInvalidParams, scale)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.adapter == nil {
		return ErrNoAdapter
	}
	m.adapterScale = scale
	return nil
}

// AdapterScale reports the current scale and whether an adapter is attached.
func (m *Model) AdapterScale() (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.adapterScale, m.adapter != nil
}

// LoadOverlay reads a low-rank overlay. Its delta has the same shape as a
// denoiser's weights.
func LoadOverlay(ctx context.Context, store *ArtifactStore, ref string) (*Overlay, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fp, err := store.Fingerprint(ref)
	if err != nil {
		return nil, err
	}
	return &Overlay{ref: ref, delta: expandWeights(fp, "lora", 2*EmbeddingDim)}, nil
}

// MergeOverlay adds scale times the overlay delta to the base denoiser.
// The merge is permanent for this Model.
func (m *Model) MergeOverlay(o *Overlay, scale float64) error {
	if m.kind != KindBase {
		return fmt.Errorf("%w: cannot merge overlay into %s", ErrNotBaseModel, m.ref)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.denoiser.clone()
	d.merge(o.delta, scale)
	m.denoiser = d
	m.overlays = append(m.overlays, o.ref)
	return nil
}

// Overlays lists merged overlay references in merge order.
func (m *Model) Overlays() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.overlays))
	copy(out, m.overlays)
	return out
}
