package pipeline

import (
	"context"

	"sdstudio/sdruntime"
	"sdstudio/styles"
)

// BuildFunc constructs a pipeline for a resolved style. The Registry calls
// it at most once per Key at a time.
type BuildFunc func(ctx context.Context, cfg styles.ModelConfig, profile Profile) (*Handle, error)

// NewBuilder returns the BuildFunc that loads components from store.
//
// The base model is loaded first. Staged pipelines then load the refiner
// against it so the two share the second text encoder and the VAE. The
// adapter, when the style declares one, and the overlay are applied to the
// base only.
func NewBuilder(store *sdruntime.ArtifactStore) BuildFunc {
	return func(ctx context.Context, cfg styles.ModelConfig, profile Profile) (*Handle, error) {
		key := Key{Style: cfg.StyleName, Profile: profile}
		fail := func(ref string, err error) (*Handle, error) {
			return nil, &ModelLoadError{Key: key, Ref: ref, Cause: err}
		}

		sched := cfg.SchedulerName()
		base, err := sdruntime.LoadModel(ctx, store, cfg.BaseModel, sched)
		if err != nil {
			return fail(cfg.BaseModel, err)
		}

		h := &Handle{Key: key, Config: cfg, Base: base}
		if UsesRefiner(cfg, profile) {
			h.Refiner, err = sdruntime.LoadRefiner(ctx, store, cfg.RefinerModel, base, sched)
			if err != nil {
				return fail(cfg.RefinerModel, err)
			}
		}

		if cfg.HasAdapter() {
			ref := cfg.Adapter.Ref()
			adapter, err := sdruntime.LoadAdapter(ctx, store, ref)
			if err != nil {
				return fail(ref, err)
			}
			if err := base.AttachAdapter(adapter, cfg.Adapter.DefaultScale); err != nil {
				return fail(ref, err)
			}
		}

		if o := cfg.Overlay; o != nil {
			overlay, err := sdruntime.LoadOverlay(ctx, store, o.Ref)
			if err != nil {
				return fail(o.Ref, err)
			}
			if err := base.MergeOverlay(overlay, o.EffectiveScale()); err != nil {
				return fail(o.Ref, err)
			}
		}
		return h, nil
	}
}
