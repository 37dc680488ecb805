// Package session runs generation requests end to end.
//
// A Session validates a request, fetches the matching pipeline from the
// registry, owns the seeded random generator for the run, hands the latent
// from base to refiner in two-stage runs and reports progress after every
// step. Runs on one Session are sequential.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sdstudio/compositor"
	"sdstudio/core"
	"sdstudio/logging"
	"sdstudio/pipeline"
	"sdstudio/sdruntime"
	"sdstudio/styles"
)

// Styles resolves style names. *styles.Registry implements it.
type Styles interface {
	Resolve(style string) (styles.ModelConfig, error)
}

// Pipelines hands out built pipelines. *pipeline.Registry implements it.
type Pipelines interface {
	Get(ctx context.Context, style string, profile pipeline.Profile) (*pipeline.Handle, error)
}

// Session executes requests one at a time.
type Session struct {
	styles    Styles
	pipelines Pipelines
	defaults  core.GenerationDefaults
	log       *logging.Logger
	recorder  Recorder
	identity  IdentityFunc
	now       func() time.Time

	mu      sync.Mutex
	tracker *core.ProgressTracker
}

// Option configures a Session.
type Option func(*Session)

// WithDefaults replaces core.DefaultGenerationDefaults.
func WithDefaults(d core.GenerationDefaults) Option {
	return func(s *Session) { s.defaults = d }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRecorder stores a record of every run, successful or not.
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// IdentityFunc names the weights of the pipeline a style and profile run on.
// pipeline.Identity is the usual implementation.
type IdentityFunc func(cfg styles.ModelConfig, profile pipeline.Profile) (string, error)

// WithIdentity sets how Resolve fills Resolved.Model.
func WithIdentity(f IdentityFunc) Option {
	return func(s *Session) { s.identity = f }
}

// New creates a Session.
func New(st Styles, pipelines Pipelines, opts ...Option) *Session {
	s := &Session{
		styles:    st,
		pipelines: pipelines,
		defaults:  core.DefaultGenerationDefaults(),
		log:       logging.NewNop(),
		now:       time.Now,
		tracker:   core.NewProgressTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve validates req and returns it as Run would execute it, with every
// default filled in. Requests that resolve equal, with the same Model,
// produce the same images.
func (s *Session) Resolve(req Request) (Resolved, error) {
	cfg, err := s.styles.Resolve(req.Style)
	if err != nil {
		return Resolved{}, err
	}
	p, verr := s.prepare(req, cfg)
	if verr != nil {
		return Resolved{}, verr
	}
	out := Resolved{Request: p.request()}
	if s.identity != nil {
		if out.Model, err = s.identity(cfg, p.profile); err != nil {
			return Resolved{}, err
		}
	}
	return out, nil
}

// Run executes req. onProgress may be nil.
//
// Errors are a styles.ErrUnknownStyle, a *ValidationError, a
// *pipeline.ModelLoadError or a *GenerationError. Cancelling ctx stops the
// run at the next step boundary with a *GenerationError wrapping ctx.Err().
func (s *Session) Run(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error) {
	cfg, err := s.styles.Resolve(req.Style)
	if err != nil {
		return nil, err
	}
	p, verr := s.prepare(req, cfg)
	if verr != nil {
		return nil, verr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	runID := uuid.NewString()
	log := s.log.With(zap.String("run_id", runID), zap.String("style", cfg.StyleName), zap.String("mode", string(p.mode)))
	start := s.now()

	res, err := s.run(ctx, p, start, onProgress)
	dur := s.now().Sub(start)
	if res != nil {
		res.RunID = runID
		res.Duration = dur
	}

	if err != nil {
		log.Warn("generation failed", zap.Error(err), zap.Duration("elapsed", dur))
	} else {
		log.Info("generation finished",
			zap.Int64("seed", p.seed),
			zap.Int("steps", p.steps),
			zap.Duration("elapsed", dur))
	}
	s.record(ctx, log, runID, p, start, dur, err)
	return res, err
}

func (s *Session) run(ctx context.Context, p *plan, start time.Time, onProgress ProgressFunc) (*Result, error) {
	h, err := s.pipelines.Get(ctx, p.style.StyleName, p.profile)
	if err != nil {
		var mle *pipeline.ModelLoadError
		if errors.As(err, &mle) || errors.Is(err, styles.ErrUnknownStyle) {
			return nil, err
		}
		if errors.Is(err, pipeline.ErrUnsupportedProfile) {
			return nil, &ValidationError{Field: "mode", Reason: err.Error(), Err: err}
		}
		return nil, &GenerationError{Stage: StageSetup, Cause: err}
	}

	release, err := h.Acquire(p.adapterScale)
	if err != nil {
		return nil, &GenerationError{Stage: StageSetup, Cause: err}
	}
	defer release()

	first := 0
	if p.mode == ModeImg2Img {
		first = sdruntime.StrengthStart(p.steps, p.strength)
	}
	s.tracker.Reset(first)
	gen := sdruntime.NewGenerator(p.seed)
	r := &runner{s: s, p: p, h: h, gen: gen, start: start, onProgress: onProgress}

	var images []LabeledImage
	switch p.mode {
	case ModeRefine:
		images, err = r.refine(ctx)
	case ModeInpaint:
		images, err = r.inpaint(ctx)
	case ModeImg2Img:
		images, err = r.img2img(ctx)
	default:
		images, err = r.text2img(ctx)
	}
	if err != nil {
		return nil, err
	}
	return &Result{
		Images: images,
		Style:  p.style.StyleName,
		Mode:   p.mode,
		Seed:   p.seed,
		Steps:  p.steps,
	}, nil
}

// runner carries the state of one run across its stages.
type runner struct {
	s          *Session
	p          *plan
	h          *pipeline.Handle
	gen        *sdruntime.Generator
	start      time.Time
	onProgress ProgressFunc
}

func (r *runner) request() sdruntime.DenoiseRequest {
	return sdruntime.DenoiseRequest{
		Prompt:          r.p.prompt,
		NegativePrompt:  r.p.negative,
		SecondaryPrompt: r.p.second,
		Width:           r.p.width,
		Height:          r.p.height,
		Steps:           r.p.steps,
		GuidanceScale:   r.p.guidance,
		Generator:       r.gen,
		AdapterImage:    r.p.adapterImage,
	}
}

// denoise runs one stage on m and reports progress.
func (r *runner) denoise(ctx context.Context, stage string, m *sdruntime.Model, req sdruntime.DenoiseRequest) (*sdruntime.Latent, error) {
	req.OnStep = func(step, total int) {
		elapsed := r.s.now().Sub(r.start)
		info := r.s.tracker.Update(step, total, elapsed)
		if r.onProgress != nil {
			r.onProgress(ProgressEvent{
				Stage:              stage,
				StepIndex:          step,
				TotalSteps:         total,
				Percent:            info.Percent,
				Elapsed:            elapsed,
				EstimatedRemaining: info.ETA,
				HasEstimate:        info.HasETA,
			})
		}
	}
	l, err := m.Denoise(ctx, req)
	if err != nil {
		return nil, &GenerationError{Stage: stage, Cause: err}
	}
	return l, nil
}

func (r *runner) text2img(ctx context.Context) ([]LabeledImage, error) {
	l, err := r.denoise(ctx, StageBase, r.h.Base, r.request())
	if err != nil {
		return nil, err
	}
	return []LabeledImage{{LabelImage, r.h.Base.Decode(l)}}, nil
}

func (r *runner) img2img(ctx context.Context) ([]LabeledImage, error) {
	req := r.request()
	req.Image = r.h.Base.Encode(r.p.cond, r.p.width, r.p.height)
	req.Strength = r.p.strength

	l, err := r.denoise(ctx, StageBase, r.h.Base, req)
	if err != nil {
		return nil, err
	}
	return []LabeledImage{{LabelImage, r.h.Base.Decode(l)}}, nil
}

// staged runs the base up to the split and hands its latent to the refiner.
// Both stages share the generator. The returned base latent is the hand-off
// latent.
func (r *runner) staged(ctx context.Context, req sdruntime.DenoiseRequest) (base, final *sdruntime.Latent, err error) {
	baseReq := req
	baseReq.DenoisingEnd = r.p.split
	base, err = r.denoise(ctx, StageBase, r.h.Base, baseReq)
	if err != nil {
		return nil, nil, err
	}

	refReq := req
	refReq.Latent = base
	refReq.DenoisingStart = r.p.split
	refReq.AdapterImage = nil
	final, err = r.denoise(ctx, StageRefiner, r.h.Refiner, refReq)
	if err != nil {
		return nil, nil, err
	}
	return base, final, nil
}

func (r *runner) refine(ctx context.Context) ([]LabeledImage, error) {
	if !r.h.Staged() {
		return nil, &GenerationError{Stage: StageSetup, Cause: fmt.Errorf("pipeline %s has no refiner", r.h.Key)}
	}
	base, final, err := r.staged(ctx, r.request())
	if err != nil {
		return nil, err
	}
	return []LabeledImage{
		{LabelBase, r.h.Base.Decode(base)},
		{LabelRefined, r.h.Refiner.Decode(final)},
	}, nil
}

func (r *runner) inpaint(ctx context.Context) ([]LabeledImage, error) {
	w, h := r.p.width, r.p.height
	// Everything below shares one resized original and one scaled mask.
	original := compositor.Resize(r.p.cond, w, h)
	mask := compositor.ScaleMask(r.p.mask, w, h)

	req := r.request()
	req.Source = r.h.Base.Encode(original, w, h)
	req.Mask = sdruntime.MaskFromImage(mask, w, h)

	var final *sdruntime.Latent
	var err error
	if r.h.Staged() {
		_, final, err = r.staged(ctx, req)
	} else {
		final, err = r.denoise(ctx, StageBase, r.h.Base, req)
	}
	if err != nil {
		return nil, err
	}

	generated := r.h.Base.Decode(final)
	inpainted, err := compositor.ApplyMask(original, generated, mask)
	if err != nil {
		return nil, &GenerationError{Stage: StageDecode, Cause: err}
	}
	return []LabeledImage{
		{LabelOriginal, original},
		{LabelMask, compositor.MaskPreview(mask, w, h)},
		{LabelInpainted, inpainted},
	}, nil
}
