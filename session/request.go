package session

import (
	"fmt"
	"image"
	"strings"

	"sdstudio/pipeline"
	"sdstudio/sdruntime"
	"sdstudio/styles"
)

// Mode is the user-facing kind of run.
type Mode string

const (
	ModeText2Img   Mode = "text2img"
	ModeImg2Img    Mode = "img2img"
	ModeInpaint    Mode = "inpaint"
	ModeRefine     Mode = "refine"
	ModeDualPrompt Mode = "dual_prompt"
)

// Modes lists every mode in display order.
var Modes = []Mode{ModeText2Img, ModeImg2Img, ModeInpaint, ModeRefine, ModeDualPrompt}

// ParseMode accepts a mode name case-insensitively. "dual-prompt" and
// "staged" are accepted as aliases.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeText2Img, ModeImg2Img, ModeInpaint, ModeRefine, ModeDualPrompt:
		return m, nil
	case "dual-prompt":
		return ModeDualPrompt, nil
	case "staged":
		return ModeRefine, nil
	}
	return "", fmt.Errorf("session: unknown mode %q", s)
}

// Profile is the pipeline topology a mode runs on.
func (m Mode) Profile() pipeline.Profile {
	switch m {
	case ModeImg2Img:
		return pipeline.ProfileImg2Img
	case ModeInpaint:
		return pipeline.ProfileInpaint
	case ModeRefine:
		return pipeline.ProfileStaged
	}
	return pipeline.ProfileText2Img
}

// Request bounds. Sizes follow the studio's sliders.
const (
	MinSize        = 256
	MaxSize        = 1024
	MaxSteps       = sdruntime.MaxSteps
	MinGuidance    = 1.0
	MaxGuidance    = 20.0
	fallbackSteps  = 30
	refineSplit    = 0.8
	inpaintSplit   = 0.7
)

// Request is one generation. Zero values select defaults: Steps from the
// style (or the session default), Width/Height/GuidanceScale from the
// session defaults, NegativePrompt from the style. Seed is always used as
// given.
type Request struct {
	Mode            Mode
	Style           string
	Prompt          string
	NegativePrompt  string
	SecondaryPrompt string

	ConditioningImage image.Image
	MaskImage         image.Image
	AdapterImage      image.Image
	AdapterScale      *float64

	Width         int
	Height        int
	Steps         int
	GuidanceScale float64
	Strength      *float64
	StageSplit    *float64
	Seed          int64
}

// Resolved is a validated Request with its defaults applied. Images the
// mode does not use are dropped, Strength is set for img2img only and
// StageSplit for two-stage runs only.
type Resolved struct {
	Request

	// Model identifies the pipeline weights. It is empty unless the Session
	// was created WithIdentity.
	Model string
}

// plan is a validated request with every default resolved.
type plan struct {
	mode     Mode
	profile  pipeline.Profile
	style    styles.ModelConfig
	prompt   string
	negative string
	second   string

	width, height int
	steps         int
	guidance      float64
	strength      float64
	split         float64
	seed          int64

	cond, mask, adapterImage image.Image
	adapterScale             *float64
}

// prepare validates req against cfg and fills defaults. It never touches a
// pipeline.
func (s *Session) prepare(req Request, cfg styles.ModelConfig) (*plan, *ValidationError) {
	mode := ModeText2Img
	if req.Mode != "" {
		m, err := ParseMode(string(req.Mode))
		if err != nil {
			return nil, invalid("mode", "unknown mode %q", req.Mode)
		}
		mode = m
	}

	p := &plan{
		mode:         mode,
		profile:      mode.Profile(),
		style:        cfg,
		prompt:       strings.TrimSpace(req.Prompt),
		negative:     strings.TrimSpace(req.NegativePrompt),
		second:       strings.TrimSpace(req.SecondaryPrompt),
		width:        req.Width,
		height:       req.Height,
		steps:        req.Steps,
		guidance:     req.GuidanceScale,
		strength:     s.defaults.Strength,
		seed:         req.Seed,
		cond:         req.ConditioningImage,
		mask:         req.MaskImage,
		adapterImage: req.AdapterImage,
		adapterScale: req.AdapterScale,
	}

	if !pipeline.Supports(cfg, p.profile) {
		return nil, &ValidationError{
			Field:  "mode",
			Reason: fmt.Sprintf("style %q does not support %s", cfg.StyleName, mode),
			Err:    pipeline.ErrUnsupportedProfile,
		}
	}

	switch {
	case p.prompt == "":
		return nil, invalid("prompt", "must not be empty")
	case len(p.prompt) > sdruntime.MaxPromptLength:
		return nil, invalid("prompt", "longer than %d bytes", sdruntime.MaxPromptLength)
	case len(p.negative) > sdruntime.MaxPromptLength:
		return nil, invalid("negative_prompt", "longer than %d bytes", sdruntime.MaxPromptLength)
	case len(p.second) > sdruntime.MaxPromptLength:
		return nil, invalid("secondary_prompt", "longer than %d bytes", sdruntime.MaxPromptLength)
	}

	switch mode {
	case ModeImg2Img:
		if isEmpty(p.cond) {
			return nil, invalid("conditioning_image", "img2img needs an input image")
		}
	case ModeInpaint:
		if isEmpty(p.cond) {
			return nil, invalid("conditioning_image", "inpaint needs an input image")
		}
		if isEmpty(p.mask) {
			return nil, invalid("mask_image", "inpaint needs a mask")
		}
	case ModeDualPrompt:
		if p.second == "" {
			return nil, invalid("secondary_prompt", "dual_prompt needs a second prompt")
		}
	}

	if p.negative == "" {
		p.negative = cfg.DefaultNegativePrompt
	}

	if p.steps == 0 {
		p.steps = cfg.DefaultSteps
	}
	if p.steps == 0 {
		p.steps = s.defaults.Steps
	}
	if p.steps == 0 {
		p.steps = fallbackSteps
	}
	if p.steps < 1 || p.steps > MaxSteps {
		return nil, invalid("steps", "%d outside [1, %d]", p.steps, MaxSteps)
	}

	size := s.defaults.ImageSize
	if p.width == 0 {
		p.width = size
	}
	if p.height == 0 {
		p.height = size
	}
	for _, d := range []struct {
		name string
		v    int
	}{{"width", p.width}, {"height", p.height}} {
		if d.v < MinSize || d.v > MaxSize || d.v%sdruntime.SizeMultiple != 0 {
			return nil, invalid(d.name, "%d must be a multiple of %d in [%d, %d]", d.v, sdruntime.SizeMultiple, MinSize, MaxSize)
		}
	}

	if p.guidance == 0 {
		p.guidance = s.defaults.GuidanceScale
	}
	if p.guidance < MinGuidance || p.guidance > MaxGuidance {
		return nil, invalid("guidance_scale", "%v outside [%v, %v]", p.guidance, MinGuidance, MaxGuidance)
	}

	if req.Strength != nil {
		p.strength = *req.Strength
	}
	if p.strength < 0 || p.strength > 1 {
		return nil, invalid("strength", "%v outside [0, 1]", p.strength)
	}

	staged := mode == ModeRefine || (mode == ModeInpaint && pipeline.UsesRefiner(cfg, p.profile))
	if staged {
		p.split = refineSplit
		if mode == ModeInpaint {
			p.split = inpaintSplit
		}
		if req.StageSplit != nil {
			p.split = *req.StageSplit
		}
		if p.split <= 0 || p.split >= 1 {
			return nil, invalid("stage_split", "%v must lie strictly between 0 and 1", p.split)
		}
		if p.steps < 2 {
			return nil, invalid("steps", "a two-stage run needs at least 2 steps")
		}
	} else if req.StageSplit != nil && (*req.StageSplit < 0 || *req.StageSplit > 1) {
		return nil, invalid("stage_split", "%v outside [0, 1]", *req.StageSplit)
	}

	if p.adapterImage != nil || p.adapterScale != nil {
		if !cfg.HasAdapter() {
			return nil, &ValidationError{
				Field:  "adapter_image",
				Reason: fmt.Sprintf("style %q has no image adapter", cfg.StyleName),
				Err:    pipeline.ErrNoAdapter,
			}
		}
	}
	if p.adapterImage != nil && isEmpty(p.adapterImage) {
		return nil, invalid("adapter_image", "image is empty")
	}
	if sc := p.adapterScale; sc != nil && (*sc < 0 || *sc > 1) {
		return nil, invalid("adapter_scale", "%v outside [0, 1]", *sc)
	}
	return p, nil
}

func (p *plan) request() Request {
	r := Request{
		Mode:            p.mode,
		Style:           p.style.StyleName,
		Prompt:          p.prompt,
		NegativePrompt:  p.negative,
		SecondaryPrompt: p.second,
		AdapterImage:    p.adapterImage,
		AdapterScale:    p.adapterScale,
		Width:           p.width,
		Height:          p.height,
		Steps:           p.steps,
		GuidanceScale:   p.guidance,
		Seed:            p.seed,
	}
	switch p.mode {
	case ModeImg2Img:
		r.ConditioningImage = p.cond
		strength := p.strength
		r.Strength = &strength
	case ModeInpaint:
		r.ConditioningImage = p.cond
		r.MaskImage = p.mask
	}
	if p.split != 0 {
		split := p.split
		r.StageSplit = &split
	}
	return r
}

func isEmpty(img image.Image) bool {
	return img == nil || img.Bounds().Empty()
}
