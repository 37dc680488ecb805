package resultcache

import (
	"image"
	"image/color"
	"testing"

	"sdstudio/compositor"
	"sdstudio/core"
	"sdstudio/pipeline"
	"sdstudio/session"
	"sdstudio/styles"
)

func TestKey(t *testing.T) {
	half := 0.5
	base := session.Resolved{
		Request: session.Request{Mode: session.ModeImg2Img, Style: "TextToImage", Prompt: "a bear", Seed: 123, Strength: &half,
			ConditioningImage: tile(color.NRGBA{R: 200, A: 255})},
		Model: "weights-a",
	}
	k := Key(base, compositor.FormatPNG)

	same := base
	otherHalf := 0.5
	same.Strength = &otherHalf
	rgba := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(rgba.Pix); i += 4 {
		rgba.Pix[i], rgba.Pix[i+3] = 200, 255
	}
	same.ConditioningImage = rgba
	if got := Key(same, compositor.FormatPNG); got != k {
		t.Error("equal requests produced different keys")
	}

	variants := map[string]func(r *session.Resolved){
		"seed":     func(r *session.Resolved) { r.Seed++ },
		"prompt":   func(r *session.Resolved) { r.Prompt = "a cat" },
		"strength": func(r *session.Resolved) { r.Strength = nil },
		"image":    func(r *session.Resolved) { r.ConditioningImage = tile(color.NRGBA{G: 1, A: 255}) },
		"mode":     func(r *session.Resolved) { r.Mode = session.ModeText2Img },
		"split":    func(r *session.Resolved) { v := 0.8; r.StageSplit = &v },
		"guidance": func(r *session.Resolved) { r.GuidanceScale = 7.5 },
		"model":    func(r *session.Resolved) { r.Model = "weights-b" },
		"prompts shift": func(r *session.Resolved) {
			r.Prompt, r.NegativePrompt = "a", " bear"
		},
	}
	for name, mutate := range variants {
		r := base
		mutate(&r)
		if Key(r, compositor.FormatPNG) == k {
			t.Errorf("%s change did not change the key", name)
		}
	}
	if Key(base, compositor.FormatWebP) == k {
		t.Error("format does not affect the key")
	}
}

func TestKey_FollowsResolvedDefaults(t *testing.T) {
	cat, err := styles.NewRegistry(styles.ModelConfig{
		StyleName:             "Plain",
		BaseModel:             "org/base",
		DefaultNegativePrompt: "blurry",
		DefaultSteps:          20,
		Capabilities:          styles.Capabilities{SupportsImg2Img: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	identity := func(model string) session.IdentityFunc {
		return func(styles.ModelConfig, pipeline.Profile) (string, error) { return model, nil }
	}
	newSession := func(guidance float64, model string) *session.Session {
		d := core.DefaultGenerationDefaults()
		d.GuidanceScale = guidance
		return session.New(cat, nil, session.WithDefaults(d), session.WithIdentity(identity(model)))
	}
	key := func(s *session.Session, req session.Request) string {
		t.Helper()
		r, err := s.Resolve(req)
		if err != nil {
			t.Fatalf("Resolve() error: %v", err)
		}
		return Key(r, compositor.FormatPNG)
	}

	implicit := session.Request{Style: "Plain", Prompt: "a bear", Seed: 9}
	explicit := implicit
	explicit.Steps = 20
	explicit.NegativePrompt = "blurry"
	explicit.GuidanceScale = 5
	explicit.Width, explicit.Height = core.DefaultGenerationDefaults().ImageSize, core.DefaultGenerationDefaults().ImageSize

	s := newSession(5, "weights-a")
	k := key(s, implicit)
	if got := key(s, explicit); got != k {
		t.Error("spelling out the defaults changed the key")
	}
	if key(newSession(9, "weights-a"), implicit) == k {
		t.Error("a different default guidance kept the key")
	}
	if key(newSession(5, "weights-b"), implicit) == k {
		t.Error("different weights kept the key")
	}

	unused := implicit
	unused.ConditioningImage = tile(color.NRGBA{B: 9, A: 255})
	if key(s, unused) != k {
		t.Error("an image text2img ignores changed the key")
	}
}
