// Package styles holds the catalogue of named generation styles.
//
// A style binds a base model to its optional refiner, adapter and overlay
// and declares which generation profiles it can serve. The catalogue is
// immutable once loaded; lookups are pure and safe for concurrent use.
package styles

import (
	"path"
	"strings"
)

// Scheduler names understood by the runtime.
const (
	SchedulerEulerAncestral = "euler_a"
	SchedulerEuler          = "euler"
)

// AdapterConfig describes an image-prompt adapter checkpoint.
type AdapterConfig struct {
	Source       string  `yaml:"source"`
	Subfolder    string  `yaml:"subfolder,omitempty"`
	WeightName   string  `yaml:"weight_name"`
	DefaultScale float64 `yaml:"scale"`
}

// Ref is the artifact reference of the adapter weights.
func (a AdapterConfig) Ref() string {
	return path.Join(a.Source, a.Subfolder, a.WeightName)
}

// OverlayConfig describes a low-rank weight overlay merged into the base
// denoiser.
type OverlayConfig struct {
	Ref   string  `yaml:"ref"`
	Scale float64 `yaml:"scale,omitempty"`
}

// EffectiveScale treats an unset scale as 1.
func (o OverlayConfig) EffectiveScale() float64 {
	if o.Scale == 0 {
		return 1
	}
	return o.Scale
}

// Capabilities declares the profiles a style can serve.
type Capabilities struct {
	SupportsAdapter bool `yaml:"adapter"`
	SupportsImg2Img bool `yaml:"img2img"`
	SupportsInpaint bool `yaml:"inpaint"`
	IsStaged        bool `yaml:"staged"`
}

// ModelConfig is one catalogue entry. Adapter and Overlay are nil when the
// style has none.
type ModelConfig struct {
	StyleName             string         `yaml:"name"`
	BaseModel             string         `yaml:"base_model"`
	RefinerModel          string         `yaml:"refiner_model,omitempty"`
	Scheduler             string         `yaml:"scheduler,omitempty"`
	Overlay               *OverlayConfig `yaml:"overlay,omitempty"`
	Adapter               *AdapterConfig `yaml:"adapter,omitempty"`
	DefaultPrompt         string         `yaml:"default_prompt,omitempty"`
	DefaultNegativePrompt string         `yaml:"default_negative_prompt,omitempty"`
	DefaultSteps          int            `yaml:"default_steps,omitempty"`
	Capabilities          Capabilities   `yaml:"capabilities"`

	// Checksums maps file artifact references to their expected SHA-256
	// hex digests.
	Checksums map[string]string `yaml:"sha256,omitempty"`
}

// HasAdapter reports whether an adapter is attached when pipelines for this
// style are built.
func (c ModelConfig) HasAdapter() bool {
	return c.Capabilities.SupportsAdapter && c.Adapter != nil
}

// SchedulerName returns the configured scheduler or the ancestral default.
func (c ModelConfig) SchedulerName() string {
	if c.Scheduler == "" {
		return SchedulerEulerAncestral
	}
	return strings.ToLower(c.Scheduler)
}

// Slug is the lower-case file-name form of the style name.
func (c ModelConfig) Slug() string {
	return Slug(c.StyleName)
}

// Slug lower-cases name and replaces runs of non-alphanumerics with "_".
func Slug(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
