package styles

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownStyle is returned by Resolve for a name not in the catalogue.
	ErrUnknownStyle = errors.New("styles: unknown style")

	// ErrInvalidCatalogue wraps every catalogue load failure.
	ErrInvalidCatalogue = errors.New("styles: invalid catalogue")
)

//go:embed default_styles.yaml
var defaultCatalogue []byte

type catalogueFile struct {
	Styles []ModelConfig `yaml:"styles"`
}

// Registry is an immutable, name-keyed set of ModelConfig values.
type Registry struct {
	byName map[string]ModelConfig
	names  []string
}

// NewRegistry validates configs and indexes them by StyleName. Names are
// unique and case-sensitive.
func NewRegistry(configs ...ModelConfig) (*Registry, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("%w: no styles defined", ErrInvalidCatalogue)
	}
	r := &Registry{byName: make(map[string]ModelConfig, len(configs))}
	for i, c := range configs {
		if err := validateConfig(c); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidCatalogue, i, err)
		}
		if _, dup := r.byName[c.StyleName]; dup {
			return nil, fmt.Errorf("%w: duplicate style %q", ErrInvalidCatalogue, c.StyleName)
		}
		r.byName[c.StyleName] = c
		r.names = append(r.names, c.StyleName)
	}
	sort.Strings(r.names)
	return r, nil
}

// Parse reads a YAML catalogue.
func Parse(data []byte) (*Registry, error) {
	var f catalogueFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalogue, err)
	}
	return NewRegistry(f.Styles...)
}

// Load reads a YAML catalogue from path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalogue, err)
	}
	return Parse(data)
}

// Default returns the built-in catalogue.
func Default() *Registry {
	r, err := Parse(defaultCatalogue)
	if err != nil {
		panic(fmt.Sprintf("styles: built-in catalogue: %v", err))
	}
	return r
}

// LoadOrDefault loads path, or returns Default when path is empty.
func LoadOrDefault(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Resolve returns the configuration registered under style.
func (r *Registry) Resolve(style string) (ModelConfig, error) {
	c, ok := r.byName[style]
	if !ok {
		return ModelConfig{}, fmt.Errorf("%w: %q", ErrUnknownStyle, style)
	}
	return c, nil
}

// Names returns every style name in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// All returns the configurations in name order.
func (r *Registry) All() []ModelConfig {
	out := make([]ModelConfig, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.byName[n])
	}
	return out
}

func (r *Registry) Len() int { return len(r.names) }

func validateConfig(c ModelConfig) error {
	switch {
	case strings.TrimSpace(c.StyleName) == "":
		return errors.New("name is required")
	case c.BaseModel == "":
		return fmt.Errorf("style %q: base_model is required", c.StyleName)
	case c.Capabilities.IsStaged && c.RefinerModel == "":
		return fmt.Errorf("style %q: staged styles need refiner_model", c.StyleName)
	case c.DefaultSteps < 0:
		return fmt.Errorf("style %q: default_steps must not be negative", c.StyleName)
	}
	switch c.SchedulerName() {
	case SchedulerEulerAncestral, SchedulerEuler:
	default:
		return fmt.Errorf("style %q: unknown scheduler %q", c.StyleName, c.Scheduler)
	}
	if a := c.Adapter; a != nil {
		if a.Source == "" || a.WeightName == "" {
			return fmt.Errorf("style %q: adapter needs source and weight_name", c.StyleName)
		}
		if a.DefaultScale < 0 || a.DefaultScale > 1 {
			return fmt.Errorf("style %q: adapter scale %v outside [0, 1]", c.StyleName, a.DefaultScale)
		}
	}
	if o := c.Overlay; o != nil {
		if o.Ref == "" {
			return fmt.Errorf("style %q: overlay needs ref", c.StyleName)
		}
		if o.Scale < 0 || o.Scale > 2 {
			return fmt.Errorf("style %q: overlay scale %v outside [0, 2]", c.StyleName, o.Scale)
		}
	}
	return nil
}
