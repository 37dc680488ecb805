package styles

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefault_MatchesStudioDefaults(t *testing.T) {
	reg := Default()

	cfg, err := reg.Resolve("TextToImage")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	want := ModelConfig{
		StyleName:             "TextToImage",
		BaseModel:             "stabilityai/stable-diffusion-xl-base-1.0",
		RefinerModel:          "stabilityai/stable-diffusion-xl-refiner-1.0",
		Scheduler:             SchedulerEulerAncestral,
		DefaultPrompt:         "a polar bear sitting in a chair drinking a milkshake",
		DefaultNegativePrompt: "deformed, ugly, wrong proportion, low res, bad anatomy, worst quality, low quality",
		DefaultSteps:          100,
		Adapter: &AdapterConfig{
			Source:       "h94/IP-Adapter",
			Subfolder:    "sdxl_models",
			WeightName:   "ip-adapter_sdxl.bin",
			DefaultScale: 0.6,
		},
		Capabilities: Capabilities{SupportsAdapter: true, SupportsImg2Img: true, SupportsInpaint: true, IsStaged: true},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("TextToImage mismatch (-want +got):\n%s", diff)
	}
	if cfg.Adapter.Ref() != "h94/IP-Adapter/sdxl_models/ip-adapter_sdxl.bin" {
		t.Errorf("Adapter.Ref() = %q", cfg.Adapter.Ref())
	}
}

func TestResolve_Unknown(t *testing.T) {
	_, err := Default().Resolve("Nonexistent")
	if !errors.Is(err, ErrUnknownStyle) {
		t.Fatalf("Resolve() error = %v, want ErrUnknownStyle", err)
	}
	if !strings.Contains(err.Error(), "Nonexistent") {
		t.Errorf("error should name the style: %v", err)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		names   []string
	}{
		{
			name: "two styles sorted",
			yaml: `
styles:
  - name: Zeta
    base_model: org/zeta
  - name: Alpha
    base_model: org/alpha
    overlay:
      ref: loras/alpha.safetensors
`,
			names: []string{"Alpha", "Zeta"},
		},
		{
			name: "pinned checksum",
			yaml: `
styles:
  - name: A
    base_model: org/a
    sha256:
      org/a: 9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08
`,
			names: []string{"A"},
		},
		{name: "empty", yaml: "styles: []", wantErr: true},
		{name: "unknown field", yaml: "styles:\n  - name: A\n    base_model: m\n    colour: red\n", wantErr: true},
		{name: "missing base", yaml: "styles:\n  - name: A\n", wantErr: true},
		{name: "duplicate", yaml: "styles:\n  - {name: A, base_model: m}\n  - {name: A, base_model: n}\n", wantErr: true},
		{name: "staged without refiner", yaml: "styles:\n  - {name: A, base_model: m, capabilities: {staged: true}}\n", wantErr: true},
		{name: "bad scheduler", yaml: "styles:\n  - {name: A, base_model: m, scheduler: dpm}\n", wantErr: true},
		{name: "adapter scale", yaml: "styles:\n  - name: A\n    base_model: m\n    adapter: {source: s, weight_name: w, scale: 1.5}\n", wantErr: true},
		{name: "overlay without ref", yaml: "styles:\n  - name: A\n    base_model: m\n    overlay: {scale: 0.5}\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := Parse([]byte(tt.yaml))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCatalogue) {
					t.Fatalf("Parse() error = %v, want ErrInvalidCatalogue", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			if diff := cmp.Diff(tt.names, reg.Names()); diff != "" {
				t.Errorf("Names() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOverlayEffectiveScale(t *testing.T) {
	if got := (OverlayConfig{Ref: "x"}).EffectiveScale(); got != 1 {
		t.Errorf("EffectiveScale() = %v, want 1", got)
	}
	if got := (OverlayConfig{Ref: "x", Scale: 0.4}).EffectiveScale(); got != 0.4 {
		t.Errorf("EffectiveScale() = %v, want 0.4", got)
	}
}

func TestHasAdapter(t *testing.T) {
	a := &AdapterConfig{Source: "s", WeightName: "w"}
	tests := []struct {
		name string
		cfg  ModelConfig
		want bool
	}{
		{"flag and adapter", ModelConfig{Adapter: a, Capabilities: Capabilities{SupportsAdapter: true}}, true},
		{"adapter without flag", ModelConfig{Adapter: a}, false},
		{"flag without adapter", ModelConfig{Capabilities: Capabilities{SupportsAdapter: true}}, false},
	}
	for _, tt := range tests {
		if got := tt.cfg.HasAdapter(); got != tt.want {
			t.Errorf("%s: HasAdapter() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"TextToImage":     "texttoimage",
		"Oil Painting":    "oil_painting",
		"  Neon -- City ": "neon_city",
		"Retro-80s!":      "retro_80s",
	}
	for in, want := range tests {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadOrDefault(t *testing.T) {
	reg, err := LoadOrDefault("")
	if err != nil || reg.Len() != 1 {
		t.Fatalf("LoadOrDefault(\"\") = %v, %v", reg, err)
	}

	path := filepath.Join(t.TempDir(), "styles.yaml")
	if err := os.WriteFile(path, []byte("styles:\n  - {name: Mine, base_model: org/mine}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err = LoadOrDefault(path)
	if err != nil {
		t.Fatalf("LoadOrDefault(path) error: %v", err)
	}
	if _, err := reg.Resolve("Mine"); err != nil {
		t.Errorf("Resolve(Mine) error: %v", err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, ErrInvalidCatalogue) {
		t.Errorf("Load(missing) error = %v", err)
	}
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	Default().WriteTable(&buf)
	out := buf.String()
	for _, want := range []string{"STYLE", "TextToImage", "text2img,img2img,inpaint,staged", "ip-adapter_sdxl.bin"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}
