package session

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"sdstudio/core"
	"sdstudio/pipeline"
	"sdstudio/sdruntime"
	"sdstudio/styles"
)

const testSize = 256

func testCatalogue(t *testing.T) *styles.Registry {
	t.Helper()
	reg, err := styles.NewRegistry(
		styles.ModelConfig{
			StyleName:             "Studio",
			BaseModel:             "org/base",
			RefinerModel:          "org/refiner",
			DefaultNegativePrompt: "low quality",
			DefaultSteps:          6,
			Adapter:               &styles.AdapterConfig{Source: "org/adapter", WeightName: "ip.bin", DefaultScale: 0.6},
			Capabilities:          styles.Capabilities{SupportsAdapter: true, SupportsImg2Img: true, SupportsInpaint: true, IsStaged: true},
		},
		styles.ModelConfig{
			StyleName:    "Plain",
			BaseModel:    "org/base",
			DefaultSteps: 5,
			Capabilities: styles.Capabilities{SupportsImg2Img: true, SupportsInpaint: true},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func writeArtifacts(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, ref := range []string{"org/base/unet.safetensors", "org/refiner/unet.safetensors", "org/adapter/ip.bin"} {
		p := filepath.Join(dir, filepath.FromSlash(ref))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("weights "+ref), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// countingPipelines records Get calls before delegating.
type countingPipelines struct {
	mu    sync.Mutex
	calls int
	next  Pipelines
}

func (c *countingPipelines) Get(ctx context.Context, style string, p pipeline.Profile) (*pipeline.Handle, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.next.Get(ctx, style, p)
}

func (c *countingPipelines) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type memRecorder struct {
	mu      sync.Mutex
	records []RunRecord
}

func (m *memRecorder) RecordRun(_ context.Context, rec RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

type fixture struct {
	session   *Session
	registry  *pipeline.Registry
	pipelines *countingPipelines
	recorder  *memRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat := testCatalogue(t)
	store := sdruntime.NewArtifactStore(writeArtifacts(t), "hf_testtoken")
	reg := pipeline.NewRegistry(cat, pipeline.NewBuilder(store))
	cp := &countingPipelines{next: reg}
	rec := &memRecorder{}
	return &fixture{
		session:   New(cat, cp, WithDefaults(testDefaults()), WithRecorder(rec)),
		registry:  reg,
		pipelines: cp,
		recorder:  rec,
	}
}

func testDefaults() core.GenerationDefaults {
	d := core.DefaultGenerationDefaults()
	d.ImageSize = testSize
	return d
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: uint8((x * y) % 256), A: 0xff})
		}
	}
	return img
}

// checkerboard alternates black and white cells of the given size.
func checkerboard(w, h, cell int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{A: 0xff}
			if (x/cell+y/cell)%2 == 0 {
				c = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// halfMask is white on the right half.
func halfMask(w, h int) *image.Gray {
	m := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := w / 2; x < w; x++ {
			m.SetGray(x, y, color.Gray{Y: 0xff})
		}
	}
	return m
}

func sameRGBA(a, b color.Color) bool {
	r1, g1, b1, a1 := a.RGBA()
	r2, g2, b2, a2 := b.RGBA()
	return r1 == r2 && g1 == g2 && b1 == b2 && a1 == a2
}

func ptr[T any](v T) *T { return &v }
