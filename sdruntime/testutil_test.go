package sdruntime

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
)

const (
	testBase    = "org/base-1.0"
	testRefiner = "org/refiner-1.0"
	testAdapter = "org/adapter/ip.bin"
	testOverlay = "loras/style.safetensors"
)

// newTestStore writes small fake artifacts under a temp dir.
func newTestStore(t *testing.T) *ArtifactStore {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		filepath.Join(testBase, "unet.safetensors"):    "base unet weights",
		filepath.Join(testBase, "vae.safetensors"):     "base vae weights",
		filepath.Join(testRefiner, "unet.safetensors"): "refiner unet weights",
		testAdapter: "adapter weights",
		testOverlay: "overlay weights",
	}
	for name, body := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return NewArtifactStore(dir, "hf_testtoken")
}

func mustLoad(t *testing.T, store *ArtifactStore, scheduler string) *Model {
	t.Helper()
	m, err := LoadModel(context.Background(), store, testBase, scheduler)
	if err != nil {
		t.Fatalf("LoadModel() error: %v", err)
	}
	return m
}

// gradient is a deterministic test image.
func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: uint8((x + y) % 256), A: 255})
		}
	}
	return img
}

func baseRequest(seed int64) DenoiseRequest {
	return DenoiseRequest{
		Prompt:         "a polar bear sitting in a chair",
		NegativePrompt: "blurry",
		Width:          32,
		Height:         24,
		Steps:          10,
		GuidanceScale:  7.5,
		Generator:      NewGenerator(seed),
	}
}
