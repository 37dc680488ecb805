package main

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	fcolor "github.com/fatih/color"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"sdstudio/compositor"
	"sdstudio/core"
	"sdstudio/pipeline"
	"sdstudio/resultcache"
	"sdstudio/sdruntime"
	"sdstudio/session"
	"sdstudio/styles"
)

func init() {
	fcolor.NoColor = true
}

func parseGenerate(t *testing.T, args ...string) (*cobra.Command, *generateFlags) {
	t.Helper()
	cmd := &cobra.Command{Use: "generate"}
	f := &generateFlags{}
	bindGenerateFlags(cmd, f)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags(%v): %v", args, err)
	}
	return cmd, f
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestBuildRequest(t *testing.T) {
	catalogue := styles.Default()
	defaults := core.DefaultGenerationDefaults()
	def, err := catalogue.Resolve("TextToImage")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want session.Request
	}{
		{
			name: "defaults",
			want: session.Request{
				Mode:   session.ModeText2Img,
				Style:  "TextToImage",
				Prompt: def.DefaultPrompt,
				Seed:   defaults.Seed,
			},
		},
		{
			name: "explicit zero seed",
			args: []string{"--seed", "0", "--prompt", "a red fox"},
			want: session.Request{
				Mode:   session.ModeText2Img,
				Style:  "TextToImage",
				Prompt: "a red fox",
				Seed:   0,
			},
		},
		{
			name: "staged with split",
			args: []string{"-m", "staged", "--split", "0.6", "--steps", "40", "--guidance", "9", "--negative", "blurry"},
			want: session.Request{
				Mode:           session.ModeRefine,
				Style:          "TextToImage",
				Prompt:         def.DefaultPrompt,
				NegativePrompt: "blurry",
				Steps:          40,
				GuidanceScale:  9,
				StageSplit:     ptr(0.6),
				Seed:           defaults.Seed,
			},
		},
		{
			name: "dual prompt",
			args: []string{"--mode", "dual-prompt", "-p", "a castle", "--secondary", "oil painting", "--width", "768", "--height", "512"},
			want: session.Request{
				Mode:            session.ModeDualPrompt,
				Style:           "TextToImage",
				Prompt:          "a castle",
				SecondaryPrompt: "oil painting",
				Width:           768,
				Height:          512,
				Seed:            defaults.Seed,
			},
		},
		{
			name: "strength and adapter scale",
			args: []string{"--strength", "0", "--adapter-scale", "0.3", "--seed", "99"},
			want: session.Request{
				Mode:         session.ModeText2Img,
				Style:        "TextToImage",
				Prompt:       def.DefaultPrompt,
				Strength:     ptr(0.0),
				AdapterScale: ptr(0.3),
				Seed:         99,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, f := parseGenerate(t, tt.args...)
			got, err := buildRequest(cmd, f, catalogue, defaults)
			if err != nil {
				t.Fatalf("buildRequest: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("request mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildRequest_RandomSeed(t *testing.T) {
	cmd, f := parseGenerate(t, "--seed", "-1")
	got, err := buildRequest(cmd, f, styles.Default(), core.DefaultGenerationDefaults())
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if got.Seed < 0 {
		t.Errorf("seed = %d, want a fresh non-negative seed", got.Seed)
	}
}

func TestBuildRequest_Images(t *testing.T) {
	dir := t.TempDir()
	in := writePNG(t, dir, "in.png", solid(64, 48, color.NRGBA{R: 10, G: 20, B: 30, A: 255}))
	mask := writePNG(t, dir, "mask.png", solid(64, 48, color.NRGBA{R: 255, G: 255, B: 255, A: 255}))

	cmd, f := parseGenerate(t, "--mode", "inpaint", "--image", in, "--mask", mask)
	req, err := buildRequest(cmd, f, styles.Default(), core.DefaultGenerationDefaults())
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if req.ConditioningImage == nil || req.ConditioningImage.Bounds().Dx() != 64 {
		t.Errorf("conditioning image = %v", req.ConditioningImage)
	}
	if req.MaskImage == nil || req.MaskImage.Bounds().Dy() != 48 {
		t.Errorf("mask image = %v", req.MaskImage)
	}
	if req.AdapterImage != nil {
		t.Error("adapter image set without --adapter-image")
	}
}

func TestBuildRequest_Errors(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "junk.png")
	if err := os.WriteFile(junk, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		args      []string
		wantField string
		wantIs    error
	}{
		{name: "bad mode", args: []string{"--mode", "upscale"}, wantField: "mode"},
		{name: "unknown style", args: []string{"--style", "Nope"}, wantIs: styles.ErrUnknownStyle},
		{name: "missing image", args: []string{"--mode", "img2img", "--image", filepath.Join(dir, "missing.png")}, wantField: "conditioning_image"},
		{name: "undecodable image", args: []string{"--adapter-image", junk}, wantField: "adapter_image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, f := parseGenerate(t, tt.args...)
			_, err := buildRequest(cmd, f, styles.Default(), core.DefaultGenerationDefaults())
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("err = %v, want %v", err, tt.wantIs)
			}
			if tt.wantField != "" {
				var verr *session.ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("err = %T %v, want *session.ValidationError", err, err)
				}
				if verr.Field != tt.wantField {
					t.Errorf("Field = %q, want %q", verr.Field, tt.wantField)
				}
			}
		})
	}
}

func TestRenderProgress(t *testing.T) {
	tests := []struct {
		name string
		ev   session.ProgressEvent
		want []string
	}{
		{
			name: "no estimate yet",
			ev:   session.ProgressEvent{Stage: session.StageBase, StepIndex: 0, TotalSteps: 10, Percent: 10},
			want: []string{"base", "1/10", "10%", strings.Repeat("█", 3) + strings.Repeat("░", 27)},
		},
		{
			name: "with estimate",
			ev: session.ProgressEvent{
				Stage: session.StageRefiner, StepIndex: 7, TotalSteps: 10, Percent: 80,
				EstimatedRemaining: 75 * time.Second, HasEstimate: true,
			},
			want: []string{"refiner", "8/10", "80% (ETA 1m 15s)"},
		},
		{
			name: "complete",
			ev:   session.ProgressEvent{Stage: session.StageBase, StepIndex: 4, TotalSteps: 5, Percent: 100},
			want: []string{"5/5", "100%", strings.Repeat("█", barWidth)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := renderProgress(tt.ev)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("renderProgress() = %q, missing %q", got, w)
				}
			}
		})
	}
}

func TestProgressPrinter_StageBreaks(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressPrinter(&buf)
	p.Handle(session.ProgressEvent{Stage: session.StageBase, StepIndex: 0, TotalSteps: 2, Percent: 50})
	p.Handle(session.ProgressEvent{Stage: session.StageRefiner, StepIndex: 1, TotalSteps: 2, Percent: 100})
	p.Done()

	if n := strings.Count(buf.String(), "\n"); n != 2 {
		t.Errorf("output has %d newlines, want 2: %q", n, buf.String())
	}
}

func TestWriteEntry(t *testing.T) {
	encode := func(c color.NRGBA) []byte {
		data, err := compositor.Encode(solid(16, 16, c), compositor.FormatPNG)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}
	entry := &resultcache.Entry{
		Style:  "TextToImage",
		Mode:   session.ModeRefine,
		Format: compositor.FormatPNG,
		Panels: []resultcache.Panel{
			{Label: session.LabelBase, Data: encode(color.NRGBA{R: 255, A: 255})},
			{Label: session.LabelRefined, Data: encode(color.NRGBA{B: 255, A: 255})},
		},
	}

	dir := filepath.Join(t.TempDir(), "out")
	paths, err := writeEntry(entry, dir, true)
	if err != nil {
		t.Fatalf("writeEntry: %v", err)
	}
	var names []string
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	want := []string{"texttoimage_refine_base.png", "texttoimage_refine.png", "texttoimage_refine_composite.png"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("files (-want +got):\n%s", diff)
	}

	data, err := os.ReadFile(filepath.Join(dir, "texttoimage_refine_composite.png"))
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Bounds().Size(); got != image.Pt(32, 16) {
		t.Errorf("composite size = %v, want 32x16", got)
	}
}

func TestWriteEntry_SinglePanel(t *testing.T) {
	data, err := compositor.Encode(solid(8, 8, color.NRGBA{G: 255, A: 255}), compositor.FormatPNG)
	if err != nil {
		t.Fatal(err)
	}
	entry := &resultcache.Entry{
		Style:  "TextToImage",
		Mode:   session.ModeText2Img,
		Format: compositor.FormatPNG,
		Panels: []resultcache.Panel{{Label: session.LabelImage, Data: data}},
	}
	paths, err := writeEntry(entry, t.TempDir(), true)
	if err != nil {
		t.Fatalf("writeEntry: %v", err)
	}
	if len(paths) != 1 || filepath.Base(paths[0]) != "texttoimage_text2img.png" {
		t.Errorf("paths = %v", paths)
	}
}

func TestReportRunError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{
			name:     "validation",
			err:      &session.ValidationError{Field: "steps", Reason: "0 outside [1, 150]"},
			wantCode: core.ExitCodeUsage,
			wantMsg:  "Invalid steps",
		},
		{
			name:     "unknown style",
			err:      styles.ErrUnknownStyle,
			wantCode: core.ExitCodeUsage,
			wantMsg:  "Unknown style",
		},
		{
			name:     "model load",
			err:      &pipeline.ModelLoadError{Key: pipeline.Key{Style: "TextToImage", Profile: pipeline.ProfileText2Img}, Ref: "org/base", Cause: sdruntime.ErrArtifactNotFound},
			wantCode: core.ExitCodeError,
			wantMsg:  "not installed",
		},
		{
			name:     "generation",
			err:      &session.GenerationError{Stage: session.StageDecode, Cause: errors.New("nan")},
			wantCode: core.ExitCodeError,
			wantMsg:  "decode stage",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := reportRunError(&buf, tt.err)
			var exit *core.ExitError
			if !errors.As(err, &exit) {
				t.Fatalf("err = %T, want *core.ExitError", err)
			}
			if exit.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", exit.Code, tt.wantCode)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("ExitError does not wrap %v", tt.err)
			}
			if !strings.Contains(buf.String(), tt.wantMsg) {
				t.Errorf("output = %q, want it to contain %q", buf.String(), tt.wantMsg)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }
