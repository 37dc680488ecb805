package main

import (
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sdstudio/compositor"
	"sdstudio/core"
	"sdstudio/resultcache"
	"sdstudio/sdruntime"
	"sdstudio/server"
	"sdstudio/session"
	"sdstudio/styles"
)

type generateFlags struct {
	mode         string
	style        string
	prompt       string
	negative     string
	secondary    string
	image        string
	mask         string
	adapterImage string
	adapterScale float64
	width        int
	height       int
	steps        int
	guidance     float64
	strength     float64
	split        float64
	seed         int64
	format       string
	outDir       string
	composite    bool
	noCache      bool
}

func newGenerateCmd(c *cli) *cobra.Command {
	f := &generateFlags{}
	cmd := &cobra.Command{
		Use:   "generate [PROMPT]",
		Short: "Generate an image and write it to disk",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 && f.prompt == "" {
				f.prompt = strings.Join(args, " ")
			}
			return runGenerate(cmd, c, f)
		},
	}
	bindGenerateFlags(cmd, f)
	return cmd
}

func bindGenerateFlags(cmd *cobra.Command, f *generateFlags) {
	fl := cmd.Flags()
	fl.StringVarP(&f.mode, "mode", "m", string(session.ModeText2Img), "text2img, img2img, inpaint, refine or dual_prompt")
	fl.StringVarP(&f.style, "style", "s", "", "Style name (default: first style in the catalogue)")
	fl.StringVarP(&f.prompt, "prompt", "p", "", "Prompt (default: the style's default prompt)")
	fl.StringVar(&f.negative, "negative", "", "Negative prompt (default: the style's)")
	fl.StringVar(&f.secondary, "secondary", "", "Second prompt for dual_prompt mode")
	fl.StringVar(&f.image, "image", "", "Input image for img2img and inpaint (PNG or JPEG)")
	fl.StringVar(&f.mask, "mask", "", "Inpaint mask; white is repainted")
	fl.StringVar(&f.adapterImage, "adapter-image", "", "Reference image for the style's image adapter")
	fl.Float64Var(&f.adapterScale, "adapter-scale", 0, "Adapter influence for this run, 0 to 1")
	fl.IntVar(&f.width, "width", 0, "Output width (default: SD_IMAGE_SIZE)")
	fl.IntVar(&f.height, "height", 0, "Output height (default: SD_IMAGE_SIZE)")
	fl.IntVar(&f.steps, "steps", 0, "Denoising steps (default: the style's)")
	fl.Float64Var(&f.guidance, "guidance", 0, "Guidance scale (default: SD_GUIDANCE_SCALE)")
	fl.Float64Var(&f.strength, "strength", 0, "img2img strength, 0 keeps the input (default: SD_DEFAULT_STRENGTH)")
	fl.Float64Var(&f.split, "split", 0, "Fraction of steps run by the base model in staged runs")
	fl.Int64Var(&f.seed, "seed", 0, "Random seed, -1 for a fresh one (default: SD_DEFAULT_SEED)")
	fl.StringVar(&f.format, "format", string(compositor.FormatPNG), "Output format: png or webp")
	fl.StringVarP(&f.outDir, "out", "o", ".", "Output directory")
	fl.BoolVar(&f.composite, "composite", false, "Also write every panel side by side")
	fl.BoolVar(&f.noCache, "no-cache", false, "Always generate, ignoring the result cache")
}

// buildRequest turns flags into a Request. Optional numeric flags are only
// set when given on the command line.
func buildRequest(cmd *cobra.Command, f *generateFlags, catalogue *styles.Registry, defaults core.GenerationDefaults) (session.Request, error) {
	mode, err := session.ParseMode(f.mode)
	if err != nil {
		return session.Request{}, &session.ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", f.mode)}
	}

	style := f.style
	if style == "" {
		names := catalogue.Names()
		if len(names) == 0 {
			return session.Request{}, fmt.Errorf("%w: catalogue is empty", styles.ErrUnknownStyle)
		}
		style = names[0]
	}
	cfg, err := catalogue.Resolve(style)
	if err != nil {
		return session.Request{}, err
	}

	req := session.Request{
		Mode:            mode,
		Style:           cfg.StyleName,
		Prompt:          f.prompt,
		NegativePrompt:  f.negative,
		SecondaryPrompt: f.secondary,
		Width:           f.width,
		Height:          f.height,
		Steps:           f.steps,
		GuidanceScale:   f.guidance,
		Seed:            defaults.Seed,
	}
	if strings.TrimSpace(req.Prompt) == "" {
		req.Prompt = cfg.DefaultPrompt
	}

	changed := cmd.Flags().Changed
	if changed("seed") {
		req.Seed = f.seed
		if req.Seed == server.RandomSeed {
			req.Seed = sdruntime.RandomSeed()
		}
	}
	if changed("strength") {
		req.Strength = &f.strength
	}
	if changed("split") {
		req.StageSplit = &f.split
	}
	if changed("adapter-scale") {
		req.AdapterScale = &f.adapterScale
	}

	for _, in := range []struct {
		path  string
		field string
		dst   *image.Image
	}{
		{f.image, "conditioning_image", &req.ConditioningImage},
		{f.mask, "mask_image", &req.MaskImage},
		{f.adapterImage, "adapter_image", &req.AdapterImage},
	} {
		if in.path == "" {
			continue
		}
		data, err := os.ReadFile(in.path)
		if err != nil {
			return session.Request{}, &session.ValidationError{Field: in.field, Reason: err.Error(), Err: err}
		}
		img, err := compositor.Decode(data)
		if err != nil {
			return session.Request{}, &session.ValidationError{Field: in.field, Reason: "not a PNG or JPEG image", Err: err}
		}
		*in.dst = img
	}
	return req, nil
}

func runGenerate(cmd *cobra.Command, c *cli, f *generateFlags) error {
	ctx := cmd.Context()
	st, err := openStudio(ctx, c.cfg, c.log)
	if err != nil {
		return c.fatal(err)
	}
	defer st.Close()

	format, err := compositor.ParseFormat(f.format)
	if err != nil {
		return usageError(err)
	}
	req, err := buildRequest(cmd, f, st.styles, c.cfg.Defaults)
	if err != nil {
		return reportRunError(cmd.ErrOrStderr(), err)
	}

	resolved, err := st.session.Resolve(req)
	if err != nil {
		return reportRunError(cmd.ErrOrStderr(), err)
	}

	out := cmd.OutOrStdout()
	key := resultcache.Key(resolved, format)
	var entry *resultcache.Entry
	if !f.noCache {
		var hit bool
		entry, hit, err = st.cache.Get(ctx, key)
		if err != nil {
			c.log.Warn("result cache read failed", zap.Error(err))
		}
		if hit {
			color.New(color.FgHiBlack).Fprintln(out, "Using cached result")
		}
	}

	if entry == nil {
		bar := newProgressPrinter(out)
		res, err := st.session.Run(ctx, req, bar.Handle)
		bar.Done()
		if err != nil {
			return reportRunError(cmd.ErrOrStderr(), err)
		}
		entry, err = resultcache.FromResult(res, format)
		if err != nil {
			return err
		}
		if err := st.cache.Set(ctx, key, entry); err != nil {
			c.log.Warn("result cache write failed", zap.Error(err))
		}
		color.New(color.FgGreen).Fprintf(out, "✓ %s %s in %s (seed %d, run %s)\n",
			res.Style, res.Mode, res.Duration.Round(time.Millisecond), res.Seed, res.RunID)
	}

	paths, err := writeEntry(entry, f.outDir, f.composite)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintf(out, "  wrote %s\n", p)
	}
	return nil
}

// writeEntry writes the final panel under its download name. Earlier panels
// get a label suffix; with composite set all panels are also written side
// by side.
func writeEntry(e *resultcache.Entry, dir string, composite bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := e.DownloadName()
	stem := strings.TrimSuffix(name, e.Format.Extension())

	var paths []string
	write := func(file string, data []byte) error {
		p := filepath.Join(dir, file)
		if err := os.WriteFile(p, data, 0o644); err != nil {
			return err
		}
		paths = append(paths, p)
		return nil
	}

	for i, panel := range e.Panels {
		file := name
		if i < len(e.Panels)-1 {
			file = stem + "_" + panel.Label + e.Format.Extension()
		}
		if err := write(file, panel.Data); err != nil {
			return paths, err
		}
	}

	if composite && len(e.Panels) > 1 {
		imgs := make([]image.Image, 0, len(e.Panels))
		for _, panel := range e.Panels {
			img, err := compositor.DecodeAs(panel.Data, e.Format)
			if err != nil {
				return paths, err
			}
			imgs = append(imgs, img)
		}
		grid, err := compositor.Compose(imgs, compositor.Row)
		if err != nil {
			return paths, err
		}
		data, err := compositor.Encode(grid, e.Format)
		if err != nil {
			return paths, err
		}
		if err := write(stem+"_composite"+e.Format.Extension(), data); err != nil {
			return paths, err
		}
	}
	return paths, nil
}

// reportRunError prints the user-facing message for err. Rejected requests
// exit with the usage code.
func reportRunError(w io.Writer, err error) error {
	color.New(color.FgRed, color.Bold).Fprintf(w, "✗ %s\n", server.UserMessage(err))
	code := core.ExitCodeError
	if s := server.StatusCode(err); s == http.StatusBadRequest || s == http.StatusNotFound {
		code = core.ExitCodeUsage
	}
	return &core.ExitError{Code: code, Err: err}
}

func usageError(err error) error {
	color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "✗ %s\n", err)
	return &core.ExitError{Code: core.ExitCodeUsage, Err: err}
}
