// Package sdruntime is the model runtime behind sdstudio.
//
// It exposes a latent-diffusion model as a small set of opaque capabilities:
// loading components from an artifact store, attaching an image-prompt
// adapter, merging a weight overlay, running a window of denoising steps and
// converting between images and latents. Callers never see weights.
//
// The bundled backend is a deterministic reference engine. Component weights
// are derived from the bytes of the artifact files, so the same files and the
// same seed always produce the same pixels. It keeps the behaviour that
// orchestration code depends on:
//
//   - A base model and a refiner share the second text encoder and the VAE.
//   - Denoising can stop early and hand its latent to another model, which
//     resumes at the same point in the noise schedule.
//   - All noise comes from the caller's Generator, in step order.
//   - Image-to-image with strength 0 runs no steps and returns the input.
//   - Inpainting keeps unmasked pixels equal to the source at the final step.
//   - Cancellation is observed between steps.
//
// # Artifacts
//
// References such as "stabilityai/stable-diffusion-xl-base-1.0" resolve to
// files or directories below the store root. Loading requires a non-empty
// access token; a missing token or artifact fails with ErrMissingCredential
// or ErrArtifactNotFound.
//
//	store := sdruntime.NewArtifactStore("./models", os.Getenv("HUGGINGFACE_TOKEN"))
//	base, err := sdruntime.LoadModel(ctx, store, "stabilityai/stable-diffusion-xl-base-1.0", sdruntime.SchedulerEulerAncestral)
//	if err != nil {
//	    return err
//	}
//	gen := sdruntime.NewGenerator(123)
//	latent, err := base.Denoise(ctx, sdruntime.DenoiseRequest{
//	    Prompt: "a lighthouse at dusk", Width: 512, Height: 512,
//	    Steps: 30, GuidanceScale: 7.5, Generator: gen,
//	})
//	img := base.Decode(latent)
package sdruntime
