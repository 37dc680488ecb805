package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"

	"sdstudio/sdruntime"
	"sdstudio/styles"
)

// Artifacts lists the references a pipeline for profile loads, in the order
// NewBuilder loads them.
func Artifacts(cfg styles.ModelConfig, profile Profile) []string {
	refs := []string{cfg.BaseModel}
	if UsesRefiner(cfg, profile) {
		refs = append(refs, cfg.RefinerModel)
	}
	if cfg.HasAdapter() {
		refs = append(refs, cfg.Adapter.Ref())
	}
	if cfg.Overlay != nil {
		refs = append(refs, cfg.Overlay.Ref)
	}
	return refs
}

// Identity digests everything that decides the weights of the pipeline for
// cfg and profile: the catalogue entry itself and the contents of every
// artifact it loads. Two calls return the same string only when the built
// pipelines would produce the same output.
func Identity(store *sdruntime.ArtifactStore, cfg styles.ModelConfig, profile Profile) (string, error) {
	key := Key{Style: cfg.StyleName, Profile: profile}
	entry, err := yaml.Marshal(cfg)
	if err != nil {
		return "", &ModelLoadError{Key: key, Cause: err}
	}

	h := sha256.New()
	fmt.Fprintf(h, "profile=%s\n", profile)
	h.Write(entry)
	for _, ref := range Artifacts(cfg, profile) {
		fp, err := store.Fingerprint(ref)
		if err != nil {
			return "", &ModelLoadError{Key: key, Ref: ref, Cause: err}
		}
		fmt.Fprintf(h, "%s=%x\n", ref, fp)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
