package validation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"sdstudio/core"
	"sdstudio/db"
	"sdstudio/sdruntime"
	"sdstudio/styles"
)

// MinFreeModelSpace is the free space below which the disk check warns.
// A staged SDXL checkpoint pair is roughly this large.
const MinFreeModelSpace = 16 * core.BytesPerGB

// TokenCheck fails when the access token is missing.
func TokenCheck(token string) Check {
	return Check{Name: "Access Token", Run: func(context.Context) Outcome {
		token = strings.TrimSpace(token)
		switch {
		case token == "":
			return fail(core.ErrMissingAuth(core.EnvHuggingFaceToken), "%s is not set", core.EnvHuggingFaceToken)
		case !strings.HasPrefix(token, "hf_"):
			return warn("set, but does not look like a Hugging Face token")
		}
		return pass("set")
	}}
}

// CatalogueCheck loads the style catalogue from path, or the built-in one
// when path is empty.
func CatalogueCheck(path string) Check {
	return Check{Name: "Style Catalogue", Run: func(context.Context) Outcome {
		reg, err := styles.LoadOrDefault(path)
		if err != nil {
			return fail(err, "cannot load %s", path)
		}
		src := path
		if src == "" {
			src = "built-in"
		}
		return pass("%d styles (%s)", reg.Len(), src)
	}}
}

// ArtifactRefs lists every artifact reference the catalogue needs, in
// catalogue order and without duplicates.
func ArtifactRefs(reg *styles.Registry) []string {
	seen := make(map[string]bool)
	var refs []string
	add := func(ref string) {
		if ref != "" && !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	for _, c := range reg.All() {
		add(c.BaseModel)
		if c.Capabilities.IsStaged {
			add(c.RefinerModel)
		}
		if c.HasAdapter() {
			add(c.Adapter.Ref())
		}
		if c.Overlay != nil {
			add(c.Overlay.Ref)
		}
	}
	return refs
}

// ArtifactChecksums collects the expected digests the catalogue declares.
// When two styles pin the same reference the first one wins.
func ArtifactChecksums(reg *styles.Registry) map[string]string {
	sums := make(map[string]string)
	for _, c := range reg.All() {
		for ref, sum := range c.Checksums {
			if _, ok := sums[ref]; !ok {
				sums[ref] = sum
			}
		}
	}
	return sums
}

// ArtifactsCheck confirms that every artifact the catalogue references is
// present in store. With verify set each artifact is also read and hashed,
// which is slow for full checkpoints, and compared with its catalogue
// checksum when one is declared.
func ArtifactsCheck(store *sdruntime.ArtifactStore, reg *styles.Registry, verify bool) Check {
	return Check{Name: "Model Artifacts", Run: func(ctx context.Context) Outcome {
		refs := ArtifactRefs(reg)
		sums := ArtifactChecksums(reg)
		var errs []error
		for _, ref := range refs {
			if ctx.Err() != nil {
				return fail(ctx.Err(), "interrupted")
			}
			if verify {
				if _, err := store.Fingerprint(ref); err != nil {
					errs = append(errs, err)
					continue
				}
				if err := store.VerifyChecksum(ref, sums[ref]); err != nil {
					errs = append(errs, err)
				}
				continue
			}
			if _, err := os.Stat(store.Path(ref)); err != nil {
				errs = append(errs, fmt.Errorf("%w: %s", sdruntime.ErrArtifactNotFound, ref))
			}
		}
		if len(errs) > 0 {
			return fail(errors.Join(errs...), "%d of %d missing or damaged under %s", len(errs), len(refs), store.Root())
		}
		if verify {
			return pass("%d artifacts verified", len(refs))
		}
		return pass("%d artifacts present", len(refs))
	}}
}

// DiskSpaceCheck warns when less than minFree bytes are free at path.
func DiskSpaceCheck(path string, minFree int64) Check {
	return Check{Name: "Disk Space", Run: func(context.Context) Outcome {
		info, err := GetDiskSpace(path)
		if err != nil {
			return fail(err, "cannot read free space")
		}
		if info.Free < minFree {
			return Outcome{
				Status:  StepWarning,
				Message: fmt.Sprintf("%s free, %s recommended", core.FormatBytes(info.Free), core.FormatBytes(minFree)),
				Err:     &DiskSpaceError{Path: info.Path, Required: minFree, Available: info.Free},
			}
		}
		return pass("%s free (%.0f%% used)", core.FormatBytes(info.Free), info.UsedPercent())
	}}
}

// HistoryCheck opens the history database, applying migrations. An empty
// path means history is disabled.
func HistoryCheck(path string) Check {
	return Check{Name: "History Database", Run: func(context.Context) Outcome {
		if path == "" {
			return skip("history disabled")
		}
		d, err := db.Open(path)
		if err != nil {
			return fail(err, "cannot open %s", path)
		}
		d.Close()
		version, dirty, err := db.MigrationVersion(path)
		if err != nil {
			return fail(err, "cannot read schema version")
		}
		if dirty {
			return fail(fmt.Errorf("validation: schema version %d is dirty", version), "migration interrupted")
		}
		return pass("%s (schema v%d)", path, version)
	}}
}

// StartupChecks is the standard suite for a loaded configuration.
func StartupChecks(cfg *core.Config, store *sdruntime.ArtifactStore, reg *styles.Registry, verify bool) []Check {
	return []Check{
		TokenCheck(cfg.HuggingFaceToken),
		CatalogueCheck(cfg.StylesFile),
		ArtifactsCheck(store, reg, verify),
		DiskSpaceCheck(cfg.ModelsDir, MinFreeModelSpace),
		HistoryCheck(cfg.DBPath),
	}
}
