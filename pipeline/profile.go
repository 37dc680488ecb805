// Package pipeline builds and caches ready-to-run generation pipelines.
//
// A pipeline is identified by a style name and a Profile. Building one loads
// model components from the artifact store, attaches the style's adapter and
// merges its overlay; the Registry makes sure each (style, profile) pair is
// built at most once and shares the result between callers.
package pipeline

import (
	"fmt"

	"sdstudio/styles"
)

// Profile selects the pipeline topology.
type Profile int

const (
	ProfileText2Img Profile = iota
	ProfileImg2Img
	ProfileInpaint
	ProfileStaged
)

var profileNames = map[Profile]string{
	ProfileText2Img: "text2img",
	ProfileImg2Img:  "img2img",
	ProfileInpaint:  "inpaint",
	ProfileStaged:   "staged",
}

func (p Profile) String() string {
	if s, ok := profileNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Profile(%d)", int(p))
}

// Supports reports whether cfg can serve profile.
func Supports(cfg styles.ModelConfig, profile Profile) bool {
	switch profile {
	case ProfileText2Img:
		return true
	case ProfileImg2Img:
		return cfg.Capabilities.SupportsImg2Img
	case ProfileInpaint:
		return cfg.Capabilities.SupportsInpaint
	case ProfileStaged:
		return cfg.Capabilities.IsStaged && cfg.RefinerModel != ""
	}
	return false
}

// UsesRefiner reports whether a pipeline for profile carries a refiner.
// Inpainting adds one when the style is staged.
func UsesRefiner(cfg styles.ModelConfig, profile Profile) bool {
	switch profile {
	case ProfileStaged:
		return true
	case ProfileInpaint:
		return cfg.Capabilities.IsStaged && cfg.RefinerModel != ""
	}
	return false
}

// Key identifies a cached pipeline.
type Key struct {
	Style   string
	Profile Profile
}

func (k Key) String() string {
	return k.Style + "/" + k.Profile.String()
}
