package pipeline

import (
	"fmt"
	"sync"

	"sdstudio/sdruntime"
	"sdstudio/styles"
)

// Handle is a built pipeline. It is owned by the Registry and shared by
// every run for its Key.
//
// The adapter scale is the only state a run may change. Acquire serialises
// runs on a Handle so that a scale override is applied, used and restored
// without another run observing it.
type Handle struct {
	Key     Key
	Config  styles.ModelConfig
	Base    *sdruntime.Model
	Refiner *sdruntime.Model

	runMu sync.Mutex
}

// Staged reports whether the handle carries a refiner.
func (h *Handle) Staged() bool { return h.Refiner != nil }

// Acquire takes exclusive use of the handle. When scale is non-nil the
// adapter scale is set for the duration and restored by release.
func (h *Handle) Acquire(scale *float64) (release func(), err error) {
	h.runMu.Lock()
	if scale == nil {
		return h.runMu.Unlock, nil
	}

	prev, ok := h.Base.AdapterScale()
	if !ok {
		h.runMu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, h.Key)
	}
	if err := h.Base.SetAdapterScale(*scale); err != nil {
		h.runMu.Unlock()
		return nil, err
	}
	return func() {
		// prev was accepted once, so restoring it cannot fail.
		_ = h.Base.SetAdapterScale(prev)
		h.runMu.Unlock()
	}, nil
}
