package core

import (
	"fmt"
	"sync"
	"time"
)

// ProgressInfo is the display state derived from one denoising step.
type ProgressInfo struct {
	// Percent is in [0, 100] and never decreases within one run.
	Percent int
	// ETA is only meaningful when HasETA is set. The first step of a run has
	// no timing history, so no estimate is produced for it.
	ETA    time.Duration
	HasETA bool
}

// String renders "42% (ETA 1m 5s)" or "42%".
func (p ProgressInfo) String() string {
	if !p.HasETA {
		return fmt.Sprintf("%d%%", p.Percent)
	}
	return fmt.Sprintf("%d%% (ETA %s)", p.Percent, FormatETA(p.ETA))
}

// ProgressTracker turns step events into percent and ETA. It is safe for
// concurrent use, although a run reports from a single goroutine.
type ProgressTracker struct {
	mu      sync.Mutex
	percent int
	first   int
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{}
}

// Update folds in a step. stepIndex is zero-based and counts across every
// stage of a run; totalSteps is the run total; elapsed is measured from the
// start of the run. The ETA is projected over the steps executed since the
// first step given to Reset.
func (p *ProgressTracker) Update(stepIndex, totalSteps int, elapsed time.Duration) ProgressInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	pct := StepPercent(stepIndex, totalSteps)
	if pct < p.percent {
		pct = p.percent
	}
	p.percent = pct

	info := ProgressInfo{Percent: pct}
	if eta, ok := EstimateRemaining(stepIndex-p.first, totalSteps-p.first, elapsed); ok {
		info.ETA = eta
		info.HasETA = true
	}
	return info
}

// Percent returns the last reported percentage.
func (p *ProgressTracker) Percent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percent
}

// Reset starts a new run whose first executed step is firstStep. Runs that
// start part way through the schedule, such as img2img, pass the step they
// start at.
func (p *ProgressTracker) Reset(firstStep int) {
	p.mu.Lock()
	p.percent = 0
	p.first = max(firstStep, 0)
	p.mu.Unlock()
}

// StepPercent is floor(100*(i+1)/N) clamped to [0, 100].
func StepPercent(stepIndex, totalSteps int) int {
	if totalSteps <= 0 {
		return 0
	}
	pct := (stepIndex + 1) * 100 / totalSteps
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// EstimateRemaining projects elapsed/i*(N-i). It reports false at step 0
// and for out-of-range indices.
func EstimateRemaining(stepIndex, totalSteps int, elapsed time.Duration) (time.Duration, bool) {
	if stepIndex <= 0 || totalSteps <= 0 || stepIndex > totalSteps || elapsed < 0 {
		return 0, false
	}
	perStep := float64(elapsed) / float64(stepIndex)
	return time.Duration(perStep * float64(totalSteps-stepIndex)), true
}

// FormatETA renders d as "Xm Ys" or, under a minute, "Ys".
func FormatETA(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d.Round(time.Second) / time.Second)
	if m := secs / 60; m > 0 {
		return fmt.Sprintf("%dm %ds", m, secs%60)
	}
	return fmt.Sprintf("%ds", secs)
}
