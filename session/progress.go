package session

import (
	"time"
)

// Stage names reported in progress events and errors.
const (
	StageSetup   = "setup"
	StageBase    = "base"
	StageRefiner = "refiner"
	StageDecode  = "decode"
)

// ProgressEvent is emitted after every denoising step. StepIndex counts
// across all stages of a run and strictly increases.
type ProgressEvent struct {
	Stage              string
	StepIndex          int
	TotalSteps         int
	Percent            int
	Elapsed            time.Duration
	EstimatedRemaining time.Duration
	HasEstimate        bool
}

// ProgressFunc receives events synchronously on the run's goroutine. It must
// not call back into the Session.
type ProgressFunc func(ProgressEvent)
