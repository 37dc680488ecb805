package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"sdstudio/logging"
)

// Run statuses stored by a Recorder.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// RunRecord summarises one run for history.
type RunRecord struct {
	RunID           string
	Style           string
	Mode            Mode
	Prompt          string
	NegativePrompt  string
	SecondaryPrompt string
	Seed            int64
	Steps           int
	Width           int
	Height          int
	GuidanceScale   float64
	Strength        float64
	StageSplit      float64
	StartedAt       time.Time
	Duration        time.Duration
	Status          string
	Error           string
}

// Recorder persists run records. Failures are logged and never fail a run.
type Recorder interface {
	RecordRun(ctx context.Context, rec RunRecord) error
}

func (s *Session) record(ctx context.Context, log *logging.Logger, runID string, p *plan, start time.Time, dur time.Duration, runErr error) {
	if s.recorder == nil {
		return
	}
	rec := RunRecord{
		RunID:           runID,
		Style:           p.style.StyleName,
		Mode:            p.mode,
		Prompt:          p.prompt,
		NegativePrompt:  p.negative,
		SecondaryPrompt: p.second,
		Seed:            p.seed,
		Steps:           p.steps,
		Width:           p.width,
		Height:          p.height,
		GuidanceScale:   p.guidance,
		Strength:        p.strength,
		StageSplit:      p.split,
		StartedAt:       start,
		Duration:        dur,
		Status:          StatusSucceeded,
	}
	if runErr != nil {
		rec.Status = StatusFailed
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			rec.Status = StatusCancelled
		}
		rec.Error = logging.RedactSecrets(runErr.Error())
	}
	if err := s.recorder.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("failed to record run", zap.Error(err))
	}
}
