package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"sdstudio/core"
	"sdstudio/session"
)

const barWidth = 30

// progressPrinter redraws a single status line per denoising step.
type progressPrinter struct {
	w       io.Writer
	stage   string
	printed bool
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w}
}

// Handle is a session.ProgressFunc. A stage change starts a new line so the
// base and refiner stages stay visible.
func (p *progressPrinter) Handle(ev session.ProgressEvent) {
	if p.printed && ev.Stage != p.stage {
		fmt.Fprintln(p.w)
	}
	p.stage = ev.Stage
	p.printed = true
	fmt.Fprint(p.w, "\r"+renderProgress(ev))
}

// Done ends the status line.
func (p *progressPrinter) Done() {
	if p.printed {
		fmt.Fprintln(p.w)
		p.printed = false
	}
}

func renderProgress(ev session.ProgressEvent) string {
	filled := ev.Percent * barWidth / 100
	if filled > barWidth {
		filled = barWidth
	}
	bar := color.CyanString(strings.Repeat("█", filled)) + strings.Repeat("░", barWidth-filled)

	info := core.ProgressInfo{Percent: ev.Percent, ETA: ev.EstimatedRemaining, HasETA: ev.HasEstimate}
	return fmt.Sprintf("  %-8s %s %d/%d %s  ", ev.Stage, bar, ev.StepIndex+1, ev.TotalSteps, info)
}
