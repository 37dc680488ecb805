// Package validation runs the pre-flight checks behind `sdstudio check`.
//
// Each check inspects one thing the studio needs before a pipeline can be
// built: the access token, the style catalogue, the model artifacts each
// style references, free disk space and the history database. Results are
// printed as they complete.
package validation

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

// StepStatus is the outcome of one check.
type StepStatus int

const (
	StepPassed StepStatus = iota
	StepWarning
	StepFailed
	StepSkipped
)

func (s StepStatus) String() string {
	switch s {
	case StepPassed:
		return "passed"
	case StepWarning:
		return "warning"
	case StepFailed:
		return "failed"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Outcome is what a Check reports.
type Outcome struct {
	Status  StepStatus
	Message string
	Err     error
}

func pass(format string, args ...interface{}) Outcome {
	return Outcome{Status: StepPassed, Message: fmt.Sprintf(format, args...)}
}

func warn(format string, args ...interface{}) Outcome {
	return Outcome{Status: StepWarning, Message: fmt.Sprintf(format, args...)}
}

func fail(err error, format string, args ...interface{}) Outcome {
	return Outcome{Status: StepFailed, Message: fmt.Sprintf(format, args...), Err: err}
}

func skip(reason string) Outcome {
	return Outcome{Status: StepSkipped, Message: reason}
}

// Check is a named pre-flight check.
type Check struct {
	Name string
	Run  func(ctx context.Context) Outcome
}

// Step is a completed check.
type Step struct {
	Name    string
	Outcome Outcome
	Latency time.Duration
}

// SuiteResult summarises a run of the suite.
type SuiteResult struct {
	Steps    []Step
	Passed   int
	Failed   int
	Warnings int
	Duration time.Duration
}

// Success is true when no check failed. Warnings do not fail the suite.
func (r SuiteResult) Success() bool { return r.Failed == 0 }

// FirstError returns the error of the first failed check.
func (r SuiteResult) FirstError() error {
	for _, s := range r.Steps {
		if s.Outcome.Status == StepFailed && s.Outcome.Err != nil {
			return s.Outcome.Err
		}
	}
	return nil
}

func (r SuiteResult) Summary() string {
	var sb strings.Builder
	if r.Success() {
		sb.WriteString("Checks passed: ")
	} else {
		sb.WriteString("Checks failed: ")
	}
	fmt.Fprintf(&sb, "%d/%d passed", r.Passed, len(r.Steps))
	if r.Failed > 0 {
		fmt.Fprintf(&sb, ", %d failed", r.Failed)
	}
	if r.Warnings > 0 {
		fmt.Fprintf(&sb, ", %d warnings", r.Warnings)
	}
	fmt.Fprintf(&sb, " (took %v)", r.Duration.Round(time.Millisecond))
	return sb.String()
}

// Suite runs checks in order and prints each result.
type Suite struct {
	checks   []Check
	output   io.Writer
	quiet    bool
	failFast bool
}

func NewSuite(checks ...Check) *Suite {
	return &Suite{checks: checks, output: os.Stdout}
}

func (s *Suite) WithOutput(w io.Writer) *Suite {
	s.output = w
	return s
}

// WithQuiet suppresses progress output.
func (s *Suite) WithQuiet(quiet bool) *Suite {
	s.quiet = quiet
	return s
}

// WithFailFast skips the remaining checks after the first failure.
func (s *Suite) WithFailFast(failFast bool) *Suite {
	s.failFast = failFast
	return s
}

// Run executes every check. A check whose Run panics is not recovered.
func (s *Suite) Run(ctx context.Context) SuiteResult {
	start := time.Now()
	s.printHeader("sdstudio pre-flight checks")

	var res SuiteResult
	failed := false
	for _, c := range s.checks {
		var step Step
		switch {
		case failed && s.failFast:
			step = Step{Name: c.Name, Outcome: skip("skipped after an earlier failure")}
		case ctx.Err() != nil:
			step = Step{Name: c.Name, Outcome: skip("cancelled")}
		default:
			t := time.Now()
			step = Step{Name: c.Name, Outcome: c.Run(ctx)}
			step.Latency = time.Since(t)
		}

		switch step.Outcome.Status {
		case StepPassed:
			res.Passed++
		case StepWarning:
			res.Warnings++
		case StepFailed:
			res.Failed++
			failed = true
		}
		res.Steps = append(res.Steps, step)
		s.printStep(step)
	}
	res.Duration = time.Since(start)
	s.printSummary(res)
	return res
}

func (s *Suite) printHeader(title string) {
	if s.quiet {
		return
	}
	fmt.Fprintln(s.output)
	color.New(color.FgCyan, color.Bold).Fprintf(s.output, "━━━ %s ━━━\n", title)
	fmt.Fprintln(s.output)
}

func (s *Suite) printStep(step Step) {
	if s.quiet {
		return
	}
	var icon string
	var clr *color.Color
	switch step.Outcome.Status {
	case StepPassed:
		icon, clr = "✓", color.New(color.FgGreen)
	case StepWarning:
		icon, clr = "!", color.New(color.FgYellow)
	case StepFailed:
		icon, clr = "✗", color.New(color.FgRed)
	default:
		icon, clr = "○", color.New(color.FgHiBlack)
	}

	clr.Fprintf(s.output, "  %s %s", icon, step.Name)
	if step.Outcome.Message != "" {
		color.New(color.FgHiBlack).Fprintf(s.output, " - %s", step.Outcome.Message)
	}
	fmt.Fprintln(s.output)
	if step.Outcome.Status == StepFailed && step.Outcome.Err != nil {
		color.New(color.FgRed).Fprintf(s.output, "    └─ %s\n", step.Outcome.Err)
	}
}

func (s *Suite) printSummary(r SuiteResult) {
	if s.quiet {
		return
	}
	fmt.Fprintln(s.output)
	if r.Success() {
		color.New(color.FgGreen, color.Bold).Fprintln(s.output, "━━━ "+r.Summary()+" ━━━")
	} else {
		color.New(color.FgRed, color.Bold).Fprintln(s.output, "━━━ "+r.Summary()+" ━━━")
	}
	fmt.Fprintln(s.output)
}
