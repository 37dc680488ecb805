package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCodeName(t *testing.T) {
	tests := map[int]string{
		ExitCodeSuccess: "success",
		ExitCodeError:   "error",
		ExitCodeUsage:   "usage",
		ExitCodeSIGINT:  "interrupted (SIGINT)",
		ExitCodeSIGTERM: "terminated (SIGTERM)",
		42:              "unknown",
	}
	for code, want := range tests {
		if got := ExitCodeName(code); got != want {
			t.Errorf("ExitCodeName(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestExitCodeFor(t *testing.T) {
	usage := &ExitError{Code: ExitCodeUsage, Err: errors.New("bad flag")}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitCodeSuccess},
		{"plain", errors.New("boom"), ExitCodeError},
		{"exit error", usage, ExitCodeUsage},
		{"wrapped exit error", fmt.Errorf("generate: %w", usage), ExitCodeUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCodeFor(tt.err); got != tt.want {
				t.Errorf("ExitCodeFor() = %d, want %d", got, tt.want)
			}
		})
	}
	if usage.Error() != "bad flag" {
		t.Errorf("Error() = %q", usage.Error())
	}
	if !errors.Is(usage, usage.Err) {
		t.Error("ExitError should unwrap to its cause")
	}
}
