package core

import (
	"testing"
	"time"
)

func TestStepPercent(t *testing.T) {
	tests := []struct {
		step, total int
		want        int
	}{
		{0, 30, 3},
		{14, 30, 50},
		{29, 30, 100},
		{30, 30, 100},
		{0, 1, 100},
		{0, 0, 0},
		{-5, 10, 0},
		{0, 3, 33},
		{248, 250, 99},
		{249, 250, 100},
	}
	for _, tt := range tests {
		if got := StepPercent(tt.step, tt.total); got != tt.want {
			t.Errorf("StepPercent(%d, %d) = %d, want %d", tt.step, tt.total, got, tt.want)
		}
	}
}

func TestEstimateRemaining(t *testing.T) {
	if _, ok := EstimateRemaining(0, 30, time.Second); ok {
		t.Error("step 0 must not produce an estimate")
	}
	eta, ok := EstimateRemaining(10, 30, 5*time.Second)
	if !ok {
		t.Fatal("expected an estimate at step 10")
	}
	if eta != 10*time.Second {
		t.Errorf("ETA = %v, want 10s", eta)
	}
	if eta, ok := EstimateRemaining(30, 30, 15*time.Second); !ok || eta != 0 {
		t.Errorf("final step ETA = %v, %v; want 0, true", eta, ok)
	}
	if _, ok := EstimateRemaining(31, 30, time.Second); ok {
		t.Error("index past total must not produce an estimate")
	}
}

func TestProgressTracker_Monotonic(t *testing.T) {
	tr := NewProgressTracker()

	last := -1
	for i := 0; i < 20; i++ {
		info := tr.Update(i, 20, time.Duration(i)*time.Second)
		if info.Percent < last {
			t.Fatalf("percent regressed at step %d: %d < %d", i, info.Percent, last)
		}
		if info.Percent < 0 || info.Percent > 100 {
			t.Fatalf("percent out of range: %d", info.Percent)
		}
		if i == 0 && info.HasETA {
			t.Error("first step should have no ETA")
		}
		if i > 0 && !info.HasETA {
			t.Errorf("step %d should have an ETA", i)
		}
		last = info.Percent
	}
	if last != 100 {
		t.Errorf("final percent = %d, want 100", last)
	}

	// A stale, lower step does not pull the bar back.
	if info := tr.Update(3, 20, time.Second); info.Percent != 100 {
		t.Errorf("percent after stale update = %d, want 100", info.Percent)
	}

	tr.Reset(0)
	if tr.Percent() != 0 {
		t.Errorf("Percent() after Reset = %d", tr.Percent())
	}
}

func TestProgressTracker_StartsPartWay(t *testing.T) {
	tr := NewProgressTracker()
	tr.Reset(10)

	first := tr.Update(10, 20, 2*time.Second)
	if first.HasETA {
		t.Error("first executed step should have no ETA")
	}
	if first.Percent != 55 {
		t.Errorf("percent = %d, want 55", first.Percent)
	}

	// Five executed steps in 5s leave five more at 1s each.
	info := tr.Update(15, 20, 5*time.Second)
	if !info.HasETA || info.ETA != 5*time.Second {
		t.Errorf("ETA = %v, %v; want 5s", info.ETA, info.HasETA)
	}
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{65 * time.Second, "1m 5s"},
		{125*time.Second + 400*time.Millisecond, "2m 5s"},
		{-time.Second, "0s"},
	}
	for _, tt := range tests {
		if got := FormatETA(tt.d); got != tt.want {
			t.Errorf("FormatETA(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestProgressInfo_String(t *testing.T) {
	if got := (ProgressInfo{Percent: 10}).String(); got != "10%" {
		t.Errorf("String() = %q", got)
	}
	if got := (ProgressInfo{Percent: 50, ETA: 70 * time.Second, HasETA: true}).String(); got != "50% (ETA 1m 10s)" {
		t.Errorf("String() = %q", got)
	}
}
