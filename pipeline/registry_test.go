package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"sdstudio/styles"
)

func testStyles(t *testing.T) *styles.Registry {
	t.Helper()
	reg, err := styles.NewRegistry(
		styles.ModelConfig{
			StyleName:    "Full",
			BaseModel:    "org/base",
			RefinerModel: "org/refiner",
			Capabilities: styles.Capabilities{SupportsImg2Img: true, SupportsInpaint: true, IsStaged: true},
		},
		styles.ModelConfig{StyleName: "Plain", BaseModel: "org/base"},
	)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

// countingBuilder returns handles without touching disk and counts calls.
type countingBuilder struct {
	calls atomic.Int64
	delay time.Duration
	fail  atomic.Bool
}

func (b *countingBuilder) build(ctx context.Context, cfg styles.ModelConfig, profile Profile) (*Handle, error) {
	b.calls.Add(1)
	time.Sleep(b.delay)
	if b.fail.Load() {
		return nil, errors.New("disk on fire")
	}
	return &Handle{Key: Key{Style: cfg.StyleName, Profile: profile}, Config: cfg}, nil
}

func TestRegistry_CachesByKey(t *testing.T) {
	b := &countingBuilder{}
	r := NewRegistry(testStyles(t), b.build)
	ctx := context.Background()

	h1, err := r.Get(ctx, "Full", ProfileText2Img)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := r.Get(ctx, "Full", ProfileText2Img)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("second Get returned a different handle")
	}
	h3, err := r.Get(ctx, "Full", ProfileStaged)
	if err != nil {
		t.Fatal(err)
	}
	if h3 == h1 {
		t.Error("different profiles share a handle")
	}
	if got := b.calls.Load(); got != 2 {
		t.Errorf("builder called %d times, want 2", got)
	}
	if r.Builds() != 2 || r.Len() != 2 {
		t.Errorf("Builds() = %d, Len() = %d", r.Builds(), r.Len())
	}
}

func TestRegistry_ConcurrentGetBuildsOnce(t *testing.T) {
	b := &countingBuilder{delay: 50 * time.Millisecond}
	r := NewRegistry(testStyles(t), b.build)

	const callers = 16
	handles := make([]*Handle, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := r.Get(context.Background(), "Full", ProfileInpaint)
			if err != nil {
				t.Errorf("Get() error: %v", err)
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	if got := b.calls.Load(); got != 1 {
		t.Errorf("builder called %d times, want 1", got)
	}
	for i, h := range handles {
		if h != handles[0] {
			t.Fatalf("caller %d got a different handle", i)
		}
	}
}

func TestRegistry_FailureNotCached(t *testing.T) {
	b := &countingBuilder{}
	b.fail.Store(true)
	r := NewRegistry(testStyles(t), b.build)
	ctx := context.Background()

	_, err := r.Get(ctx, "Plain", ProfileText2Img)
	var mle *ModelLoadError
	if !errors.As(err, &mle) {
		t.Fatalf("Get() error = %v, want *ModelLoadError", err)
	}
	if mle.Key != (Key{Style: "Plain", Profile: ProfileText2Img}) {
		t.Errorf("Key = %v", mle.Key)
	}
	if r.Len() != 0 {
		t.Errorf("failed build was cached")
	}

	b.fail.Store(false)
	if _, err := r.Get(ctx, "Plain", ProfileText2Img); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if got := b.calls.Load(); got != 2 {
		t.Errorf("builder called %d times, want 2", got)
	}
}

func TestRegistry_ValidationBeforeBuild(t *testing.T) {
	b := &countingBuilder{}
	r := NewRegistry(testStyles(t), b.build)
	ctx := context.Background()

	if _, err := r.Get(ctx, "Nope", ProfileText2Img); !errors.Is(err, styles.ErrUnknownStyle) {
		t.Errorf("unknown style error = %v", err)
	}
	for _, p := range []Profile{ProfileImg2Img, ProfileInpaint, ProfileStaged} {
		if _, err := r.Get(ctx, "Plain", p); !errors.Is(err, ErrUnsupportedProfile) {
			t.Errorf("Plain/%s error = %v, want ErrUnsupportedProfile", p, err)
		}
	}
	if b.calls.Load() != 0 {
		t.Errorf("builder called %d times for invalid requests", b.calls.Load())
	}
}

func TestRegistry_LRUEviction(t *testing.T) {
	b := &countingBuilder{}
	r := NewRegistry(testStyles(t), b.build, WithMaxEntries(2))
	ctx := context.Background()

	mustGet := func(style string, p Profile) {
		t.Helper()
		if _, err := r.Get(ctx, style, p); err != nil {
			t.Fatal(err)
		}
	}
	mustGet("Full", ProfileText2Img)
	mustGet("Full", ProfileImg2Img)
	mustGet("Full", ProfileText2Img) // refresh
	mustGet("Full", ProfileStaged)   // evicts img2img

	want := []Key{{"Full", ProfileText2Img}, {"Full", ProfileStaged}}
	if diff := cmp.Diff(want, r.Keys()); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
	if r.Evictions() != 1 {
		t.Errorf("Evictions() = %d, want 1", r.Evictions())
	}

	mustGet("Full", ProfileImg2Img)
	if got := b.calls.Load(); got != 4 {
		t.Errorf("builder called %d times, want 4 after rebuilding evicted entry", got)
	}
}

func TestRegistry_CancelledCallerDoesNotPoisonBuild(t *testing.T) {
	b := &countingBuilder{delay: 20 * time.Millisecond}
	r := NewRegistry(testStyles(t), b.build)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Get(ctx, "Plain", ProfileText2Img); err != nil {
		t.Fatalf("Get() with cancelled ctx: %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestProfileString(t *testing.T) {
	for p, name := range profileNames {
		if got := p.String(); got != name {
			t.Errorf("%d.String() = %q, want %q", int(p), got, name)
		}
	}
	if Profile(99).String() != "Profile(99)" {
		t.Errorf("String() = %q", Profile(99).String())
	}
}
