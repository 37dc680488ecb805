package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"sdstudio/logging"
	"sdstudio/styles"
)

// Resolver looks up style configurations. *styles.Registry implements it.
type Resolver interface {
	Resolve(style string) (styles.ModelConfig, error)
}

// Registry caches built pipelines by Key.
//
// Thread safety: Get may be called from any goroutine. Concurrent calls for
// the same Key share a single construction; calls for different Keys build
// in parallel. A failed construction is returned to every waiting caller and
// is not cached, so the next Get retries. With a positive entry limit the
// least recently used pipeline is dropped when the limit is exceeded; a run
// already holding the dropped Handle is unaffected.
type Registry struct {
	resolver   Resolver
	build      BuildFunc
	log        *logging.Logger
	maxEntries int

	mu      sync.Mutex
	entries *orderedmap.OrderedMap[Key, *Handle]
	group   singleflight.Group

	builds    atomic.Int64
	evictions atomic.Int64
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxEntries bounds the cache. Zero, the default, never evicts.
func WithMaxEntries(n int) Option {
	return func(r *Registry) {
		if n >= 0 {
			r.maxEntries = n
		}
	}
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry returns an empty cache that resolves styles with resolver and
// constructs pipelines with build.
func NewRegistry(resolver Resolver, build BuildFunc, opts ...Option) *Registry {
	r := &Registry{
		resolver: resolver,
		build:    build,
		log:      logging.NewNop(),
		entries:  orderedmap.New[Key, *Handle](),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the pipeline for style and profile, building it on first use.
//
// Errors: styles.ErrUnknownStyle when the style is not registered,
// ErrUnsupportedProfile when the style cannot serve profile, and
// *ModelLoadError when construction fails.
func (r *Registry) Get(ctx context.Context, style string, profile Profile) (*Handle, error) {
	cfg, err := r.resolver.Resolve(style)
	if err != nil {
		return nil, err
	}
	if !Supports(cfg, profile) {
		return nil, fmt.Errorf("%w: %s does not support %s", ErrUnsupportedProfile, style, profile)
	}

	key := Key{Style: cfg.StyleName, Profile: profile}
	if h, ok := r.lookup(key); ok {
		return h, nil
	}

	// The build outlives any single caller so that waiters are not failed by
	// the first caller's cancellation.
	buildCtx := context.WithoutCancel(ctx)
	v, err, shared := r.group.Do(key.String(), func() (interface{}, error) {
		if h, ok := r.lookup(key); ok {
			return h, nil
		}

		start := time.Now()
		h, err := r.build(buildCtx, cfg, profile)
		if err != nil {
			var mle *ModelLoadError
			if !errors.As(err, &mle) {
				err = &ModelLoadError{Key: key, Cause: err}
			}
			r.log.Warn("pipeline build failed", zap.String("key", key.String()), zap.Error(err))
			return nil, err
		}
		r.builds.Add(1)
		r.log.Info("pipeline built",
			zap.String("key", key.String()),
			zap.Bool("refiner", h.Staged()),
			zap.Duration("took", time.Since(start)))

		r.store(key, h)
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.log.Debug("pipeline construction shared", zap.String("key", key.String()))
	}
	return v.(*Handle), nil
}

func (r *Registry) lookup(key Key) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.entries.Get(key)
	if ok {
		_ = r.entries.MoveToBack(key)
	}
	return h, ok
}

func (r *Registry) store(key Key, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries.Set(key, h)
	for r.maxEntries > 0 && r.entries.Len() > r.maxEntries {
		oldest := r.entries.Oldest()
		r.entries.Delete(oldest.Key)
		r.evictions.Add(1)
		r.log.Info("pipeline evicted", zap.String("key", oldest.Key.String()))
	}
}

// Keys lists cached keys from least to most recently used.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]Key, 0, r.entries.Len())
	for p := r.entries.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.Len()
}

// Builds counts successful constructions since the registry was created.
func (r *Registry) Builds() int64 { return r.builds.Load() }

// Evictions counts entries dropped by the size limit.
func (r *Registry) Evictions() int64 { return r.evictions.Load() }
