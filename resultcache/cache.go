// Package resultcache stores encoded generation results by request
// fingerprint.
//
// Generation is deterministic, so a request that has already been served
// can be answered from the cache without touching a pipeline. Two backends
// exist: an in-process LRU and Redis for sharing between server instances.
package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sdstudio/compositor"
	"sdstudio/session"
)

var ErrCorruptEntry = errors.New("resultcache: corrupt entry")

// Cache is implemented by Memory and Redis. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, e *Entry) error
	Close() error
}

// Panel is one encoded image of a result.
type Panel struct {
	Label string `json:"label"`
	Data  []byte `json:"data"`
}

// Entry is a cached result.
type Entry struct {
	RunID    string            `json:"run_id"`
	Style    string            `json:"style"`
	Mode     session.Mode      `json:"mode"`
	Seed     int64             `json:"seed"`
	Steps    int               `json:"steps"`
	Format   compositor.Format `json:"format"`
	Panels   []Panel           `json:"panels"`
	StoredAt time.Time         `json:"stored_at"`
}

// Final is the last panel, the run's output image.
func (e *Entry) Final() (Panel, bool) {
	if e == nil || len(e.Panels) == 0 {
		return Panel{}, false
	}
	return e.Panels[len(e.Panels)-1], true
}

// DownloadName is the file name offered for the final panel.
func (e *Entry) DownloadName() string {
	return compositor.DownloadNameFor(e.Style, string(e.Mode), e.Format)
}

// FromResult encodes every panel of res in format f.
func FromResult(res *session.Result, f compositor.Format) (*Entry, error) {
	e := &Entry{
		RunID:    res.RunID,
		Style:    res.Style,
		Mode:     res.Mode,
		Seed:     res.Seed,
		Steps:    res.Steps,
		Format:   f,
		Panels:   make([]Panel, 0, len(res.Images)),
		StoredAt: time.Now().UTC(),
	}
	for _, li := range res.Images {
		data, err := compositor.Encode(li.Image, f)
		if err != nil {
			return nil, fmt.Errorf("resultcache: encode %s: %w", li.Label, err)
		}
		e.Panels = append(e.Panels, Panel{Label: li.Label, Data: data})
	}
	return e, nil
}

func marshal(e *Entry) ([]byte, error) {
	return json.Marshal(e)
}

func unmarshal(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	return &e, nil
}

// Nop is a Cache that never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) (*Entry, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, *Entry) error         { return nil }
func (Nop) Close() error                                      { return nil }
