package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestTracker(t *testing.T) {
	tr := NewTracker()
	if !tr.Begin() || !tr.Begin() {
		t.Fatal("Begin refused work on an open tracker")
	}
	if tr.Active() != 2 {
		t.Errorf("Active() = %d, want 2", tr.Active())
	}
	tr.Close()
	if tr.Begin() {
		t.Error("Begin accepted work after Close")
	}
	if err := tr.Wait(20 * time.Millisecond); !errors.Is(err, ErrWaitTimeout) {
		t.Errorf("Wait with work outstanding = %v, want ErrWaitTimeout", err)
	}
	tr.End()
	tr.End()
	if err := tr.Wait(time.Second); err != nil {
		t.Errorf("Wait after End = %v", err)
	}
}

func TestRegistry_OrderAndErrors(t *testing.T) {
	r := NewRegistry()
	var mu sync.Mutex
	var order []string
	add := func(name string, prio int, err error) {
		r.Register(name, prio, func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return err
		})
	}
	boom := errors.New("boom")
	add("log", 90, nil)
	add("http", 10, nil)
	add("db", 30, boom)
	add("cache", 30, nil)

	want := []string{"http", "db", "cache", "log"}
	if diff := cmp.Diff(want, r.Names()); diff != "" {
		t.Errorf("Names (-want +got):\n%s", diff)
	}
	errs := r.Run(context.Background())
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("run order (-want +got):\n%s", diff)
	}
	if len(errs) != 1 || !errors.Is(errs[0], boom) {
		t.Errorf("errs = %v", errs)
	}
	if errs := r.Run(context.Background()); errs != nil {
		t.Errorf("second Run = %v, want nil", errs)
	}
	add("late", 1, nil)
	if len(r.Names()) != 4 {
		t.Error("registration after Run was accepted")
	}
}

func TestManager_Shutdown(t *testing.T) {
	m := NewManager(context.Background(), nil, WithTimeout(2*time.Second))

	if !m.Tracker().Begin() {
		t.Fatal("Begin refused")
	}
	finished := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(finished)
		m.Tracker().End()
	}()

	var ranAfterWork bool
	m.Register("check", 10, func(context.Context) error {
		select {
		case <-finished:
			ranAfterWork = true
		default:
		}
		return nil
	})
	boom := errors.New("close failed")
	m.Register("db", 30, func(context.Context) error { return boom })

	err := m.Shutdown()
	if !errors.Is(err, boom) {
		t.Errorf("Shutdown() = %v, want it to wrap %v", err, boom)
	}
	if !ranAfterWork {
		t.Error("cleanup ran before in-flight work finished")
	}
	if m.Context().Err() == nil {
		t.Error("context not cancelled by Shutdown")
	}
	if m.Tracker().Begin() {
		t.Error("tracker accepts work after Shutdown")
	}
	if err := m.Shutdown(); err != nil {
		t.Errorf("second Shutdown() = %v", err)
	}
}

func TestManager_Trigger(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewManager(parent, nil)
	m.Trigger()
	select {
	case <-m.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("Trigger did not cancel the context")
	}
}
