package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"idlesched/internal/eventbus"
	logx "idlesched/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) (*Service, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func waitFor(t *testing.T, ch <-chan eventbus.Event, typ string, n int) []eventbus.Event {
	t.Helper()
	var out []eventbus.Event
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				out = append(out, ev)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %d %s events (got %d)", n, typ, len(out))
		}
	}
	return out
}

func TestEnqueueBeforeStart(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), nil)
	err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()

	s, _ := startEngine(t, Config{})
	if err := s.Enqueue(Task{Name: "x"}); !errors.Is(err, ErrNoRun) {
		t.Fatalf("nil run: err = %v", err)
	}
	if err := s.Enqueue(Task{Name: "  ", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatalf("blank name accepted")
	}
}

func TestBatchRunsInDueThenSeqOrder(t *testing.T) {
	t.Parallel()

	s, bus := startEngine(t, Config{})
	ch, unsub := bus.Subscribe(64)
	defer unsub()

	// Block the worker so the next tasks queue up as one batch.
	release := make(chan struct{})
	if err := s.Enqueue(Task{Name: "gate", Run: func(context.Context) error { <-release; return nil }}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ch, eventbus.TaskStarted, 1)

	var mu sync.Mutex
	var order []string
	rec := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	due := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tasks := []Task{
		{Name: "late", Due: due.Add(time.Second), Seq: 1, Run: rec("late")},
		{Name: "b", Due: due, Seq: 3, Run: rec("b")},
		{Name: "a", Due: due, Seq: 2, Run: rec("a")},
	}
	for _, tk := range tasks {
		if err := s.Enqueue(tk); err != nil {
			t.Fatal(err)
		}
	}
	close(release)
	waitFor(t, ch, eventbus.TaskFinished, 4)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"a", "b", "late"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestPanicAndErrorAreIsolated(t *testing.T) {
	t.Parallel()

	s, bus := startEngine(t, Config{})
	ch, unsub := bus.Subscribe(64)
	defer unsub()

	_ = s.Enqueue(Task{Name: "boom", Run: func(context.Context) error { panic("boom") }})
	_ = s.Enqueue(Task{Name: "bad", Run: func(context.Context) error { return errors.New("bad") }})
	ran := make(chan struct{})
	_ = s.Enqueue(Task{Name: "ok", Run: func(context.Context) error { close(ran); return nil }})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("task after failures never ran")
	}
	failed := waitFor(t, ch, eventbus.TaskFailed, 2)
	if got := failed[0].Data.(TaskEvent).Error; got != "panic: boom" {
		t.Fatalf("panic error = %q", got)
	}

	waitFor(t, ch, eventbus.TaskFinished, 1)
	// History is appended right after the finished event.
	var snap Snapshot
	for i := 0; i < 200; i++ {
		if snap = s.Snapshot(); len(snap.History) == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if snap.Executed != 3 || snap.Failed != 2 {
		t.Fatalf("executed=%d failed=%d", snap.Executed, snap.Failed)
	}
	if len(snap.History) != 3 {
		t.Fatalf("history len = %d", len(snap.History))
	}
}

func TestQueueFullDrops(t *testing.T) {
	t.Parallel()

	s, bus := startEngine(t, Config{QueueSize: 1})
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	release := make(chan struct{})
	defer close(release)
	_ = s.Enqueue(Task{Name: "gate", Run: func(context.Context) error { <-release; return nil }})
	waitFor(t, ch, eventbus.TaskStarted, 1)

	noop := func(context.Context) error { return nil }
	if err := s.Enqueue(Task{Name: "fits", Run: noop}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := s.Enqueue(Task{Name: "spills", Run: noop}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if got := s.Snapshot().Dropped; got != 1 {
		t.Fatalf("dropped = %d", got)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), nil)
	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)
	if !s.Running() {
		t.Fatalf("not running after Start")
	}
	s.Stop(ctx)
	s.Stop(ctx)
	if s.Running() {
		t.Fatalf("still running after Stop")
	}
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v", err)
	}
	s.Start(ctx)
	defer s.Stop(ctx)
	if !s.Running() {
		t.Fatalf("restart failed")
	}
}
