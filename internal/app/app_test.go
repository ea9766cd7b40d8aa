package app

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"idlesched/internal/clock/clocktest"
	"idlesched/internal/config"
	"idlesched/internal/eventbus"
	"idlesched/internal/task/scheduler"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func handlerIDs(s scheduler.Snapshot) []string {
	ids := make([]string, 0, len(s.Handlers))
	for _, h := range s.Handlers {
		ids = append(ids, h.ID)
	}
	return ids
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAppRunsAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "idlesched.yaml")
	writeConfig(t, path, `
logging: {level: error}
scheduler: {enabled: true, step: 1s, timezone: UTC}
idle: {source: static, static_idle: 0s}
storage: {driver: file, path: `+filepath.Join(dir, "journal")+`}
handlers:
  - id: tick
    time: t
    action: {type: log, message: tick}
  - id: sleeper
    time: never
    idle: 5
    enabled: false
`)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	fake := clocktest.New(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	a, err := New(ctx, path, WithClock(fake))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = a.Stop(context.Background(), StopAppStop) }()

	snap := a.Scheduler().Snapshot()
	if got := handlerIDs(snap); !reflect.DeepEqual(got, []string{"tick"}) || snap.Timers != 1 {
		t.Fatalf("handlers = %v timers = %d", got, snap.Timers)
	}

	fake.Advance(time.Second)
	waitFor(t, "journaled run", func() bool {
		runs, err := a.Store().RecentRuns(ctx, "tick", 10)
		return err == nil && len(runs) == 1 && runs[0].Trigger == string(scheduler.TriggerPeriodic)
	})

	// A handler that fails to parse is rejected and the old set stays.
	writeConfig(t, path, `
logging: {level: error}
scheduler: {enabled: true, step: 1s, timezone: UTC}
idle: {source: static}
storage: {driver: file, path: `+filepath.Join(dir, "journal")+`}
handlers:
  - id: broken
    time: "25:00"
`)
	if err := a.Reload(ctx); err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("Reload invalid err = %v", err)
	}
	if got := handlerIDs(a.Scheduler().Snapshot()); !reflect.DeepEqual(got, []string{"tick"}) {
		t.Fatalf("handlers after rejected reload = %v", got)
	}

	writeConfig(t, path, `
logging: {level: error}
scheduler: {enabled: true, step: 2s, timezone: UTC}
idle: {source: static}
storage: {driver: file, path: `+filepath.Join(dir, "journal")+`}
handlers:
  - id: nightly
    time: "03:00"
  - id: tick
    time: 3
`)
	if err := a.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	waitFor(t, "reloaded handlers", func() bool {
		s := a.Scheduler().Snapshot()
		return reflect.DeepEqual(handlerIDs(s), []string{"nightly", "tick"}) && s.Step == 2*time.Second
	})
}

func TestNewRejectsBadHandlers(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "c.json")
	writeConfig(t, path, `{"handlers":[{"id":"a","time":"0"},{"id":"b","time":"t","idle":"-1"}]}`)
	_, err := New(context.Background(), path)
	if err == nil {
		t.Fatal("want error")
	}
	for _, want := range []string{`"a"`, `"b"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("err %q does not mention %s", err, want)
		}
	}
}

func TestParseHandlersSkipsDisabled(t *testing.T) {
	t.Parallel()

	off := false
	hs, err := ParseHandlers(&config.Config{Handlers: []config.HandlerConfig{
		{ID: "a", Time: "t", Idle: "2"},
		{ID: "b", Time: "bogus", Enabled: &off},
		{ID: "c", Time: "07:15"},
	}})
	if err != nil {
		t.Fatalf("ParseHandlers: %v", err)
	}
	if len(hs) != 2 || hs[0].ID != "a" || hs[1].ID != "c" {
		t.Fatalf("handlers = %+v", hs)
	}
	if hs[0].Idle.Kind() != scheduler.IdleAfterSteps || hs[1].Time.Kind() != scheduler.TimeAtClock {
		t.Fatalf("kinds = %v %v", hs[0].Idle.Kind(), hs[1].Time.Kind())
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	if _, on, err := mapStorageConfig(&config.Config{}); on || err != nil {
		t.Fatalf("nil storage: on=%v err=%v", on, err)
	}
	sc, on, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: " SQLite ", Path: "x.db"}})
	if err != nil || !on || sc.Driver != "sqlite" || sc.BusyTimeout != defaultBusyTimeout {
		t.Fatalf("sqlite: %+v on=%v err=%v", sc, on, err)
	}
}

func TestReloadWithoutHandlerChangeKeepsTimers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "idlesched.yaml")
	body := func(level string) string {
		return `
logging: {level: ` + level + `}
scheduler: {enabled: true, step: 1s, timezone: UTC}
idle: {source: static, static_idle: 0s}
handlers:
  - id: tick
    time: 4
    action: {type: log, message: tick}
`
	}
	writeConfig(t, path, body("error"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clocktest.New(t0)
	a, err := New(ctx, path, WithClock(fake))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = a.Stop(context.Background(), StopAppStop) }()

	before := a.Scheduler().Snapshot().Handlers
	if len(before) != 1 || !before[0].Due.Equal(t0.Add(4*time.Second)) {
		t.Fatalf("handlers = %+v", before)
	}
	fake.Advance(2 * time.Second)

	events, unsub := a.bus.Subscribe(64)
	defer unsub()
	writeConfig(t, path, body("warn"))
	if err := a.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case e := <-events:
			switch e.Type {
			case eventbus.RegistryReconciled:
				t.Fatal("logging-only reload rebuilt the timers")
			case eventbus.ConfigReloaded:
				done = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for config.reloaded")
		}
	}

	after := a.Scheduler().Snapshot().Handlers
	if len(after) != 1 || !after[0].Due.Equal(before[0].Due) || after[0].Gen != before[0].Gen {
		t.Fatalf("timer re-armed: before %+v after %+v", before[0], after)
	}
}

func TestNewReleasesJournalOnError(t *testing.T) {
	fds, err := os.ReadDir("/proc/self/fd")
	if err != nil || len(fds) == 0 {
		t.Skip("no /proc/self/fd")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "idlesched.yaml")
	journal := filepath.Join(dir, "journal")
	writeConfig(t, path, `
logging: {level: error, file: {enabled: true, path: `+filepath.Join(dir, "idlesched.log")+`}}
storage: {driver: file, path: `+journal+`}
handlers:
  - id: broken
    time: "25:00"
`)
	if _, err := New(context.Background(), path); err == nil {
		t.Fatal("want error")
	}

	fds, err = os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Fatal(err)
	}
	for _, fd := range fds {
		target, err := os.Readlink(filepath.Join("/proc/self/fd", fd.Name()))
		if err == nil && strings.HasPrefix(target, dir) {
			t.Fatalf("fd %s still open on %s", fd.Name(), target)
		}
	}
}
