package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  enabled: true
  step: 30s
  timezone: UTC
idle:
  source: static
  static_idle: 10m
storage:
  driver: sqlite
  path: ./runs.db
handlers:
  - id: reconnect
    time: 5
    idle: 3
    action:
      type: exec
      command: nmcli
      args: [networking, "on"]
  - id: nightly
    time: "03:30"
    action:
      type: unit
      unit: backup
  - id: sweep
    time: never
    idle: t
    enabled: false
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("idlesched.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if step, _ := cfg.Scheduler.StepDuration(); step != 30*time.Second {
		t.Fatalf("step = %v", step)
	}
	if len(cfg.Handlers) != 3 {
		t.Fatalf("handlers = %d", len(cfg.Handlers))
	}
	h := cfg.Handlers[0]
	if h.Time != "5" || h.Idle != "3" || h.Action.Command != "nmcli" || !reflect.DeepEqual(h.Action.Args, []string{"networking", "on"}) {
		t.Fatalf("handler[0] = %+v", h)
	}
	if cfg.Handlers[1].Time != "03:30" || cfg.Handlers[1].Idle != "" {
		t.Fatalf("handler[1] = %+v", cfg.Handlers[1])
	}
	if cfg.Handlers[2].IsEnabled() || !cfg.Handlers[0].IsEnabled() {
		t.Fatal("enabled flags wrong")
	}
}

func TestDecodeJSONStrict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown top-level", `{"telegram":{}}`, "unknown field"},
		{"unknown handler field", `{"handlers":[{"id":"a","time":"t","every":1}]}`, "unknown field"},
		{"trailing data", `{}{}`, "trailing data"},
		{"bad step", `{"scheduler":{"step":"soon"}}`, "scheduler.step"},
		{"sub-second step", `{"scheduler":{"step":"500ms"}}`, "at least"},
		{"bad tz", `{"scheduler":{"timezone":"Mars/Olympus"}}`, "scheduler.timezone"},
		{"bad idle source", `{"idle":{"source":"webcam"}}`, "idle.source"},
		{"storage without path", `{"storage":{"driver":"file"}}`, "storage.path"},
		{"duplicate id", `{"handlers":[{"id":"a","time":"t"},{"id":"a","time":"t"}]}`, "already used"},
		{"missing id", `{"handlers":[{"time":"t"}]}`, "id: required"},
		{"exec without command", `{"handlers":[{"id":"a","time":"t","action":{"type":"exec"}}]}`, "action.command"},
		{"bool time", `{"handlers":[{"id":"a","time":true}]}`, "json"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode("c.json", []byte(tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestValidateCollectsAll(t *testing.T) {
	t.Parallel()

	err := Validate(&Config{
		Scheduler: SchedulerConfig{Step: "x"},
		Idle:      IdleConfig{Source: "nope"},
	})
	if err == nil || !strings.Contains(err.Error(), "scheduler.step") || !strings.Contains(err.Error(), "idle.source") {
		t.Fatalf("err = %v", err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	off := false
	oldCfg := &Config{
		Scheduler: SchedulerConfig{Enabled: true, Step: "1m"},
		Debug:     DebugConfig{Enabled: true, Token: "a"},
		Handlers: []HandlerConfig{
			{ID: "a", Time: "t"},
			{ID: "b", Time: "5"},
			{ID: "c", Time: "10"},
		},
	}
	newCfg := &Config{
		Scheduler: SchedulerConfig{Enabled: true, Step: "1m"},
		Debug:     DebugConfig{Enabled: true, Token: "rotated"},
		Handlers: []HandlerConfig{
			{ID: "a", Time: "t"},
			{ID: "b", Time: "6"},
			{ID: "c", Time: "10", Enabled: &off},
			{ID: "d", Time: "t"},
		},
	}
	sections, attrs, handlers := SummarizeConfigChange(oldCfg, newCfg)
	if !reflect.DeepEqual(sections, []string{"handlers"}) {
		t.Fatalf("sections = %v (token rotation must not show up)", sections)
	}
	if !reflect.DeepEqual(handlers, []string{"b", "c", "d"}) {
		t.Fatalf("handlers = %v", handlers)
	}
	if len(attrs) == 0 {
		t.Fatal("want attrs")
	}

	reordered := &Config{Scheduler: oldCfg.Scheduler, Debug: oldCfg.Debug, Handlers: []HandlerConfig{oldCfg.Handlers[2], oldCfg.Handlers[0], oldCfg.Handlers[1]}}
	sections, _, handlers = SummarizeConfigChange(oldCfg, reordered)
	if !reflect.DeepEqual(sections, []string{"handlers"}) || len(handlers) != 0 {
		t.Fatalf("reorder: sections = %v handlers = %v", sections, handlers)
	}

	sections, _, _ = SummarizeConfigChange(nil, &Config{Storage: &StorageConfig{Driver: "file", Path: "x"}})
	if !reflect.DeepEqual(sections, []string{"storage"}) {
		t.Fatalf("storage sections = %v", sections)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "idlesched.json")
	writeFile(t, path, `{"handlers":[{"id":"a","time":"t"}]}`)

	m := NewConfigManager(path)
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		for _, h := range cfg.Handlers {
			if h.ID == "forbidden" {
				return errors.New("forbidden handler")
			}
		}
		return nil
	})
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	if _, err := m.Reload(context.Background()); !errors.Is(err, ErrUnchanged) {
		t.Fatalf("Reload unchanged err = %v", err)
	}

	writeFile(t, path, `{"handlers":[{"id":"forbidden","time":"t"}]}`)
	if _, err := m.Reload(context.Background()); err == nil || !strings.Contains(err.Error(), "forbidden") {
		t.Fatalf("Reload rejected err = %v", err)
	}
	if got := m.Get().Handlers[0].ID; got != "a" {
		t.Fatalf("committed after rejection: %q", got)
	}

	writeFile(t, path, `{"handlers":[{"id":"b","time":"5"}]}`)
	if _, err := m.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	select {
	case cfg := <-sub:
		if cfg.Handlers[0].ID != "b" {
			t.Fatalf("published %+v", cfg.Handlers)
		}
	default:
		t.Fatal("nothing published")
	}
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()

	m := NewConfigManager("unused.json")
	sub := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-sub; got != second {
		t.Fatal("slow subscriber did not receive the newest config")
	}
}

func TestWatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "idlesched.yaml")
	writeFile(t, path, "handlers: []\n")

	m := NewConfigManager(path)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(4)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Keep rewriting until the watcher (which may still be starting) sees it.
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		writeFile(t, path, "handlers:\n  - id: w\n    time: t\n")
		select {
		case cfg := <-sub:
			if len(cfg.Handlers) != 1 || cfg.Handlers[0].ID != "w" {
				t.Fatalf("published %+v", cfg.Handlers)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch: %v", err)
			}
			return
		case <-ctx.Done():
			t.Fatal("watch never published")
		case <-tick.C:
		}
	}
}
