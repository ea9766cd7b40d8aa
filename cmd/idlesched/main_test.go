package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"idlesched/internal/storage"
	logx "idlesched/pkg/logx"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idlesched.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
scheduler: {step: 1m, timezone: UTC}
handlers:
  - id: tick
    time: t
  - id: nightly
    time: "03:00"
  - id: sleeper
    time: never
    idle: 5
  - id: off
    time: t
    enabled: false
`)
	out, err := execute(t, "validate", "-c", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	for _, want := range []string{"3 handlers enabled", "tick\tperiodic", "nightly\tclock", "sleeper\tidle_wait"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "off") {
		t.Fatalf("disabled handler listed:\n%s", out)
	}
}

func TestValidateCommandRejects(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
handlers:
  - id: broken
    time: "24:00"
`)
	if _, err := execute(t, "validate", "-c", path); err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("validate err = %v", err)
	}
}

func TestNextCommand(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
scheduler: {step: 1m, timezone: UTC}
handlers:
  - id: tick
    time: t
  - id: nightly
    time: "03:00"
  - id: sleeper
    time: never
    idle: 5
`)
	out, err := execute(t, "next", "-c", path, "--count", "2", "--at", "2026-03-01 00:00:00")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	for _, want := range []string{
		"2026-03-01 00:01:00, 2026-03-01 00:02:00",
		"180",
		"2026-03-01 03:00:00, 2026-03-02 03:00:00",
		"after 5m0s idle",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHistoryCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	journal := filepath.Join(dir, "runs")
	store, err := storage.Open(storage.Config{Driver: "file", Path: journal}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, r := range []storage.RunRecord{
		{Handler: "tick", Trigger: "periodic", Started: start, DurationMS: 5},
		{Handler: "backup", Trigger: "idle", Started: start.Add(time.Minute), DurationMS: 1500, Error: "exit status 1"},
	} {
		if err := store.AppendRun(context.Background(), r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	_ = store.Close()

	path := writeConfig(t, "storage: {driver: file, path: "+journal+"}\n")
	out, err := execute(t, "history", "-c", path, "--handler", "backup")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "backup") || !strings.Contains(out, "exit status 1") || !strings.Contains(out, "1.5s") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if strings.Contains(out, "tick") {
		t.Fatalf("handler filter ignored:\n%s", out)
	}
}

func TestHistoryWithoutStorage(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "handlers: []\n")
	if _, err := execute(t, "history", "-c", path); err == nil || !strings.Contains(err.Error(), "storage is disabled") {
		t.Fatalf("history err = %v", err)
	}
}
