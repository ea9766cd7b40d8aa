package config

import (
	"reflect"
	"sort"
	"strings"

	logx "idlesched/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) the IDs of handlers that were added, removed or changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	o, n := oldCfg.Scheduler, newCfg.Scheduler
	if o.Enabled != n.Enabled ||
		strings.TrimSpace(o.Step) != strings.TrimSpace(n.Step) ||
		strings.TrimSpace(o.Timezone) != strings.TrimSpace(n.Timezone) ||
		o.QueueSize != n.QueueSize || o.HistorySize != n.HistorySize {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", n.Enabled),
			logx.String("scheduler.step", strings.TrimSpace(n.Step)),
			logx.String("scheduler.timezone", strings.TrimSpace(n.Timezone)),
		)
	}

	if !strings.EqualFold(strings.TrimSpace(oldCfg.Idle.Source), strings.TrimSpace(newCfg.Idle.Source)) ||
		strings.TrimSpace(oldCfg.Idle.StaticIdle) != strings.TrimSpace(newCfg.Idle.StaticIdle) {
		changed = append(changed, "idle")
		attrs = append(attrs,
			logx.String("idle.source", strings.TrimSpace(newCfg.Idle.Source)),
		)
	}

	// Nil storage means disabled.
	oldS, newS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newS.BusyTimeout)),
			logx.Int("storage.retain", newS.Retain),
		)
	}

	// Debug server (never log token)
	od, nd := oldCfg.Debug, newCfg.Debug
	od.Token, nd.Token = tokenMarker(od.Token), tokenMarker(nd.Token)
	if od != nd {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nd.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nd.Addr)),
			logx.Bool("debug.token_set", nd.Token != ""),
			logx.Bool("debug.allow_insecure", nd.AllowInsecure),
		)
	}

	handlers := diffHandlers(oldCfg.Handlers, newCfg.Handlers)
	if len(handlers) > 0 || !sameOrder(oldCfg.Handlers, newCfg.Handlers) {
		changed = append(changed, "handlers")
		attrs = append(attrs,
			logx.Int("handlers.changed_count", len(handlers)),
			logx.Int("handlers.enabled_count", countEnabled(newCfg.Handlers)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, handlers
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

// tokenMarker keeps only whether a token is set.
func tokenMarker(tok string) string {
	if strings.TrimSpace(tok) == "" {
		return ""
	}
	return "set"
}

func countEnabled(hs []HandlerConfig) int {
	n := 0
	for _, h := range hs {
		if h.IsEnabled() {
			n++
		}
	}
	return n
}

func diffHandlers(oldHs, newHs []HandlerConfig) []string {
	oldM := make(map[string]HandlerConfig, len(oldHs))
	for _, h := range oldHs {
		oldM[h.ID] = h
	}
	newM := make(map[string]HandlerConfig, len(newHs))
	for _, h := range newHs {
		newM[h.ID] = h
	}

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		o, inOld := oldM[id]
		n, inNew := newM[id]
		if inOld != inNew || o.IsEnabled() != n.IsEnabled() || hashHandler(o) != hashHandler(n) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// sameOrder reports whether both lists declare the same IDs in the same
// order; order decides tie-breaking between handlers due together.
func sameOrder(a, b []HandlerConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

func hashHandler(h HandlerConfig) uint64 {
	h.Enabled = nil
	return hashConfig(&Config{Handlers: []HandlerConfig{h}})
}
