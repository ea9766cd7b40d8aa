package app

import (
	"strings"
	"time"

	"idlesched/internal/config"
	"idlesched/internal/idle"
	"idlesched/internal/observability/debugsrv"
	"idlesched/internal/storage"
	"idlesched/internal/task/engine"
	"idlesched/internal/task/scheduler"
	logx "idlesched/pkg/logx"
)

const defaultBusyTimeout = time.Second

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	step, err := cfg.Scheduler.StepDuration()
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Step: step, Timezone: strings.TrimSpace(cfg.Scheduler.Timezone)}, nil
}

func mapEngineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		QueueSize:   cfg.Scheduler.QueueSize,
		HistorySize: cfg.Scheduler.HistorySize,
	}
}

func mapIdleConfig(cfg *config.Config) (idle.Config, error) {
	static, err := config.ParseDurationField("idle.static_idle", cfg.Idle.StaticIdle)
	if err != nil {
		return idle.Config{}, err
	}
	return idle.Config{Source: cfg.Idle.Source, Static: static}, nil
}

// mapStorageConfig returns enabled=false when the journal is off.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		Retain:      sc.Retain,
	}, true, nil
}

func mapDebugConfig(cfg *config.Config) (debugsrv.Config, error) {
	d := cfg.Debug
	read, err := config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 10*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	// 0 keeps /profile usable.
	write, err := config.ParseDurationField("debug.write_timeout", d.WriteTimeout)
	if err != nil {
		return debugsrv.Config{}, err
	}
	idleTimeout, err := config.ParseDurationOrDefault("debug.idle_timeout", d.IdleTimeout, 60*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	return debugsrv.Config{
		Enabled:              d.Enabled,
		Addr:                 strings.TrimSpace(d.Addr),
		PprofPrefix:          d.PprofPrefix,
		Token:                strings.TrimSpace(d.Token),
		AllowInsecure:        d.AllowInsecure,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idleTimeout,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
		MemProfileRate:       d.MemProfileRate,
	}, nil
}
