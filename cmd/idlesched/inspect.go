package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"idlesched/internal/actions"
	"idlesched/internal/app"
	"idlesched/internal/config"
	"idlesched/internal/storage"
	"idlesched/internal/task/scheduler"
	logx "idlesched/pkg/logx"
)

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	return config.NewConfigManager(cfgPath).Parse()
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and every handler without running anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			entries, err := app.BuildEntries(cfg, actions.NewBuilder(logx.Nop()))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%d handlers enabled)\n", len(entries))
			for _, e := range entries {
				fmt.Fprintf(out, "  %s\t%s\n", e.ID, scheduler.ModeOf(e.Time, e.Idle))
			}
			return nil
		},
	}
}

func nextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show each handler's mode and upcoming nominal fire times",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			hs, err := app.ParseHandlers(cfg)
			if err != nil {
				return err
			}
			step, err := cfg.Scheduler.StepDuration()
			if err != nil {
				return err
			}
			loc, err := scheduler.LoadLocation(strings.TrimSpace(cfg.Scheduler.Timezone))
			if err != nil {
				return err
			}
			count, _ := cmd.Flags().GetInt("count")
			now := time.Now().In(loc)
			if at, _ := cmd.Flags().GetString("at"); at != "" {
				now, err = time.ParseInLocation(time.DateTime, at, loc)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
			}
			printNext(cmd.OutOrStdout(), hs, step, loc, now, count)
			return nil
		},
	}
	cmd.Flags().Int("count", 3, "fire times to preview per handler")
	cmd.Flags().String("at", "", `evaluate as of this local time ("2006-01-02 15:04:05")`)
	return cmd
}

func printNext(w io.Writer, hs []app.Handler, step time.Duration, loc *time.Location, now time.Time, count int) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintf(tw, "step %s, now %s\n", step, now.Format(time.DateTime+" MST"))
	fmt.Fprintln(tw, "HANDLER\tTIME\tIDLE\tMODE\tSTEPS\tNEXT")
	for _, h := range hs {
		mode := scheduler.ModeOf(h.Time, h.Idle)
		steps := "-"
		if h.Time.Kind() == scheduler.TimeAtClock {
			hh, mm := h.Time.Clock()
			steps = fmt.Sprint(scheduler.StepsUntil(hh, mm, now, step))
		}
		var next []string
		for _, t := range scheduler.NextRuns(h.Time, step, loc, now, count) {
			next = append(next, t.Format(time.DateTime))
		}
		if len(next) == 0 {
			switch mode {
			case scheduler.KindIdleWait:
				next = []string{fmt.Sprintf("after %s idle", time.Duration(h.Idle.Steps())*step)}
			default:
				next = []string{"never"}
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", h.ID, h.Time, h.Idle, mode, steps, strings.Join(next, ", "))
	}
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent runs from the run journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Storage == nil {
				return fmt.Errorf("storage is disabled in %s", cmd.Flag("config").Value)
			}
			busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
			if err != nil {
				return err
			}
			store, err := storage.Open(storage.Config{
				Driver:      cfg.Storage.Driver,
				Path:        cfg.Storage.Path,
				BusyTimeout: busy,
				Retain:      cfg.Storage.Retain,
			}, logx.Nop())
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("storage is disabled in %s", cmd.Flag("config").Value)
			}
			defer store.Close()

			handler, _ := cmd.Flags().GetString("handler")
			limit, _ := cmd.Flags().GetInt("limit")
			runs, err := store.RecentRuns(context.Background(), handler, limit)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().String("handler", "", "only runs of this handler")
	cmd.Flags().Int("limit", 20, "maximum runs to print")
	return cmd
}

func printRuns(w io.Writer, runs []storage.RunRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintln(tw, "STARTED\tHANDLER\tTRIGGER\tDURATION\tRESULT")
	for _, r := range runs {
		result := "ok"
		if r.Error != "" {
			result = r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.Started.Local().Format(time.DateTime), r.Handler, r.Trigger,
			time.Duration(r.DurationMS)*time.Millisecond, result)
	}
}
