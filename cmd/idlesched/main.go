// Package main is the entry point for the idlesched daemon and its tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"idlesched/internal/app"
)

// Set by ldflags.
var (
	version = "dev"
	commit  = "none"
)

const stopTimeout = 10 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "idlesched",
		Short:         "Run handlers periodically, at a time of day, or once the user goes idle",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "./idlesched.yaml", "path to config (json or yaml)")
	root.AddCommand(runCmd(), validateCmd(), nextCmd(), historyCmd(), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "idlesched %s (commit: %s)\n", version, commit)
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until SIGINT/SIGTERM; SIGHUP reloads the config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")

			sigs := make(chan os.Signal, 4)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(sigs)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			a, err := app.New(ctx, cfgPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				return err
			}

			reason := waitForStop(ctx, a, sigs)

			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()
			_ = a.Stop(stopCtx, reason)

			if reason == app.StopFatalError {
				if err := a.Err(); err != nil {
					return err
				}
				return errors.New("stopped after fatal error")
			}
			return nil
		},
	}
}

func waitForStop(ctx context.Context, a *app.App, sigs <-chan os.Signal) app.StopReason {
	for {
		select {
		case <-a.Done():
			return app.StopFatalError
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				if err := a.Reload(ctx); err != nil {
					fmt.Fprintln(os.Stderr, "reload failed:", err)
				}
			case syscall.SIGTERM:
				return app.StopSIGTERM
			default:
				return app.StopSIGINT
			}
		}
	}
}
