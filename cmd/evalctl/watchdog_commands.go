package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"speecheval/internal/config"
	"speecheval/internal/logging"
	"speecheval/internal/queue"
	"speecheval/internal/workflow"
)

func newWatchdogCommand(ctx *commandContext) *cobra.Command {
	watchdogCmd := &cobra.Command{
		Use:   "watchdog",
		Short: "Stale job recovery",
	}
	watchdogCmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Run one recovery pass over jobs with expired heartbeats",
		Long: "Requeues or fails jobs whose worker stopped heartbeating. A running daemon\n" +
			"sweeps on its own; this is for recovery while the daemon is down.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				report, err := workflow.NewWatchdog(cfg, store, logging.NewNop()).Sweep(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Result", "Jobs"},
					[][]string{
						{"stale", fmt.Sprint(report.Stale)},
						{"requeued", fmt.Sprint(report.Requeued)},
						{"switched provider", fmt.Sprint(report.Switched)},
						{"failed", fmt.Sprint(report.Failed)},
						{"skipped", fmt.Sprint(report.Skipped)},
					},
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	})
	return watchdogCmd
}
