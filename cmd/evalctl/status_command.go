package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"speecheval/internal/daemonctl"
	"speecheval/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon state, job counts, and dependency checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			snap, err := daemonctl.BuildStatusSnapshot(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, snap)
			}
			renderStatus(cmd, snap)
			if failed := preflight.Failed(snap.Checks); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderStatus(cmd *cobra.Command, snap *daemonctl.Snapshot) {
	out := cmd.OutOrStdout()
	daemonState := "stopped"
	if snap.Running {
		daemonState = fmt.Sprintf("running (pid %d)", snap.PID)
	}
	rows := [][]string{{"Daemon", daemonState}}
	if h := snap.Health; h != nil {
		rows = append(rows, []string{"Health", h.Status})
		if h.Workflow != nil {
			rows = append(rows, []string{"Workers", strconv.Itoa(h.Workflow.Workers)})
			for _, stage := range h.Workflow.StageHealth {
				state := "ready"
				if !stage.Ready {
					state = "not ready: " + stage.Detail
				}
				rows = append(rows, []string{"Stage " + stage.Name, state})
			}
			if h.Workflow.LastError != "" {
				rows = append(rows, []string{"Last error", truncate(h.Workflow.LastError, 60)})
			}
		}
		if h.Bus != nil {
			rows = append(rows, []string{"NATS", yesNo(h.Bus.Connected)})
		}
	}
	fmt.Fprint(out, renderTable([]string{"Component", "State"}, rows, nil))

	if len(snap.QueueStats) > 0 {
		fmt.Fprint(out, renderTable([]string{"Status", "Jobs"}, buildStatsRows(snap.QueueStats),
			[]columnAlignment{alignLeft, alignRight}))
	}

	checks := append([]preflight.Result(nil), snap.Checks...)
	sort.SliceStable(checks, func(i, j int) bool { return checks[i].Passed && !checks[j].Passed })
	checkRows := make([][]string, 0, len(checks))
	for _, c := range checks {
		state := "ok"
		if !c.Passed {
			state = "FAIL"
		}
		checkRows = append(checkRows, []string{c.Name, state, c.Detail})
	}
	fmt.Fprint(out, renderTable([]string{"Check", "Result", "Detail"}, checkRows, nil))
}
