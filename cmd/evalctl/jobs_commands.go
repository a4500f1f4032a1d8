package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"speecheval/internal/api"
	"speecheval/internal/bus"
	"speecheval/internal/queue"
	"speecheval/internal/queueaccess"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Submit, inspect, and manage evaluation jobs",
	}

	jobsCmd.AddCommand(newJobsSubmitCommand(ctx))
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))
	jobsCmd.AddCommand(newJobsWatchCommand(ctx))

	return jobsCmd
}

func newJobsSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		req      api.CreateJobRequest
		segments []string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a recording set for transcription and scoring",
		Example: `  evalctl jobs submit --test-id T-100 --segment p1q1=/data/a.wav --segment p2=/data/b.wav:95.5
  evalctl jobs submit --test-id T-101 --owner cand-7 --provider backup --segment p3q1=s3://bucket/c.wav`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, durations, err := parseSegments(segments)
			if err != nil {
				return err
			}
			req.FilePaths = paths
			req.Durations = durations
			return ctx.withAccess(cmd.Context(), func(session queueaccess.Session) error {
				id, err := session.Access.Submit(cmd.Context(), req)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.CreateJobResponse{JobID: id, Status: string(queue.StatusPending)})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s\n", id)
				if !session.Remote {
					fmt.Fprintln(cmd.OutOrStdout(), "Daemon not running; the job will start when it does")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&req.TestID, "test-id", "", "Test identifier the recordings belong to")
	cmd.Flags().StringVar(&req.ID, "id", "", "Job ID (generated when empty)")
	cmd.Flags().StringVar(&req.Owner, "owner", "", "Owner allowed to cancel the job")
	cmd.Flags().StringVar(&req.Provider, "provider", "", "ASR provider pair (default: primary)")
	cmd.Flags().StringVar(&req.Topic, "topic", "", "Topic shown to the scoring model")
	cmd.Flags().StringVar(&req.Difficulty, "difficulty", "", "Difficulty shown to the scoring model")
	cmd.Flags().StringVar(&req.EvaluationMode, "mode", "", "Evaluation mode")
	cmd.Flags().BoolVar(&req.FluencyFlag, "fluency", false, "Ask the scoring model to weigh fluency markers")
	cmd.Flags().StringArrayVarP(&segments, "segment", "s", nil, "Segment as key=path or key=path:seconds (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	_ = cmd.MarkFlagRequired("test-id")
	_ = cmd.MarkFlagRequired("segment")
	return cmd
}

// parseSegments decodes key=path[:seconds] arguments. A trailing :seconds
// is only taken when it parses as a number, so URLs keep their colons.
func parseSegments(values []string) (map[string]string, map[string]float64, error) {
	paths := make(map[string]string, len(values))
	durations := make(map[string]float64)
	for _, value := range values {
		key, path, ok := strings.Cut(value, "=")
		key = strings.TrimSpace(key)
		path = strings.TrimSpace(path)
		if !ok || key == "" || path == "" {
			return nil, nil, fmt.Errorf("segment %q must be key=path", value)
		}
		if idx := strings.LastIndex(path, ":"); idx > 0 {
			if seconds, err := strconv.ParseFloat(path[idx+1:], 64); err == nil {
				durations[key] = seconds
				path = path[:idx]
			}
		}
		if _, dup := paths[key]; dup {
			return nil, nil, fmt.Errorf("segment %q given twice", key)
		}
		paths[key] = path
	}
	if len(durations) == 0 {
		durations = nil
	}
	return paths, durations, nil
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses []string
		stats    bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd.Context(), func(session queueaccess.Session) error {
				out := cmd.OutOrStdout()
				if stats {
					counts, err := session.Access.Stats(cmd.Context())
					if err != nil {
						return err
					}
					if asJSON {
						return writeJSON(cmd, counts)
					}
					fmt.Fprint(out, renderTable([]string{"Status", "Count"}, buildStatsRows(counts),
						[]columnAlignment{alignLeft, alignRight}))
					return nil
				}

				jobs, err := session.Access.List(cmd.Context(), statuses)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.JobListResponse{Jobs: jobs})
				}
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "Test", "Stage", "Status", "Retries", "Updated", "Error"},
					buildJobRows(jobs),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable or comma separated)")
	cmd.Flags().BoolVar(&stats, "stats", false, "Show counts per status instead of jobs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func buildStatsRows(counts map[string]int) [][]string {
	rows := make([][]string, 0, len(counts))
	seen := make(map[string]struct{}, len(counts))
	for _, status := range queue.AllStatuses() {
		name := string(status)
		seen[name] = struct{}{}
		rows = append(rows, []string{name, strconv.Itoa(counts[name])})
	}
	extra := make([]string, 0)
	for name := range counts {
		if _, ok := seen[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		rows = append(rows, []string{name, strconv.Itoa(counts[name])})
	}
	return rows
}

func buildJobRows(jobs []api.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			job.TestID,
			job.Stage,
			job.Status,
			fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries),
			formatWhen(job.UpdatedAt),
			truncate(job.LastError, 48),
		})
	}
	return rows
}

func formatWhen(value string) string {
	t := api.ParseTime(value)
	if t.IsZero() {
		return value
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var (
		withResult bool
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job and, optionally, its evaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd.Context(), func(session queueaccess.Session) error {
				job, err := session.Access.Describe(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %s not found", args[0])
				}
				var result *api.Result
				if withResult {
					if result, err = session.Access.Result(cmd.Context(), job.ID); err != nil {
						return err
					}
				}
				if asJSON {
					return writeJSON(cmd, struct {
						Job    api.Job     `json:"job"`
						Result *api.Result `json:"result,omitempty"`
					}{*job, result})
				}
				renderJob(cmd, job, result, withResult)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&withResult, "result", false, "Include the stored evaluation")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderJob(cmd *cobra.Command, job *api.Job, result *api.Result, wantResult bool) {
	rows := [][]string{
		{"ID", job.ID},
		{"Test", job.TestID},
		{"Owner", job.Owner},
		{"Stage", job.Stage},
		{"Status", job.Status},
		{"Provider", job.Provider},
		{"Segments", strings.Join(job.Segments, ", ")},
		{"Retries", fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries)},
		{"Transcript", yesNo(job.HasTranscript)},
		{"Heartbeat", formatWhen(job.HeartbeatAt)},
		{"Created", formatWhen(job.CreatedAt)},
		{"Updated", formatWhen(job.UpdatedAt)},
	}
	if job.LastError != "" {
		rows = append(rows, []string{"Last error", job.LastError})
	}
	if job.ResultID != "" {
		rows = append(rows, []string{"Result", job.ResultID})
	}
	out := cmd.OutOrStdout()
	fmt.Fprint(out, renderTable([]string{"Field", "Value"}, rows, nil))
	if !wantResult {
		return
	}
	if result == nil {
		fmt.Fprintln(out, "No evaluation stored yet")
		return
	}
	fmt.Fprintf(out, "Overall band %.1f (model %s)\n", result.OverallBand, result.Model)
	fmt.Fprintln(out, string(result.Payload))
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <job-id>...",
		Short: "Cancel in-flight jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd.Context(), func(session queueaccess.Session) error {
				res, err := session.Access.Cancel(cmd.Context(), reason, args)
				if err != nil {
					return err
				}
				printActionResult(cmd, "Cancelled", res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the job")
	return cmd
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Retry failed jobs (all failed jobs when no IDs are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd.Context(), func(session queueaccess.Session) error {
				res, err := session.Access.Retry(cmd.Context(), args)
				if err != nil {
					return err
				}
				printActionResult(cmd, "Retried", res)
				return nil
			})
		},
	}
}

func printActionResult(cmd *cobra.Command, verb string, res api.JobActionsResult) {
	out := cmd.OutOrStdout()
	for _, job := range res.Jobs {
		fmt.Fprintf(out, "%s: %s\n", job.ID, job.Outcome)
	}
	fmt.Fprintf(out, "%s %d job(s)\n", verb, res.UpdatedCount)
}

func newJobsWatchCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "watch [job-id]",
		Short: "Stream job status events from the NATS bus",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.Bus.Enabled {
				return errors.New("status events need the NATS bus; set bus.enabled in the config")
			}
			busCfg := cfg.Bus
			if cfg.Bus.Embedded {
				busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", cfg.Bus.Port)}
			}

			watchCtx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				watchCtx, cancel = context.WithTimeout(watchCtx, timeout)
				defer cancel()
			}
			client, err := bus.Connect(watchCtx, busCfg, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			jobID := ""
			if len(args) == 1 {
				jobID = args[0]
			}
			out := cmd.OutOrStdout()
			err = client.WatchStatus(watchCtx, jobID, func(ev bus.StatusEvent) {
				line := fmt.Sprintf("%s %s %s/%s", ev.UpdatedAt.Local().Format("15:04:05"), ev.JobID, ev.Stage, ev.Status)
				if ev.LastError != "" {
					line += " error=" + ev.LastError
				}
				if ev.ResultID != "" {
					line += " result=" + ev.ResultID
				}
				fmt.Fprintln(out, line)
			})
			if errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Stop watching after this long (0 waits until interrupted)")
	return cmd
}
