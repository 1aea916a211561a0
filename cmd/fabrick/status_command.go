package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"fabrick/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(cmd.OutOrStdout())
				for _, line := range renderSectionHeader("Daemon", colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderStatusLine("Running", boolStatusKind(status.Running), yesNo(status.Running), colorize))
				fmt.Fprintln(out, renderStatusLine("PID", statusInfo, fmt.Sprintf("%d", status.PID), colorize))
				fmt.Fprintln(out, renderStatusLine("Queue database", statusInfo, status.QueueDBPath, colorize))
				if status.Workflow.LastError != "" {
					fmt.Fprintln(out, renderStatusLine("Last error", statusError, status.Workflow.LastError, colorize))
				}

				fmt.Fprintln(out)
				for _, line := range renderSectionHeader("Queue", colorize) {
					fmt.Fprintln(out, line)
				}
				q := status.Workflow.Queue
				fmt.Fprintln(out, renderTable(
					[]string{"TOTAL", "PENDING", "READY", "RUNNING", "COMPLETED", "FAILED", "DEAD LETTER"},
					[][]string{{
						fmt.Sprintf("%d", q.Total),
						fmt.Sprintf("%d", q.Pending),
						fmt.Sprintf("%d", q.Ready),
						fmt.Sprintf("%d", q.Running),
						fmt.Sprintf("%d", q.Completed),
						fmt.Sprintf("%d", q.Failed),
						fmt.Sprintf("%d", q.DeadLetter),
					}},
					[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
				))

				if len(status.Workflow.Pools) > 0 {
					fmt.Fprintln(out)
					for _, line := range renderSectionHeader("Worker pools", colorize) {
						fmt.Fprintln(out, line)
					}
					rows := make([][]string, 0, len(status.Workflow.Pools))
					for _, pool := range status.Workflow.Pools {
						rows = append(rows, []string{
							pool.JobType,
							fmt.Sprintf("%d", pool.Concurrency),
							pool.WorkerID,
						})
					}
					fmt.Fprintln(out, renderTable(
						[]string{"JOB TYPE", "CONCURRENCY", "WORKER ID"},
						rows,
						[]columnAlignment{alignLeft, alignRight, alignLeft},
					))
				}
				return nil
			})
		},
	}
}

func boolStatusKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func truncate(value string, limit int) string {
	if limit <= 3 || len(value) <= limit {
		return value
	}
	return strings.TrimSpace(value[:limit-3]) + "..."
}
