package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fabrick/internal/api"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statusFilters []string
	var manifestID string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs in the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				jobs, err := fetchJobs(cmd, client, manifestID, statusFilters)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs found.")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "TYPE", "SCENE", "STATUS", "ATTEMPTS", "ERROR"},
					jobRows(jobs),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&statusFilters, "status", nil, "Filter by job status (repeatable)")
	cmd.Flags().StringVar(&manifestID, "manifest", "", "Limit to jobs belonging to one manifest")
	return cmd
}

func fetchJobs(cmd *cobra.Command, client *api.Client, manifestID string, statuses []string) ([]api.JobView, error) {
	if manifestID == "" {
		return client.Jobs(cmd.Context(), statuses...)
	}
	detail, err := client.Manifest(cmd.Context(), manifestID)
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return detail.Jobs, nil
	}
	wanted := make(map[string]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}
	filtered := detail.Jobs[:0]
	for _, job := range detail.Jobs {
		if _, ok := wanted[job.Status]; ok {
			filtered = append(filtered, job)
		}
	}
	return filtered, nil
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Reset a dead-lettered job and its cascade victims for retry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				if err := client.RetryJob(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s reset for retry\n", args[0])
				return nil
			})
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job, dead-lettering it and its dependents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				if err := client.CancelJob(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s cancelled\n", args[0])
				return nil
			})
		},
	}
}

func jobRows(jobs []api.JobView) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		status := job.Status
		if job.IsDeadLetter && job.DeadLetterReason != "" {
			status = fmt.Sprintf("%s (%s)", job.Status, truncate(job.DeadLetterReason, 30))
		}
		rows = append(rows, []string{
			job.ID,
			job.Type,
			job.SceneID,
			status,
			fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts),
			truncate(job.ErrorMessage, 40),
		})
	}
	return rows
}
