package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fabrick/internal/api"
	"fabrick/internal/timeline"
)

func newManifestsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "manifests",
		Short: "List submitted manifests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				manifests, err := client.Manifests(cmd.Context())
				if err != nil {
					return err
				}
				if len(manifests) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No manifests submitted.")
					return nil
				}
				rows := make([][]string, 0, len(manifests))
				for _, m := range manifests {
					rows = append(rows, []string{
						m.ID,
						truncate(m.Title, 40),
						m.Status,
						m.CreatedAt.Local().Format(time.DateTime),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "TITLE", "STATUS", "SUBMITTED"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <manifest-id|job-id>",
		Short: "Show a manifest with its job graph and timeline, or a single job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				// Job ids embed manifest and scene ids separated by colons.
				if strings.Contains(args[0], ":") {
					return showJob(cmd, client, args[0])
				}
				resp, err := client.Manifest(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(cmd.OutOrStdout())

				m := resp.Manifest
				for _, line := range renderSectionHeader("Manifest "+m.ID, colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderStatusLine("Title", statusInfo, m.Title, colorize))
				fmt.Fprintln(out, renderStatusLine("Status", manifestStatusKind(m.Status), m.Status, colorize))
				if m.IncompleteReason != "" {
					fmt.Fprintln(out, renderStatusLine("Incomplete", statusWarn, m.IncompleteReason, colorize))
				}

				if len(resp.Jobs) > 0 {
					fmt.Fprintln(out)
					for _, line := range renderSectionHeader("Jobs", colorize) {
						fmt.Fprintln(out, line)
					}
					fmt.Fprintln(out, renderTable(
						[]string{"ID", "TYPE", "SCENE", "STATUS", "ATTEMPTS", "ERROR"},
						jobRows(resp.Jobs),
						[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
					))
				}

				if len(m.Timeline) > 0 {
					var entries []timeline.Entry
					if err := json.Unmarshal(m.Timeline, &entries); err == nil && len(entries) > 0 {
						fmt.Fprintln(out)
						for _, line := range renderSectionHeader("Timeline", colorize) {
							fmt.Fprintln(out, line)
						}
						fmt.Fprintln(out, renderTable(
							[]string{"SCENE", "START", "ORDER", "TRANSITION", "EFFECTS", "NOTE"},
							timelineRows(entries),
							[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft},
						))
					}
				}
				return nil
			})
		},
	}
}

func showJob(cmd *cobra.Command, client *api.Client, id string) error {
	job, err := client.Job(cmd.Context(), id)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	colorize := shouldColorize(cmd.OutOrStdout())

	for _, line := range renderSectionHeader("Job "+job.ID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Type", statusInfo, job.Type, colorize))
	fmt.Fprintln(out, renderStatusLine("Scene", statusInfo, job.SceneID, colorize))
	fmt.Fprintln(out, renderStatusLine("Status", jobStatusKind(job), job.Status, colorize))
	fmt.Fprintln(out, renderStatusLine("Attempts", statusInfo, fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts), colorize))
	if len(job.DependsOn) > 0 {
		fmt.Fprintln(out, renderStatusLine("Depends on", statusInfo, strings.Join(job.DependsOn, ", "), colorize))
	}
	if job.WorkerID != "" {
		fmt.Fprintln(out, renderStatusLine("Worker", statusInfo, job.WorkerID, colorize))
	}
	if job.OutputURL != "" {
		fmt.Fprintln(out, renderStatusLine("Output", statusOK, job.OutputURL, colorize))
	}
	if job.ErrorMessage != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, job.ErrorMessage, colorize))
	}
	if job.IsDeadLetter {
		fmt.Fprintln(out, renderStatusLine("Dead letter", statusError, job.DeadLetterReason, colorize))
	}
	return nil
}

func jobStatusKind(job *api.JobView) statusKind {
	switch {
	case job.IsDeadLetter:
		return statusError
	case job.Status == "completed":
		return statusOK
	case job.Status == "failed":
		return statusWarn
	default:
		return statusInfo
	}
}

func manifestStatusKind(status string) statusKind {
	switch status {
	case "enriched":
		return statusOK
	case "incomplete":
		return statusError
	default:
		return statusInfo
	}
}

func timelineRows(entries []timeline.Entry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Incomplete {
			rows = append(rows, []string{entry.SceneID, "-", "-", "-", "-", "incomplete: " + entry.Reason})
			continue
		}
		rows = append(rows, []string{
			entry.SceneID,
			fmt.Sprintf("%.1fs", entry.StartAtSec),
			fmt.Sprintf("%d", entry.OrderingHint),
			entry.Transition,
			joinEffects(entry.Effects),
			"",
		})
	}
	return rows
}

func joinEffects(effects []string) string {
	result := ""
	for i, effect := range effects {
		if i > 0 {
			result += ", "
		}
		result += effect
	}
	return result
}
