package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fabrick/internal/api"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <manifest.yaml>",
		Short: "Submit a production manifest for decomposition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read manifest: %w", err)
			}
			return ctx.withClient(func(client *api.Client) error {
				result, err := client.Submit(cmd.Context(), data)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Manifest %s submitted: %d jobs created", result.ManifestID, result.JobsCreated)
				if result.JobsExisting > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), " (%d already existed)", result.JobsExisting)
				}
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}
}
