package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <document-id>",
	Short: "Cancel a document",
	Long:  "Cancels a document immediately when no worker holds it. A document in flight is flagged and cancelled at its next stage boundary.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initControl(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := env.Orchestrator.Cancel(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "cancel")
		}
		return printState(st)
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
