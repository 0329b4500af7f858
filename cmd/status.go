package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ledger-cli/internal/model"
)

// -- status --

var statusCmd = &cobra.Command{
	Use:   "status <document-id>",
	Short: "Show a document's state, stage history and postings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initControl(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Orchestrator.Status(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "status")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

// -- list --

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents by pipeline state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		company, _ := cmd.Flags().GetString("company")
		states, _ := cmd.Flags().GetStringSlice("state")
		attention, _ := cmd.Flags().GetBool("attention")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := model.StateFilter{CompanyID: company, Limit: limit}
		for _, s := range states {
			state := model.State(s)
			if !state.Valid() {
				return eris.Errorf("unknown state %q", s)
			}
			filter.States = append(filter.States, state)
		}
		if attention {
			for _, s := range model.States {
				if s.NeedsAttention() {
					filter.States = append(filter.States, s)
				}
			}
		}

		list, err := st.ListStates(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list states")
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No documents found.")
			return nil
		}

		formatStateList(os.Stdout, list)
		return nil
	},
}

func formatStateList(out io.Writer, states []model.PipelineState) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DOCUMENT\tCOMPANY\tSTATE\tVERSION\tERROR_CODE\tUPDATED")
	_, _ = fmt.Fprintln(w, "--------\t-------\t-----\t-------\t----------\t-------")

	for _, s := range states {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			s.DocumentID,
			s.CompanyID,
			s.State,
			s.Version,
			s.ErrorCode,
			s.UpdatedAt.Format(time.DateTime),
		)
	}
	_ = w.Flush()
}

func init() {
	listCmd.Flags().String("company", "", "filter by company id")
	listCmd.Flags().StringSlice("state", nil, "filter by state (repeatable)")
	listCmd.Flags().Bool("attention", false, "only documents waiting on an operator")
	listCmd.Flags().Int("limit", 50, "max documents to list")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
}
