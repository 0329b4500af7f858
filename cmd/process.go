package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/ledger-cli/internal/pipeline"
)

var (
	processPending bool
	processCompany string
	processLimit   int
	processJSON    bool
)

var processCmd = &cobra.Command{
	Use:   "process [document-id]...",
	Short: "Advance documents through the pipeline",
	Long:  "Advances the given documents, or with --pending every non-terminal document, until each reaches a terminal or side-branch state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if len(args) == 0 && !processPending {
			return eris.New("document ids or --pending required")
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ids := args
		if processPending {
			pending, err := env.Orchestrator.Pending(ctx, processCompany, processLimit)
			if err != nil {
				return eris.Wrap(err, "list pending documents")
			}
			ids = append(ids, pending...)
		}
		if len(ids) == 0 {
			fmt.Fprintln(os.Stderr, "No documents to process.")
			return nil
		}

		results, err := env.Orchestrator.ProcessBatch(ctx, ids)
		if err != nil {
			return err
		}

		if processJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		formatBatchResults(os.Stdout, results)
		return nil
	},
}

func formatBatchResults(out io.Writer, results []pipeline.BatchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DOCUMENT\tSTATE\tERROR_CODE\tREASON")
	_, _ = fmt.Fprintln(w, "--------\t-----\t----------\t------")

	for _, r := range results {
		state, code, reason := "", "", ""
		if r.State != nil {
			state = string(r.State.State)
			code = string(r.State.ErrorCode)
			reason = r.State.Reason
		}
		if r.Err != nil {
			reason = r.Err.Error()
		}
		if len(reason) > 60 {
			reason = reason[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.DocumentID, state, code, reason)
	}
	_ = w.Flush()
}

func init() {
	processCmd.Flags().BoolVar(&processPending, "pending", false, "process all non-terminal documents")
	processCmd.Flags().StringVar(&processCompany, "company", "", "restrict --pending to one company")
	processCmd.Flags().IntVar(&processLimit, "limit", 100, "max pending documents to process")
	processCmd.Flags().BoolVar(&processJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(processCmd)
}
