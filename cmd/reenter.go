package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ledger-cli/internal/model"
	"github.com/sells-group/ledger-cli/internal/pipeline"
)

var (
	reenterCorrection string
	reenterAdvance    bool
)

var reenterCmd = &cobra.Command{
	Use:   "reenter <document-id>",
	Short: "Apply an operator correction and resume a document",
	Long: `Applies a correction to a document waiting in a side branch and moves it
back to the stage the correction feeds. The correction file is JSON with any
of "classification", "fields" and "account_overrides" (line index to account
code). Documents in posting_failed or cancelled need no correction.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		c, err := readCorrection(reenterCorrection)
		if err != nil {
			return err
		}

		var env *pipelineEnv
		if reenterAdvance {
			env, err = initPipeline(ctx)
		} else {
			env, err = initControl(ctx)
		}
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := env.Orchestrator.Reenter(ctx, args[0], c)
		if err != nil {
			return eris.Wrap(err, "reenter")
		}
		if reenterAdvance {
			st, err = env.Orchestrator.Advance(ctx, args[0])
			if err != nil {
				return eris.Wrap(err, "advance")
			}
		}

		return printState(st)
	},
}

func readCorrection(path string) (pipeline.Correction, error) {
	var c pipeline.Correction
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, eris.Wrapf(err, "read correction %s", path)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, eris.Wrapf(err, "parse correction %s", path)
	}
	return c, nil
}

func printState(st *model.PipelineState) error {
	zap.L().Info("document state",
		zap.String("document_id", st.DocumentID),
		zap.String("state", string(st.State)),
		zap.Int64("version", st.Version),
	)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

func init() {
	reenterCmd.Flags().StringVar(&reenterCorrection, "correction", "", "path to a JSON correction file")
	reenterCmd.Flags().BoolVar(&reenterAdvance, "advance", false, "advance the document after re-entry")
	rootCmd.AddCommand(reenterCmd)
}
