package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ledger-cli/internal/accounts"
	"github.com/sells-group/ledger-cli/internal/model"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage account mapping rules",
	Long:  "Commands for importing and listing the per-company account mapping rules stored in the metadata store.",
}

// -- rules import --

var rulesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Replace a company's stored rules from a YAML file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		company, _ := cmd.Flags().GetString("company")
		path, _ := cmd.Flags().GetString("file")

		rules, err := accounts.LoadRules(path)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.ReplaceRules(ctx, company, rules)
		if err != nil {
			return eris.Wrap(err, "rules import")
		}

		zap.L().Info("rules imported",
			zap.String("company", company),
			zap.String("file", path),
			zap.Int64("rules", n),
		)
		return nil
	},
}

// -- rules list --

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the rules a company maps with",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		company, _ := cmd.Flags().GetString("company")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rules, err := st.ListRules(ctx, company)
		if err != nil {
			return eris.Wrap(err, "rules list")
		}
		if len(rules) == 0 {
			fmt.Fprintln(os.Stderr, "No stored rules; the built-in defaults apply.")
			rules = accounts.DefaultRules()
		}

		formatRules(os.Stdout, accounts.SortRules(rules))
		return nil
	},
}

func formatRules(out io.Writer, rules []model.Rule) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTIER\tPRIORITY\tACCOUNT\tTYPES\tKEYWORDS")
	_, _ = fmt.Fprintln(w, "--\t----\t--------\t-------\t-----\t--------")

	for _, r := range rules {
		types := make([]string, 0, len(r.Match.DocumentTypes))
		for _, dt := range r.Match.DocumentTypes {
			types = append(types, string(dt))
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID,
			r.Tier,
			r.Priority,
			r.AccountCode,
			strings.Join(types, ","),
			strings.Join(r.Match.Keywords, ","),
		)
	}
	_ = w.Flush()
}

func init() {
	rulesImportCmd.Flags().String("company", "", "company id (required)")
	rulesImportCmd.Flags().String("file", "", "path to a rules YAML file (required)")
	_ = rulesImportCmd.MarkFlagRequired("company")
	_ = rulesImportCmd.MarkFlagRequired("file")

	rulesListCmd.Flags().String("company", "", "company id (required)")
	_ = rulesListCmd.MarkFlagRequired("company")

	rulesCmd.AddCommand(rulesImportCmd)
	rulesCmd.AddCommand(rulesListCmd)
	rootCmd.AddCommand(rulesCmd)
}
