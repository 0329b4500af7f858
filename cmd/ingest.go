package main

import (
	"encoding/json"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/ledger-cli/internal/model"
	"github.com/sells-group/ledger-cli/internal/pipeline"
)

var (
	ingestCompany string
	ingestMime    string
	ingestAdvance bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Upload documents for a company",
	Long:  "Stores each file, registers it in Uploaded and optionally advances it through the pipeline. Re-uploading identical content returns the existing document.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		type ingested struct {
			File     string               `json:"file"`
			Document *model.Document      `json:"document"`
			Created  bool                 `json:"created"`
			State    *model.PipelineState `json:"state,omitempty"`
		}

		var out []ingested
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return eris.Wrapf(err, "read %s", path)
			}

			doc, created, err := env.Orchestrator.Ingest(ctx, pipeline.IngestRequest{
				CompanyID: ingestCompany,
				Filename:  filepath.Base(path),
				MimeType:  detectMime(path, data),
				Content:   data,
			})
			if err != nil {
				return eris.Wrapf(err, "ingest %s", path)
			}

			item := ingested{File: path, Document: doc, Created: created}
			if ingestAdvance {
				st, err := env.Orchestrator.Advance(ctx, doc.ID)
				if err != nil {
					zap.L().Error("advance failed", zap.String("document_id", doc.ID), zap.Error(err))
				}
				item.State = st
			}
			out = append(out, item)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// detectMime prefers the --mime flag, then the file extension, then content
// sniffing.
func detectMime(path string, data []byte) string {
	if ingestMime != "" {
		return ingestMime
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func init() {
	ingestCmd.Flags().StringVar(&ingestCompany, "company", "", "company id (required)")
	ingestCmd.Flags().StringVar(&ingestMime, "mime", "", "mime type override (default from extension)")
	ingestCmd.Flags().BoolVar(&ingestAdvance, "advance", false, "advance each document after upload")
	_ = ingestCmd.MarkFlagRequired("company")
	rootCmd.AddCommand(ingestCmd)
}
