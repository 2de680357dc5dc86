package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"pdfrag/internal/domain"
	"pdfrag/internal/service"
	"pdfrag/internal/session"
)

var (
	ingestNamespace string
	ingestJSON      bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file|url...]",
	Short: "Ingest documents into a namespace",
	Long: `Extracts the text of each PDF or plain-text file, splits it into chunks,
embeds them and upserts the vectors into the configured index.

Arguments are local paths or URLs (file://, http(s)://, and the other
schemes of github.com/viant/afs).

Re-ingesting the same file into the same namespace overwrites its vectors,
so an interrupted upload can simply be run again.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestNamespace, "namespace", "N", "", "target namespace (default from config)")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	s, err := open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	results := make([]service.IngestResult, 0, len(args))
	for _, path := range args {
		res, err := ingestOne(cmd, s, path)
		if err != nil {
			// files ingested before the failure are still reported
			if ingestJSON {
				if jerr := printIngestJSON(cmd.OutOrStdout(), results); jerr != nil {
					return errors.Join(err, jerr)
				}
			}
			return err
		}
		results = append(results, res)
		if !ingestJSON {
			printIngestResult(cmd.OutOrStdout(), res)
		}
	}
	if ingestJSON {
		return printIngestJSON(cmd.OutOrStdout(), results)
	}
	return nil
}

func ingestOne(cmd *cobra.Command, s *session.Session, path string) (service.IngestResult, error) {
	doc, err := readDocument(cmd.Context(), path, ingestNamespace)
	if err != nil {
		return service.IngestResult{}, err
	}
	res, err := s.Ingest(cmd.Context(), doc)
	if err != nil {
		var batchErr *domain.BatchError
		if errors.As(err, &batchErr) {
			return res, fmt.Errorf("ingest %s: %w (run the command again to resume; records are overwritten, not duplicated)", path, err)
		}
		return res, fmt.Errorf("ingest %s: %w", path, err)
	}
	return res, nil
}

func printIngestJSON(w io.Writer, results []service.IngestResult) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func printIngestResult(w io.Writer, res service.IngestResult) {
	fmt.Fprintf(w, "%s -> namespace %q\n", res.Document, res.Namespace)
	fmt.Fprintf(w, "  extracted %d characters\n", res.Characters)
	fmt.Fprintf(w, "  %d chunks, %d batches, %d vectors upserted\n", res.Chunks, res.Batches, res.Upserted)
	if res.Skipped > 0 {
		fmt.Fprintf(w, "  %d chunks skipped (no indexable words)\n", res.Skipped)
	}
	if res.Summary != "" {
		fmt.Fprintf(w, "  summary: %s\n", res.Summary)
	}
}
