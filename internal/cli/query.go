package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pdfrag/internal/domain"
)

var (
	queryNamespace string
	queryTopK      int
	queryJSON      bool
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Retrieve the chunks most similar to a question",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryNamespace, "namespace", "N", "", "namespace to search (default from config)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	s, err := open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	matches, err := s.Query(cmd.Context(), args[0], queryNamespace, queryTopK)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	if queryJSON {
		data, err := json.MarshalIndent(matches, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	printMatches(cmd, matches)
	return nil
}

func printMatches(cmd *cobra.Command, matches []domain.Match) {
	w := cmd.OutOrStdout()
	if len(matches) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}
	for i, m := range matches {
		// Format: [N] source#chunk (score)
		label := m.ID
		if src := m.Metadata[domain.MetaSource]; src != "" {
			label = src + "#" + m.Metadata[domain.MetaChunk]
		}
		fmt.Fprintf(w, "[%d] %s (%.4f)\n", i+1, label, m.Score)
		if text := strings.TrimSpace(m.Text()); text != "" {
			fmt.Fprintf(w, "    %s\n", strings.ReplaceAll(text, "\n", "\n    "))
		}
		fmt.Fprintln(w)
	}
}
