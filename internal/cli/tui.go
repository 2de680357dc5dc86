package cli

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"pdfrag/internal/tui"
)

var (
	tuiNamespace string
	tuiTopK      int
)

var tuiCmd = &cobra.Command{
	Use:   "tui [file...]",
	Short: "Launch the interactive query browser",
	Long: `Launch the interactive terminal UI for querying a namespace.
Files given as arguments are ingested first and their summaries shown.

Controls:
  Enter    - Search
  ↑/↓      - Previous / next result
  Esc      - Quit`,
	RunE: runTUI,
}

func init() {
	tuiCmd.Flags().StringVarP(&tuiNamespace, "namespace", "N", "", "namespace to search (default from config)")
	tuiCmd.Flags().IntVarP(&tuiTopK, "top-k", "k", 0, "number of results (default from config)")
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	s, err := open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ns := tuiNamespace
	if strings.TrimSpace(ns) == "" {
		ns = s.Config().Ingest.Namespace
	}
	var summaries []string
	for _, path := range args {
		doc, err := readDocument(cmd.Context(), path, ns)
		if err != nil {
			return err
		}
		res, err := s.Ingest(cmd.Context(), doc)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		summaries = append(summaries, fmt.Sprintf("%s: %d chunks. %s", res.Document, res.Chunks, res.Summary))
	}

	m := tui.New(cmd.Context(), s, tui.Options{
		Namespace: ns,
		TopK:      tuiTopK,
		Title:     s.Config().VectorStore.Index,
		Summary:   strings.Join(summaries, "\n"),
	})
	if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
