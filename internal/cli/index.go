package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"
)

var (
	statsJSON      bool
	clearNamespace string
	clearYes       bool
)

var indexesCmd = &cobra.Command{
	Use:   "indexes",
	Short: "List the indexes in the vector store",
	Args:  cobra.NoArgs,
	RunE:  runIndexes,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Describe the configured index",
	Long:  `Prints the vector dimension, the total vector count and the vector count of every namespace.`,
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every vector of a namespace",
	Long: `Deletes every vector stored under the namespace in the configured index.
Other namespaces and the index itself are left alone. Requires --yes.`,
	Args: cobra.NoArgs,
	RunE: runClear,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output stats as JSON")
	clearCmd.Flags().StringVarP(&clearNamespace, "namespace", "N", "", "namespace to clear (default from config)")
	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "confirm the deletion")
	rootCmd.AddCommand(indexesCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(clearCmd)
}

func runIndexes(cmd *cobra.Command, args []string) error {
	s, err := open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	names, err := s.Indexes(cmd.Context())
	if err != nil {
		return fmt.Errorf("list indexes: %w", err)
	}
	current := s.Config().VectorStore.Index
	w := cmd.OutOrStdout()
	for _, name := range names {
		marker := " "
		if name == current {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s\n", marker, name)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	s, err := open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("describe index: %w", err)
	}
	w := cmd.OutOrStdout()
	if statsJSON {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal stats: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}
	fmt.Fprintf(w, "Index:     %s\n", s.Config().VectorStore.Index)
	fmt.Fprintf(w, "Dimension: %d\n", st.Dimension)
	fmt.Fprintf(w, "Vectors:   %d\n", st.TotalVectorCount)
	if len(st.Namespaces) > 0 {
		fmt.Fprintln(w, "Namespaces:")
		for _, ns := range slices.Sorted(maps.Keys(st.Namespaces)) {
			fmt.Fprintf(w, "  %-20s %d\n", ns, st.Namespaces[ns])
		}
	}
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	if !clearYes {
		return errors.New("clear deletes vectors permanently; pass --yes to confirm")
	}
	s, err := open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ns := clearNamespace
	if ns == "" {
		ns = s.Config().Ingest.Namespace
	}
	if err := s.Clear(cmd.Context(), ns); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared namespace %q in index %s\n", ns, s.Config().VectorStore.Index)
	return nil
}
