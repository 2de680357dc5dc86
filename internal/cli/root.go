// Package cli implements the pdfrag command line.
package cli

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"pdfrag/internal/config"
	"pdfrag/internal/logger"
	"pdfrag/internal/session"
)

var (
	cfgPath   string
	verbosity int
	quiet     bool
)

// openSession is replaced in tests.
var openSession = func(ctx context.Context, cfg *config.AppConfig) (*session.Session, error) {
	return session.Open(ctx, cfg)
}

var rootCmd = &cobra.Command{
	Use:   "pdfrag",
	Short: "Ingest PDFs into a vector index and query them",
	Long: `pdfrag extracts text from PDF and plain-text documents, splits it into
overlapping chunks, embeds the chunks and stores them in a vector index under
a namespace. Queries embed the question and return the most similar chunks.

Configuration is read from --config, ./pdfrag.yaml or
~/.config/pdfrag/config.yaml. API keys come from the environment variables
named in the config; a .env file in the working directory is loaded first.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetOutput(cmd.ErrOrStderr())
		logger.SetLevel(logger.FromFlags(verbosity, quiet))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "print progress (-v) or per-batch detail (-vv)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress warnings")
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	_ = godotenv.Load()
	return rootCmd.ExecuteContext(ctx)
}

func loadConfig() (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if cfgPath == "" {
		var path string
		cfg, path, err = config.LoadDefault()
		if err == nil {
			logger.Debug("config: %s", path)
		}
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	// flags win over log.level
	if verbosity == 0 && !quiet {
		if level, err := logger.ParseLevel(cfg.Log.Level); err == nil {
			logger.SetLevel(level)
		}
	}
	return cfg, nil
}

// open loads the configuration and opens a session on it.
func open(cmd *cobra.Command) (*session.Session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openSession(cmd.Context(), cfg)
}
