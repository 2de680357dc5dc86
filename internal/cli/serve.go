package cli

import (
	"context"

	"github.com/spf13/cobra"

	"pdfrag/internal/logger"
	"pdfrag/internal/web"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the upload and query page",
	Long: `Starts a local web server with an upload form, a query box and a JSON API:

  POST /api/ingest   multipart upload (fields: file, namespace)
  POST /api/query    {"query": "...", "namespace": "...", "k": 5}
  GET  /api/indexes
  GET  /api/stats
  POST /api/clear    {"namespace": "..."} deletes the namespace's vectors
  POST /api/reset    close the session; the next request opens a new one`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Fail fast on configuration errors instead of on the first request.
	if err := cfg.Validate(); err != nil {
		return err
	}
	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	srv := web.New(func(ctx context.Context) (web.Backend, error) {
		s, err := openSession(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	}, web.Options{
		Title:          cfg.VectorStore.Index,
		Namespace:      cfg.Ingest.Namespace,
		TopK:           cfg.Query.TopK,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
	})
	logger.SetTimestamps(true)
	cmd.Printf("Serving on http://%s\n", addr)
	return srv.ListenAndServe(cmd.Context(), addr)
}
