// Package web serves the browser page and JSON API for uploading documents
// and querying a namespace.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"pdfrag/internal/domain"
	"pdfrag/internal/logger"
	"pdfrag/internal/service"
)

// Backend is the pipeline the server drives. *session.Session implements it.
type Backend interface {
	Ingest(ctx context.Context, doc domain.Document) (service.IngestResult, error)
	Query(ctx context.Context, text, namespace string, k int) ([]domain.Match, error)
	Indexes(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (domain.IndexStats, error)
	Clear(ctx context.Context, namespace string) error
	Close() error
}

// Opener builds a fresh Backend. It is called on first use and after a reset.
type Opener func(ctx context.Context) (Backend, error)

// Options configure a Server.
type Options struct {
	Title     string
	Namespace string
	TopK      int
	// MaxUploadBytes bounds the multipart body of an upload.
	MaxUploadBytes int64
}

// Server holds at most one open Backend. Requests are serialised.
type Server struct {
	mu      sync.Mutex
	open    Opener
	backend Backend
	opts    Options
	page    *template.Template
}

// New creates a server that opens its backend lazily with open.
func New(open Opener, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	if opts.Title == "" {
		opts.Title = "PDF RAG"
	}
	return &Server{open: open, opts: opts, page: template.Must(template.New("page").Parse(pageHTML))}
}

// Handler returns the routes of the page and the JSON API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handlePage)
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("POST /api/query", s.handleQuery)
	mux.HandleFunc("GET /api/indexes", s.handleIndexes)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/clear", s.handleClear)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down and
// closes the backend.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logger.Info("web: listening on http://%s", ln.Addr())

	select {
	case err := <-errCh:
		_ = s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	return errors.Join(err, s.Close())
}

// Close releases the open backend, if any.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetLocked()
}

func (s *Server) resetLocked() error {
	if s.backend == nil {
		return nil
	}
	err := s.backend.Close()
	s.backend = nil
	return err
}

// with runs fn against the backend, opening it first if needed.
func (s *Server) with(ctx context.Context, fn func(Backend) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		b, err := s.open(ctx)
		if err != nil {
			return err
		}
		s.backend = b
	}
	return fn(s.backend)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, s.opts); err != nil {
		logger.Warn("web: render page: %v", err)
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.opts.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", s.opts.MaxUploadBytes))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", s.opts.MaxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid upload: %w", err))
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("missing file field"))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}
	doc := domain.Document{Name: hdr.Filename, Data: data, Namespace: r.FormValue("namespace")}

	var res service.IngestResult
	err = s.with(r.Context(), func(b Backend) error {
		var err error
		res, err = b.Ingest(r.Context(), doc)
		return err
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type queryRequest struct {
	Query     string `json:"query"`
	Namespace string `json:"namespace"`
	K         int    `json:"k"`
}

type queryResponse struct {
	Matches []domain.Match `json:"matches"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid query body: %w", err))
		return
	}
	if req.K <= 0 {
		req.K = s.opts.TopK
	}
	var matches []domain.Match
	err := s.with(r.Context(), func(b Backend) error {
		var err error
		matches, err = b.Query(r.Context(), req.Query, req.Namespace, req.K)
		return err
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if matches == nil {
		matches = []domain.Match{}
	}
	writeJSON(w, http.StatusOK, queryResponse{Matches: matches})
}

func (s *Server) handleIndexes(w http.ResponseWriter, r *http.Request) {
	var names []string
	err := s.with(r.Context(), func(b Backend) error {
		var err error
		names, err = b.Indexes(r.Context())
		return err
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"indexes": names})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var st domain.IndexStats
	err := s.with(r.Context(), func(b Backend) error {
		var err error
		st, err = b.Stats(r.Context())
		return err
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type clearRequest struct {
	Namespace string `json:"namespace"`
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid clear body: %w", err))
		return
	}
	ns := req.Namespace
	if strings.TrimSpace(ns) == "" {
		ns = s.opts.Namespace
	}
	err := s.with(r.Context(), func(b Backend) error { return b.Clear(r.Context(), ns) })
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "namespace": ns})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	err := s.resetLocked()
	s.mu.Unlock()
	if err != nil {
		logger.Warn("web: close backend on reset: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	var batchErr *domain.BatchError
	switch {
	case errors.Is(err, domain.ErrInvalidConfig), errors.Is(err, domain.ErrMissingCredentials):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrExtraction), errors.Is(err, domain.ErrEmptyDocument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &batchErr), errors.Is(err, domain.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Committed *int   `json:"committed,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	var batchErr *domain.BatchError
	if errors.As(err, &batchErr) {
		resp.Committed = &batchErr.Committed
	}
	if status >= 500 {
		logger.Warn("web: %v", err)
	}
	writeJSON(w, status, resp)
}

// writeJSON encodes v before touching the response so an unencodable value
// becomes a 500 instead of a truncated 200.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Warn("web: encode response: %v", err)
		status = http.StatusInternalServerError
		data, _ = json.Marshal(errorResponse{Error: "failed to encode response: " + err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		logger.Debug("web: write response: %v", err)
	}
}

var pageHTML = strings.TrimSpace(`
<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 52rem; margin: 2rem auto; }
fieldset { margin-bottom: 1.5rem; }
pre { white-space: pre-wrap; background: #f4f4f4; padding: .75rem; }
.match { border-top: 1px solid #ddd; padding: .5rem 0; }
.score { color: #666; font-size: .85em; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<fieldset>
<legend>Upload</legend>
<form id="ingest">
<input type="file" name="file" accept=".pdf,.txt,application/pdf,text/plain" required>
<input type="text" name="namespace" placeholder="namespace" value="{{.Namespace}}">
<button type="submit">Upload</button>
</form>
<pre id="ingest-out"></pre>
</fieldset>
<fieldset>
<legend>Query</legend>
<form id="query">
<input type="text" name="query" placeholder="Ask something" size="50">
<input type="text" name="namespace" placeholder="namespace" value="{{.Namespace}}">
<input type="number" name="k" min="1" value="{{.TopK}}">
<button type="submit">Search</button>
</form>
<div id="query-out"></div>
</fieldset>
<fieldset>
<legend>Index</legend>
<button id="stats">Stats</button>
<input type="text" id="clear-ns" placeholder="namespace" value="{{.Namespace}}">
<button id="clear">Clear namespace</button>
<button id="reset">Reset session</button>
<pre id="index-out"></pre>
</fieldset>
<script>
async function call(url, opts) {
  const r = await fetch(url, opts);
  const body = await r.json();
  if (!r.ok) throw new Error(body.error || r.statusText);
  return body;
}
const show = (id, v) => { document.getElementById(id).textContent = typeof v === "string" ? v : JSON.stringify(v, null, 2); };
document.getElementById("ingest").addEventListener("submit", async (e) => {
  e.preventDefault();
  show("ingest-out", "Uploading...");
  try { show("ingest-out", await call("/api/ingest", {method: "POST", body: new FormData(e.target)})); }
  catch (err) { show("ingest-out", "Error: " + err.message); }
});
document.getElementById("query").addEventListener("submit", async (e) => {
  e.preventDefault();
  const f = new FormData(e.target);
  const out = document.getElementById("query-out");
  out.textContent = "Searching...";
  try {
    const res = await call("/api/query", {method: "POST", headers: {"Content-Type": "application/json"},
      body: JSON.stringify({query: f.get("query"), namespace: f.get("namespace"), k: Number(f.get("k"))})});
    out.textContent = "";
    if (res.matches.length === 0) { out.textContent = "No results."; }
    for (const m of res.matches) {
      const div = document.createElement("div");
      div.className = "match";
      const score = document.createElement("div");
      score.className = "score";
      score.textContent = m.score.toFixed(4) + " " + ((m.metadata || {}).source || "");
      const text = document.createElement("div");
      text.textContent = (m.metadata || {}).text || m.id;
      div.append(score, text);
      out.append(div);
    }
  } catch (err) { out.textContent = "Error: " + err.message; }
});
document.getElementById("stats").addEventListener("click", async () => {
  try { show("index-out", await call("/api/stats")); } catch (err) { show("index-out", "Error: " + err.message); }
});
document.getElementById("clear").addEventListener("click", async () => {
  const ns = document.getElementById("clear-ns").value;
  if (!confirm("Delete every vector in namespace " + JSON.stringify(ns) + "?")) return;
  try { show("index-out", await call("/api/clear", {method: "POST", headers: {"Content-Type": "application/json"},
    body: JSON.stringify({namespace: ns})})); }
  catch (err) { show("index-out", "Error: " + err.message); }
});
document.getElementById("reset").addEventListener("click", async () => {
  try { show("index-out", await call("/api/reset", {method: "POST"})); } catch (err) { show("index-out", "Error: " + err.message); }
});
</script>
</body>
</html>
`)
