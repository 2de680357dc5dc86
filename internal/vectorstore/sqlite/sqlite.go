// Package sqlite stores vectors in a SQLite database file and searches them
// with brute-force cosine similarity.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/viant/sqlite-vec/engine"
	"github.com/viant/sqlite-vec/vector"
	_ "modernc.org/sqlite"

	"pdfrag/internal/domain"
	"pdfrag/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS pdfrag_indexes (
	name      TEXT PRIMARY KEY,
	dimension INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS pdfrag_vectors (
	index_name TEXT NOT NULL,
	namespace  TEXT NOT NULL,
	id         TEXT NOT NULL,
	metadata   TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	PRIMARY KEY (index_name, namespace, id)
);`

// Config configures the SQLite store.
type Config struct {
	// DSN is a database path, or ":memory:".
	DSN   string
	Index string
}

// Storage implements domain.VectorStore on SQLite.
type Storage struct {
	db    *sql.DB
	index string
}

// NewStorage opens the database and creates the schema if missing.
func NewStorage(cfg Config) (*Storage, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: sqlite dsn is empty", domain.ErrInvalidConfig)
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("%w: sqlite index name is empty", domain.ErrInvalidConfig)
	}
	db, err := engine.Open(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite %s: %v", domain.ErrProvider, cfg.DSN, err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", domain.ErrProvider, err)
	}
	return &Storage{db: db, index: cfg.Index}, nil
}

func (s *Storage) dimension(ctx context.Context) (int, error) {
	var dim int
	err := s.db.QueryRowContext(ctx, `SELECT dimension FROM pdfrag_indexes WHERE name = ?`, s.index).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read index %q: %v", domain.ErrProvider, s.index, err)
	}
	return dim, nil
}

// EnsureIndex registers the index with its dimension. An existing index must match.
func (s *Storage) EnsureIndex(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: invalid dimension %d", domain.ErrInvalidConfig, dimension)
	}
	dim, err := s.dimension(ctx)
	if err != nil {
		return err
	}
	if dim != 0 {
		if dim != dimension {
			return fmt.Errorf("%w: index %q has dimension %d, embedder produces %d", domain.ErrInvalidConfig, s.index, dim, dimension)
		}
		return nil
	}
	logger.Info("sqlite: creating index %s (dimension %d)", s.index, dimension)
	if _, err := s.db.ExecContext(ctx, `INSERT INTO pdfrag_indexes(name, dimension) VALUES(?, ?)`, s.index, dimension); err != nil {
		return fmt.Errorf("%w: create index %q: %v", domain.ErrProvider, s.index, err)
	}
	return nil
}

func (s *Storage) Upsert(ctx context.Context, namespace string, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	dim, err := s.dimension(ctx)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrProvider, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO pdfrag_vectors(index_name, namespace, id, metadata, embedding) VALUES(?, ?, ?, ?, ?)
ON CONFLICT(index_name, namespace, id) DO UPDATE SET metadata = excluded.metadata, embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("%w: prepare upsert: %v", domain.ErrProvider, err)
	}
	defer stmt.Close()

	for _, r := range records {
		if dim != 0 && len(r.Values) != dim {
			return fmt.Errorf("%w: vector %q has dimension %d, index expects %d", domain.ErrProvider, r.ID, len(r.Values), dim)
		}
		blob, err := vector.EncodeEmbedding(r.Values)
		if err != nil {
			return fmt.Errorf("%w: encode %q: %v", domain.ErrProvider, r.ID, err)
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("%w: encode metadata %q: %v", domain.ErrProvider, r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, s.index, namespace, r.ID, string(meta), blob); err != nil {
			return fmt.Errorf("%w: upsert %q: %v", domain.ErrProvider, r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrProvider, err)
	}
	return nil
}

func (s *Storage) Query(ctx context.Context, namespace string, vec []float32, topK int, includeMetadata bool) ([]domain.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, metadata, embedding FROM pdfrag_vectors WHERE index_name = ? AND namespace = ?`, s.index, namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", domain.ErrProvider, err)
	}
	defer rows.Close()

	type scored struct {
		match domain.Match
		meta  string
	}
	var hits []scored
	for rows.Next() {
		var (
			id, meta string
			blob     []byte
		)
		if err := rows.Scan(&id, &meta, &blob); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", domain.ErrProvider, err)
		}
		values, err := vector.DecodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("%w: decode %q: %v", domain.ErrProvider, id, err)
		}
		// zero vectors have no direction and score 0
		score, err := vector.CosineSimilarity(vec, values)
		if err != nil {
			score = 0
		}
		hits = append(hits, scored{match: domain.Match{ID: id, Score: float32(score)}, meta: meta})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", domain.ErrProvider, err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].match.Score > hits[j].match.Score })
	hits = hits[:min(topK, len(hits))]
	out := make([]domain.Match, len(hits))
	for i, h := range hits {
		out[i] = h.match
		if includeMetadata {
			if err := json.Unmarshal([]byte(h.meta), &out[i].Metadata); err != nil {
				return nil, fmt.Errorf("%w: decode metadata %q: %v", domain.ErrProvider, h.match.ID, err)
			}
		}
	}
	return out, nil
}

func (s *Storage) ListIndexes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pdfrag_indexes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: list indexes: %v", domain.ErrProvider, err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", domain.ErrProvider, err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Storage) DescribeIndexStats(ctx context.Context) (domain.IndexStats, error) {
	dim, err := s.dimension(ctx)
	if err != nil {
		return domain.IndexStats{}, err
	}
	st := domain.IndexStats{Dimension: dim, Namespaces: map[string]int{}}
	rows, err := s.db.QueryContext(ctx,
		`SELECT namespace, COUNT(*) FROM pdfrag_vectors WHERE index_name = ? GROUP BY namespace`, s.index)
	if err != nil {
		return st, fmt.Errorf("%w: stats: %v", domain.ErrProvider, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ns string
			n  int
		)
		if err := rows.Scan(&ns, &n); err != nil {
			return st, fmt.Errorf("%w: scan: %v", domain.ErrProvider, err)
		}
		st.Namespaces[ns] = n
		st.TotalVectorCount += n
	}
	return st, rows.Err()
}

// Clear removes every vector of the namespace.
func (s *Storage) Clear(ctx context.Context, namespace string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM pdfrag_vectors WHERE index_name = ? AND namespace = ?`, s.index, namespace); err != nil {
		return fmt.Errorf("%w: clear: %v", domain.ErrProvider, err)
	}
	return nil
}

func (s *Storage) Close() error { return s.db.Close() }
