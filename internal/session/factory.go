package session

import (
	"context"
	"fmt"
	"time"

	"pdfrag/internal/config"
	"pdfrag/internal/domain"
	"pdfrag/internal/embedding/gemini"
	"pdfrag/internal/embedding/hashing"
	"pdfrag/internal/embedding/openai"
	"pdfrag/internal/vectorstore/chromem"
	"pdfrag/internal/vectorstore/memory"
	"pdfrag/internal/vectorstore/pinecone"
	"pdfrag/internal/vectorstore/qdrant"
	"pdfrag/internal/vectorstore/sqlite"
)

// NewEmbedder builds the embedder selected by cfg.
func NewEmbedder(ctx context.Context, cfg *config.AppConfig) (domain.Embedder, error) {
	switch cfg.Embedder.Type {
	case "hashing":
		return hashing.New(cfg.Embedder.Hashing.Dimension), nil
	case "openai":
		o := cfg.Embedder.OpenAI
		return asEmbedder(openai.NewClient(openai.Config{
			BaseURL:    o.BaseURL,
			APIKey:     cfg.EmbedderAPIKey(),
			Model:      o.Model,
			Timeout:    time.Duration(o.TimeoutSecs) * time.Second,
			Dimensions: o.Dimensions,
			MaxRetries: o.MaxRetries,
		}))
	case "gemini":
		return asEmbedder(gemini.New(ctx, gemini.Config{
			APIKey: cfg.EmbedderAPIKey(),
			Model:  cfg.Embedder.Gemini.Model,
		}))
	}
	return nil, fmt.Errorf("%w: unknown embedder %q", domain.ErrInvalidConfig, cfg.Embedder.Type)
}

// NewStore builds the vector store selected by cfg.
func NewStore(cfg *config.AppConfig) (domain.VectorStore, error) {
	vs := cfg.VectorStore
	switch vs.Type {
	case "memory":
		return memory.NewStorage(vs.Index), nil
	case "chromem":
		return asStore(chromem.NewStorage(chromem.Config{Path: vs.Chromem.Path, Index: vs.Index, Compress: vs.Chromem.Compress}))
	case "sqlite":
		return asStore(sqlite.NewStorage(sqlite.Config{DSN: vs.SQLite.Path, Index: vs.Index}))
	case "pinecone":
		return asStore(pinecone.NewStorage(pinecone.Config{
			APIKey:     cfg.StoreAPIKey(),
			Index:      vs.Index,
			ControlURL: vs.Pinecone.ControlURL,
			Host:       vs.Pinecone.Host,
			Timeout:    time.Duration(vs.Pinecone.TimeoutSecs) * time.Second,
		}))
	case "qdrant":
		return asStore(qdrant.NewStorage(qdrant.Config{
			URL:        vs.Qdrant.URL,
			APIKey:     cfg.StoreAPIKey(),
			Collection: vs.Index,
			Timeout:    time.Duration(vs.Qdrant.TimeoutSecs) * time.Second,
		}))
	}
	return nil, fmt.Errorf("%w: unknown vector store %q", domain.ErrInvalidConfig, vs.Type)
}

// asEmbedder and asStore keep a failed constructor's nil pointer out of the
// returned interface.
func asEmbedder[E domain.Embedder](e E, err error) (domain.Embedder, error) {
	if err != nil {
		return nil, err
	}
	return e, nil
}

func asStore[S domain.VectorStore](s S, err error) (domain.VectorStore, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
