// Package config loads the YAML application configuration.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"pdfrag/internal/domain"
	"pdfrag/internal/logger"
)

// HashingEmbedderConfig configures the local feature-hashing embedder.
type HashingEmbedderConfig struct {
	Dimension int `yaml:"dimension"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	Dimensions  int    `yaml:"dimensions,omitempty"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

// GeminiEmbedderConfig holds configuration for the Gemini embedder.
type GeminiEmbedderConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type    string                 `yaml:"type"`
	Hashing *HashingEmbedderConfig `yaml:"hashing,omitempty"`
	OpenAI  *OpenAIEmbedderConfig  `yaml:"openai,omitempty"`
	Gemini  *GeminiEmbedderConfig  `yaml:"gemini,omitempty"`
}

// unsetOverlap marks an overlap the YAML left out, so an explicit 0 survives defaulting.
const unsetOverlap = math.MinInt

// ChunkerConfig configures how documents are split into chunks. An omitted
// overlap defaults to a fifth of the chunk size.
type ChunkerConfig struct {
	Strategy  string `yaml:"strategy"`
	ChunkSize int    `yaml:"chunk_size"`
	Overlap   int    `yaml:"overlap"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type     string          `yaml:"type"`
	Index    string          `yaml:"index"`
	Chromem  *ChromemConfig  `yaml:"chromem,omitempty"`
	SQLite   *SQLiteConfig   `yaml:"sqlite,omitempty"`
	Pinecone *PineconeConfig `yaml:"pinecone,omitempty"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress"`
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PineconeConfig contains connection details for Pinecone.
type PineconeConfig struct {
	APIKeyEnv   string `yaml:"api_key_env"`
	ControlURL  string `yaml:"control_url"`
	Host        string `yaml:"host,omitempty"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
// The index name is used as the collection.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// IngestConfig tunes the upload pipeline.
type IngestConfig struct {
	Namespace    string `yaml:"namespace"`
	BatchSize    int    `yaml:"batch_size"`
	BatchDelayMS int    `yaml:"batch_delay_ms"`
	IDScheme     string `yaml:"id_scheme"`
}

// QueryConfig tunes retrieval.
type QueryConfig struct {
	TopK int `yaml:"top_k"`
}

// RateLimitConfig paces vector store calls.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxRetries        int     `yaml:"max_retries"`
}

// SummarizerConfig selects and configures the summarizer.
type SummarizerConfig struct {
	Type         string `yaml:"type"`
	MaxSentences int    `yaml:"max_sentences"`
}

// ServerConfig configures the web surface.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

// LogConfig configures diagnostics.
type LogConfig struct {
	// Level is quiet, warn, info or debug. Command line flags take precedence.
	Level string `yaml:"level"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Query       QueryConfig       `yaml:"query"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	cfg := AppConfig{Chunker: ChunkerConfig{Overlap: unsetOverlap}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrInvalidConfig, path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./pdfrag.yaml first, then ~/.config/pdfrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/pdfrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "pdfrag.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "pdfrag", "config.yaml"), nil
}

// Default returns a configuration that works offline: local embeddings and an
// on-disk chromem store.
func Default() *AppConfig {
	cfg := &AppConfig{
		Embedder:    EmbedderConfig{Type: "hashing"},
		Chunker:     ChunkerConfig{Overlap: unsetOverlap},
		VectorStore: VectorStoreConfig{Type: "chromem"},
		Summarizer:  SummarizerConfig{Type: "frequency"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	switch cfg.Embedder.Type {
	case "hashing":
		if cfg.Embedder.Hashing == nil {
			cfg.Embedder.Hashing = &HashingEmbedderConfig{}
		}
		if cfg.Embedder.Hashing.Dimension == 0 {
			cfg.Embedder.Hashing.Dimension = 384
		}
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-ada-002"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.MaxRetries == 0 {
			o.MaxRetries = 5
		}
	case "gemini":
		if cfg.Embedder.Gemini == nil {
			cfg.Embedder.Gemini = &GeminiEmbedderConfig{}
		}
		if cfg.Embedder.Gemini.APIKeyEnv == "" {
			cfg.Embedder.Gemini.APIKeyEnv = "GEMINI_API_KEY"
		}
		if cfg.Embedder.Gemini.Model == "" {
			cfg.Embedder.Gemini.Model = "text-embedding-004"
		}
	}

	if cfg.Chunker.Strategy == "" {
		cfg.Chunker.Strategy = "recursive"
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 1000
	}
	if cfg.Chunker.Overlap == unsetOverlap {
		cfg.Chunker.Overlap = cfg.Chunker.ChunkSize / 5
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "chromem"
	}
	if cfg.VectorStore.Index == "" {
		cfg.VectorStore.Index = "pdfrag"
	}
	switch cfg.VectorStore.Type {
	case "chromem":
		if cfg.VectorStore.Chromem == nil {
			cfg.VectorStore.Chromem = &ChromemConfig{}
		}
		if cfg.VectorStore.Chromem.Path == "" {
			cfg.VectorStore.Chromem.Path = "pdfrag.db"
		}
	case "sqlite":
		if cfg.VectorStore.SQLite == nil {
			cfg.VectorStore.SQLite = &SQLiteConfig{}
		}
		if cfg.VectorStore.SQLite.Path == "" {
			cfg.VectorStore.SQLite.Path = "pdfrag.sqlite"
		}
	case "pinecone":
		if cfg.VectorStore.Pinecone == nil {
			cfg.VectorStore.Pinecone = &PineconeConfig{}
		}
		p := cfg.VectorStore.Pinecone
		if p.APIKeyEnv == "" {
			p.APIKeyEnv = "PINECONE_API_KEY"
		}
		if p.ControlURL == "" {
			p.ControlURL = "https://api.pinecone.io"
		}
		if p.TimeoutSecs == 0 {
			p.TimeoutSecs = 30
		}
	case "qdrant":
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		q := cfg.VectorStore.Qdrant
		if q.URL == "" {
			q.URL = "http://localhost:6333"
		}
		if q.APIKeyEnv == "" {
			q.APIKeyEnv = "QDRANT_API_KEY"
		}
		if q.TimeoutSecs == 0 {
			q.TimeoutSecs = 15
		}
	}

	if cfg.Ingest.Namespace == "" {
		cfg.Ingest.Namespace = domain.DefaultNamespace
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 100
	}
	if cfg.Ingest.IDScheme == "" {
		cfg.Ingest.IDScheme = "content"
	}
	if cfg.Query.TopK == 0 {
		cfg.Query.TopK = 5
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 1
	}
	if cfg.RateLimit.MaxRetries == 0 {
		cfg.RateLimit.MaxRetries = 3
	}
	if cfg.Summarizer.Type == "" {
		cfg.Summarizer.Type = "frequency"
	}
	if cfg.Summarizer.MaxSentences == 0 {
		cfg.Summarizer.MaxSentences = 3
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8080"
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 32
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = logger.LevelWarn.String()
	}
}

// Validate reports malformed settings as domain.ErrInvalidConfig and absent
// provider keys as domain.ErrMissingCredentials, before any provider is contacted.
// Sub-sections of the selected providers are defaulted first.
func (c *AppConfig) Validate() error {
	applyConfigDefaults(c)
	switch c.Embedder.Type {
	case "hashing":
		if c.Embedder.Hashing == nil || c.Embedder.Hashing.Dimension <= 0 {
			return fmt.Errorf("%w: embedder.hashing.dimension must be positive", domain.ErrInvalidConfig)
		}
	case "openai":
		if c.EmbedderAPIKey() == "" {
			return fmt.Errorf("%w: set %s for the openai embedder", domain.ErrMissingCredentials, c.Embedder.OpenAI.APIKeyEnv)
		}
	case "gemini":
		if c.EmbedderAPIKey() == "" {
			return fmt.Errorf("%w: set %s for the gemini embedder", domain.ErrMissingCredentials, c.Embedder.Gemini.APIKeyEnv)
		}
	default:
		return fmt.Errorf("%w: unknown embedder %q", domain.ErrInvalidConfig, c.Embedder.Type)
	}

	switch c.Chunker.Strategy {
	case "fixed", "recursive":
	default:
		return fmt.Errorf("%w: unknown chunker strategy %q", domain.ErrInvalidConfig, c.Chunker.Strategy)
	}
	if c.Chunker.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunker.chunk_size must be positive", domain.ErrInvalidConfig)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("%w: chunker.overlap must be in [0, chunk_size)", domain.ErrInvalidConfig)
	}

	if c.VectorStore.Index == "" {
		return fmt.Errorf("%w: vector_store.index is empty", domain.ErrInvalidConfig)
	}
	switch c.VectorStore.Type {
	case "memory", "chromem", "sqlite", "qdrant":
	case "pinecone":
		if c.StoreAPIKey() == "" {
			return fmt.Errorf("%w: set %s for the pinecone store", domain.ErrMissingCredentials, c.VectorStore.Pinecone.APIKeyEnv)
		}
	default:
		return fmt.Errorf("%w: unknown vector store %q", domain.ErrInvalidConfig, c.VectorStore.Type)
	}

	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("%w: ingest.batch_size must be positive", domain.ErrInvalidConfig)
	}
	if c.Ingest.BatchDelayMS < 0 {
		return fmt.Errorf("%w: ingest.batch_delay_ms must not be negative", domain.ErrInvalidConfig)
	}
	switch c.Ingest.IDScheme {
	case "content", "sequential":
	default:
		return fmt.Errorf("%w: unknown ingest.id_scheme %q", domain.ErrInvalidConfig, c.Ingest.IDScheme)
	}
	if c.Query.TopK <= 0 {
		return fmt.Errorf("%w: query.top_k must be positive", domain.ErrInvalidConfig)
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.MaxRetries < 0 {
		return fmt.Errorf("%w: rate_limit values must not be negative", domain.ErrInvalidConfig)
	}
	if c.Summarizer.Type != "frequency" && c.Summarizer.Type != "none" {
		return fmt.Errorf("%w: unknown summarizer %q", domain.ErrInvalidConfig, c.Summarizer.Type)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", domain.ErrInvalidConfig, err)
	}
	return nil
}

// EmbedderAPIKey returns the embedder's API key from the configured env var.
func (c *AppConfig) EmbedderAPIKey() string {
	switch c.Embedder.Type {
	case "openai":
		if c.Embedder.OpenAI != nil {
			return os.Getenv(c.Embedder.OpenAI.APIKeyEnv)
		}
	case "gemini":
		if c.Embedder.Gemini != nil {
			return os.Getenv(c.Embedder.Gemini.APIKeyEnv)
		}
	}
	return ""
}

// StoreAPIKey returns the vector store's API key from the configured env var.
func (c *AppConfig) StoreAPIKey() string {
	switch c.VectorStore.Type {
	case "pinecone":
		if c.VectorStore.Pinecone != nil {
			return os.Getenv(c.VectorStore.Pinecone.APIKeyEnv)
		}
	case "qdrant":
		if c.VectorStore.Qdrant != nil {
			return os.Getenv(c.VectorStore.Qdrant.APIKeyEnv)
		}
	}
	return ""
}
