package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP listener and the static image root.
type ServerConfig struct {
	Port        string `yaml:"port"`
	BaseURL     string `yaml:"base_url"`     // public prefix used to build image URLs
	StaticDir   string `yaml:"static_dir"`   // served under /static
	ImageSubdir string `yaml:"image_subdir"` // relative to StaticDir
}

// StorageConfig holds the on-disk working locations.
type StorageConfig struct {
	UploadDir      string `yaml:"upload_dir"`
	IndexStateFile string `yaml:"index_state_file"`
}

// PDFConfig configures page extraction.
type PDFConfig struct {
	DPI            int    `yaml:"dpi"`
	ExtractObjects bool   `yaml:"extract_objects"`
	LicenseKey     string `yaml:"license_key"`
}

// ModelConfig selects a provider and model for one model role.
type ModelConfig struct {
	Provider string `yaml:"provider"` // "gemini" or "ollama"
	Model    string `yaml:"model"`
}

// LLMConfig groups the three generation roles plus the vision retry policy.
type LLMConfig struct {
	Answer          ModelConfig   `yaml:"answer"`
	Enrich          ModelConfig   `yaml:"enrich"`
	Vision          ModelConfig   `yaml:"vision"`
	GeminiAPIKey    string        `yaml:"gemini_api_key"`
	OllamaURL       string        `yaml:"ollama_url"`
	VisionTimeout   time.Duration `yaml:"vision_timeout"`
	VisionAttempts  int           `yaml:"vision_attempts"`
	VisionRetryWait time.Duration `yaml:"vision_retry_wait"`
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // "ollama" or "gemini"
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
}

// RerankConfig selects the cross-encoder backend.
type RerankConfig struct {
	Provider string        `yaml:"provider"` // "tei", "cohere" or "none"
	URL      string        `yaml:"url"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RetrievalConfig sizes the two retrieval stages.
type RetrievalConfig struct {
	RecallK int `yaml:"recall_k"`
	TopK    int `yaml:"top_k"`
}

// IngestConfig sizes the fusion worker pool and record splitting.
type IngestConfig struct {
	Workers      int           `yaml:"workers"`
	ChunkSize    int           `yaml:"chunk_size"`
	ChunkOverlap int           `yaml:"chunk_overlap"`
	Watch        bool          `yaml:"watch"`
	WatchDelay   time.Duration `yaml:"watch_delay"`
}

// ChromaConfig contains connection details for a Chroma server.
type ChromaConfig struct {
	URL string `yaml:"url"`
}

// MilvusConfig contains connection details for a Milvus server.
type MilvusConfig struct {
	Address    string `yaml:"address"`
	MetricType string `yaml:"metric_type"`
}

// VectorStoreConfig selects and configures the vector index backend.
type VectorStoreConfig struct {
	Provider         string       `yaml:"provider"` // "chroma", "milvus" or "memory"
	CollectionPrefix string       `yaml:"collection_prefix"`
	Chroma           ChromaConfig `yaml:"chroma"`
	Milvus           MilvusConfig `yaml:"milvus"`
}

// CacheConfig configures the optional Redis answer cache.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// LoggerConfig defines the log level and output format.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// AppConfig is the root of config.yaml.
type AppConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	PDF         PDFConfig         `yaml:"pdf"`
	LLM         LLMConfig         `yaml:"llm"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Rerank      RerankConfig      `yaml:"rerank"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Ingest      IngestConfig      `yaml:"ingest"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Cache       CacheConfig       `yaml:"cache"`
	Logger      LoggerConfig      `yaml:"logger"`
}

// Load reads the YAML config at path. A missing file yields the defaults.
// Values from the environment (and a .env file, if present) override the file.
func Load(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables.")
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		log.Printf("Config file '%s' not found, using defaults.", path)
	default:
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	applyDefaults(cfg)
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:        "8000",
			BaseURL:     "http://127.0.0.1:8000",
			StaticDir:   "static",
			ImageSubdir: "images",
		},
		Storage: StorageConfig{
			UploadDir:      "uploaded_pdfs",
			IndexStateFile: "index_state.json",
		},
		PDF: PDFConfig{DPI: 200, ExtractObjects: true},
		LLM: LLMConfig{
			Answer:          ModelConfig{Provider: "gemini", Model: "gemini-2.5-flash"},
			Enrich:          ModelConfig{Provider: "ollama", Model: "llama3.1"},
			Vision:          ModelConfig{Provider: "ollama", Model: "llava"},
			OllamaURL:       "http://localhost:11434",
			VisionTimeout:   120 * time.Second,
			VisionAttempts:  3,
			VisionRetryWait: 5 * time.Second,
		},
		Embedding: EmbeddingConfig{Provider: "ollama", Model: "nomic-embed-text:v1.5", BatchSize: 32},
		Rerank: RerankConfig{
			Provider: "tei",
			URL:      "http://localhost:8080",
			Model:    "BAAI/bge-reranker-base",
			Timeout:  60 * time.Second,
		},
		Retrieval: RetrievalConfig{RecallK: 15, TopK: 5},
		Ingest: IngestConfig{
			Workers:      16,
			ChunkSize:    1000,
			ChunkOverlap: 100,
			WatchDelay:   2 * time.Second,
		},
		VectorStore: VectorStoreConfig{
			Provider:         "chroma",
			CollectionPrefix: "pages",
			Chroma:           ChromaConfig{URL: "http://localhost:8001"},
			Milvus:           MilvusConfig{Address: "localhost:19530", MetricType: "COSINE"},
		},
		Cache:  CacheConfig{Address: "localhost:6379", TTL: 10 * time.Minute},
		Logger: LoggerConfig{Level: "info", Format: "json"},
	}
}

// applyDefaults fills zero values left by a partial config file.
func applyDefaults(cfg *AppConfig) {
	def := Default()
	if cfg.Server.Port == "" {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = def.Server.BaseURL
	}
	if cfg.Server.StaticDir == "" {
		cfg.Server.StaticDir = def.Server.StaticDir
	}
	if cfg.Server.ImageSubdir == "" {
		cfg.Server.ImageSubdir = def.Server.ImageSubdir
	}
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = def.Storage.UploadDir
	}
	if cfg.Storage.IndexStateFile == "" {
		cfg.Storage.IndexStateFile = def.Storage.IndexStateFile
	}
	if cfg.PDF.DPI == 0 {
		cfg.PDF.DPI = def.PDF.DPI
	}
	if cfg.LLM.VisionAttempts == 0 {
		cfg.LLM.VisionAttempts = def.LLM.VisionAttempts
	}
	if cfg.LLM.VisionTimeout == 0 {
		cfg.LLM.VisionTimeout = def.LLM.VisionTimeout
	}
	if cfg.LLM.OllamaURL == "" {
		cfg.LLM.OllamaURL = def.LLM.OllamaURL
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = def.Embedding.BatchSize
	}
	if cfg.Rerank.Timeout == 0 {
		cfg.Rerank.Timeout = def.Rerank.Timeout
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = def.Ingest.Workers
	}
	if cfg.Ingest.WatchDelay == 0 {
		cfg.Ingest.WatchDelay = def.Ingest.WatchDelay
	}
	if cfg.VectorStore.CollectionPrefix == "" {
		cfg.VectorStore.CollectionPrefix = def.VectorStore.CollectionPrefix
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = def.Cache.TTL
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = def.Logger.Level
	}
}

func applyEnv(cfg *AppConfig) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Server.Port, "VISIONDOC_PORT")
	setString(&cfg.Server.BaseURL, "VISIONDOC_BASE_URL")
	setString(&cfg.PDF.LicenseKey, "UNIDOC_LICENSE_KEY")
	setString(&cfg.LLM.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&cfg.LLM.OllamaURL, "OLLAMA_HOST")
	setString(&cfg.Rerank.APIKey, "RERANK_API_KEY")
	setString(&cfg.VectorStore.Chroma.URL, "CHROMA_URL")
	setString(&cfg.Cache.Address, "REDIS_ADDR")
	if v := os.Getenv("VISIONDOC_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.TopK = n
		}
	}
}

// Validate reports the first inconsistent setting.
func (c *AppConfig) Validate() error {
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.RecallK < c.Retrieval.TopK {
		return fmt.Errorf("retrieval.recall_k (%d) must be >= retrieval.top_k (%d)", c.Retrieval.RecallK, c.Retrieval.TopK)
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be positive, got %d", c.Ingest.Workers)
	}
	if c.Ingest.ChunkSize > 0 && c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be smaller than ingest.chunk_size (%d)", c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if c.LLM.VisionAttempts <= 0 {
		return fmt.Errorf("llm.vision_attempts must be positive, got %d", c.LLM.VisionAttempts)
	}
	for role, m := range map[string]ModelConfig{"answer": c.LLM.Answer, "enrich": c.LLM.Enrich, "vision": c.LLM.Vision} {
		if m.Provider != "gemini" && m.Provider != "ollama" {
			return fmt.Errorf("llm.%s.provider: unsupported provider %q", role, m.Provider)
		}
	}
	switch c.Embedding.Provider {
	case "ollama", "gemini":
	default:
		return fmt.Errorf("embedding.provider: unsupported provider %q", c.Embedding.Provider)
	}
	switch c.Rerank.Provider {
	case "tei", "cohere", "none":
	default:
		return fmt.Errorf("rerank.provider: unsupported provider %q", c.Rerank.Provider)
	}
	switch c.VectorStore.Provider {
	case "chroma", "milvus", "memory":
	default:
		return fmt.Errorf("vector_store.provider: unsupported provider %q", c.VectorStore.Provider)
	}
	return nil
}

// ImageDir is the directory page renders and extracted objects are written to.
func (c *AppConfig) ImageDir() string {
	return c.Server.StaticDir + "/" + c.Server.ImageSubdir
}
