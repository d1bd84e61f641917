package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the full service configuration. Values are read from
// MEDRAG_-prefixed environment variables, optionally loaded from a .env
// file first.
type Config struct {
	Server    ServerConfig    `envPrefix:"SERVER_"`
	LLM       LLMConfig       `envPrefix:"LLM_"`
	Embedding EmbeddingConfig `envPrefix:"EMBED_"`
	Retrieval RetrievalConfig `envPrefix:"RETRIEVAL_"`
	Rerank    RerankConfig    `envPrefix:"RERANK_"`
	Context   ContextConfig   `envPrefix:"CONTEXT_"`
	Cache     CacheConfig     `envPrefix:"CACHE_"`
	Ingest    IngestConfig    `envPrefix:"INGEST_"`
	Storage   StorageConfig   `envPrefix:"STORAGE_"`
	Log       LogConfig       `envPrefix:"LOG_"`
}

type ServerConfig struct {
	Port        int      `env:"PORT" envDefault:"8000"`
	CORSOrigins []string `env:"CORS_ORIGINS" envDefault:"*"`
}

// LLMConfig selects and configures the answer-generation backend.
// Provider "groq" talks to an OpenAI-compatible cloud endpoint;
// "ollama" uses the local Ollama server also used for embeddings.
type LLMConfig struct {
	Provider string        `env:"PROVIDER" envDefault:"groq"`
	BaseURL  string        `env:"BASE_URL" envDefault:"https://api.groq.com/openai/v1"`
	APIKey   string        `env:"API_KEY"`
	Model    string        `env:"MODEL" envDefault:"llama-3.3-70b-versatile"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"60s"`
}

type EmbeddingConfig struct {
	OllamaBaseURL string        `env:"OLLAMA_BASE_URL" envDefault:"http://localhost:11434"`
	Model         string        `env:"MODEL" envDefault:"nomic-embed-text"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

type RetrievalConfig struct {
	TopK        int     `env:"TOP_K" envDefault:"7"`
	FetchFactor int     `env:"FETCH_FACTOR" envDefault:"4"`
	MMRLambda   float64 `env:"MMR_LAMBDA" envDefault:"0.5"`
}

type RerankConfig struct {
	Enabled bool          `env:"ENABLED" envDefault:"false"`
	Model   string        `env:"MODEL" envDefault:"phi3.5"`
	TopN    int           `env:"TOP_N" envDefault:"3"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"5s"`
}

// ContextConfig bounds the assembled context block. The default is
// roughly a 4K-token budget at 4 chars per token.
type ContextConfig struct {
	MaxChars int `env:"MAX_CHARS" envDefault:"16000"`
}

// CacheConfig controls the answer cache. Strategy is one of "exact",
// "similarity", or "off". Threshold applies to the similarity strategy
// only: a lookup is a hit iff cosine score >= Threshold. TTL of zero
// means entries never expire.
type CacheConfig struct {
	Strategy  string        `env:"STRATEGY" envDefault:"exact"`
	Threshold float64       `env:"THRESHOLD" envDefault:"0.92"`
	TTL       time.Duration `env:"TTL" envDefault:"0"`
}

type IngestConfig struct {
	ChunkSize    int `env:"CHUNK_SIZE" envDefault:"700"`
	ChunkOverlap int `env:"CHUNK_OVERLAP" envDefault:"120"`
}

type StorageConfig struct {
	DataDir string `env:"DATA_DIR" envDefault:"./data"`
}

type LogConfig struct {
	Level string `env:"LEVEL" envDefault:"info"`
}

// Load reads .env (if present) and parses the environment into a Config.
// Missing .env is not an error: in containerized deployments variables
// are set externally.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "MEDRAG_"}); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}

	if err := validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.LLM.Provider {
	case "groq":
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("MEDRAG_LLM_API_KEY is required when provider is groq")
		}
	case "ollama":
	default:
		return fmt.Errorf("unknown LLM provider %q (want groq or ollama)", cfg.LLM.Provider)
	}

	switch cfg.Cache.Strategy {
	case "exact", "similarity", "off":
	default:
		return fmt.Errorf("unknown cache strategy %q (want exact, similarity, or off)", cfg.Cache.Strategy)
	}

	if cfg.Retrieval.TopK < 1 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be at least 1, got %d", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.FetchFactor < 1 {
		return fmt.Errorf("RETRIEVAL_FETCH_FACTOR must be at least 1, got %d", cfg.Retrieval.FetchFactor)
	}
	if cfg.Retrieval.MMRLambda < 0 || cfg.Retrieval.MMRLambda > 1 {
		return fmt.Errorf("RETRIEVAL_MMR_LAMBDA must be in [0,1], got %g", cfg.Retrieval.MMRLambda)
	}
	if cfg.Context.MaxChars < 1 {
		return fmt.Errorf("CONTEXT_MAX_CHARS must be at least 1, got %d", cfg.Context.MaxChars)
	}
	if cfg.Cache.Threshold < -1 || cfg.Cache.Threshold > 1 {
		return fmt.Errorf("CACHE_THRESHOLD must be a cosine score in [-1,1], got %g", cfg.Cache.Threshold)
	}
	if cfg.Ingest.ChunkOverlap >= cfg.Ingest.ChunkSize {
		return fmt.Errorf("INGEST_CHUNK_OVERLAP (%d) must be smaller than INGEST_CHUNK_SIZE (%d)",
			cfg.Ingest.ChunkOverlap, cfg.Ingest.ChunkSize)
	}

	return nil
}
