package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/finargo/corpusbank/rag"
	"github.com/finargo/corpusbank/rag/engine"
	"github.com/joho/godotenv"
	"github.com/mudler/xlog"
)

// Supported dense vector backends.
const (
	backendChromem  = "chromem"
	backendVecstore = "vecstore"
	backendPostgres = "postgres"
)

// Config holds every runtime knob, read from the environment with an
// optional .env file.
type Config struct {
	ListenAddress    string
	CollectionDBPath string

	OpenAIBaseURL       string
	OpenAIAPIKey        string
	EmbeddingModel      string
	EmbeddingDimensions int
	LLMModel            string

	VectorBackend  string
	VecstoreURL    string
	VecstoreAPIKey string
	DatabaseURL    string

	RerankBaseURL string
	RerankAPIKey  string
	RerankModel   string

	ChunkTokens   int
	OverlapTokens int
	RRFK          int
	Retrieval     engine.RetrievalOptions

	GitPrivateKey string
}

func loadConfig() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		xlog.Info("Loaded configuration from .env")
	}

	config := &Config{
		ListenAddress:    envStr("LISTEN_ADDRESS", ":8080"),
		CollectionDBPath: envStr("COLLECTION_DB_PATH", "collections"),

		OpenAIBaseURL:       envStr("OPENAI_BASE_URL", ""),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		EmbeddingModel:      envStr("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 1536),
		LLMModel:            envStr("LLM_MODEL", "gpt-4o-mini"),

		VectorBackend:  envStr("VECTOR_BACKEND", backendChromem),
		VecstoreURL:    envStr("VECSTORE_URL", ""),
		VecstoreAPIKey: envStr("VECSTORE_API_KEY", ""),
		DatabaseURL:    envStr("DATABASE_URL", ""),

		RerankBaseURL: envStr("RERANK_BASE_URL", ""),
		RerankAPIKey:  envStr("RERANK_API_KEY", ""),
		RerankModel:   envStr("RERANK_MODEL", "rerank-english-v3.0"),

		ChunkTokens:   envInt("CHUNK_TOKENS", 0),
		OverlapTokens: envInt("OVERLAP_TOKENS", 0),
		RRFK:          envInt("RRF_K", 0),
		Retrieval: engine.RetrievalOptions{
			TopKSparse:    envInt("SPARSE_TOP_K", 0),
			TopKDense:     envInt("DENSE_TOP_K", 0),
			RerankTopN:    envInt("RERANK_TOP_N", 0),
			EmbedTimeout:  envDuration("EMBED_TIMEOUT", 0),
			SearchTimeout: envDuration("SEARCH_TIMEOUT", 0),
			RerankTimeout: envDuration("RERANK_TIMEOUT", 0),
		},

		GitPrivateKey: envStr("GIT_PRIVATE_KEY", ""),
	}

	switch config.VectorBackend {
	case backendChromem:
	case backendVecstore:
		if config.VecstoreURL == "" {
			return nil, fmt.Errorf("VECTOR_BACKEND=vecstore requires VECSTORE_URL")
		}
	case backendPostgres:
		if config.DatabaseURL == "" {
			return nil, fmt.Errorf("VECTOR_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return nil, fmt.Errorf("unknown VECTOR_BACKEND %q", config.VectorBackend)
	}
	if config.EmbeddingDimensions <= 0 {
		return nil, fmt.Errorf("EMBEDDING_DIMENSIONS must be positive")
	}

	return config, nil
}

// collectionOptions binds the chunking and retrieval knobs passed to
// every collection constructor. Zero values pick package defaults.
func (c *Config) collectionOptions() rag.CollectionOptions {
	return rag.CollectionOptions{
		ChunkTokens:   c.ChunkTokens,
		OverlapTokens: c.OverlapTokens,
		RRFK:          c.RRFK,
		Retrieval:     c.Retrieval,
	}
}

func envStr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		xlog.Warn("Ignoring invalid integer in environment", "key", key, "value", value)
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		xlog.Warn("Ignoring invalid duration in environment", "key", key, "value", value)
		return fallback
	}
	return parsed
}
