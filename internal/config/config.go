// Package config loads and validates application configuration from
// environment variables. Every tunable that shapes a routing or retrieval
// decision lives here so deployments can adjust thresholds without code
// changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// APIKeyHash is the argon2id hash of the static API key protecting the
	// HTTP API. Empty disables auth (dev mode).
	APIKeyHash string

	// OpenAI settings, shared by the classifier and the embedder.
	OpenAIAPIKey string

	// Classifier settings.
	ClassifierProvider string // "openai", "static", or "auto"
	ClassifierModel    string
	ClassifyTimeout    time.Duration // Per-call budget; on expiry the turn degrades to UNKNOWN/0.0.

	// Routing thresholds.
	StrongConfidence float64 // At or above: the signal may steer and even override a sticky route.
	MediumConfidence float64 // At or above (fresh conversation): route on the classified category.
	ContextWindow    int     // Turns inspected for "recent agent context".
	MaxHistory       int     // Most recent turns passed to the classifier.

	// Embedding settings.
	EmbeddingProvider   string // "openai" or "noop"
	EmbeddingModel      string
	EmbeddingDimensions int // Vector dimensions; must match the chosen model's output.

	// Qdrant settings. Empty URL disables the similarity index: every
	// retrieval degrades to an insufficient-evidence verdict.
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
	RetrieveTimeout  time.Duration // Per-call budget for one index round trip.

	// Retrieval gate settings.
	GateFetchK         int     // Candidates considered before filtering; higher widens coverage at more index cost.
	GateTopK           int     // Maximum chunks returned after dedup.
	GateLambda         float64 // Relevance weight of the diverse fetch: 1.0 pure relevance, lower trades relevance for variety.
	GateMinHits        int     // Minimum chunk count before evidence can be called sufficient.
	GateScoreThreshold float64 // Minimum mean raw score; raises or lowers the bar for declaring sufficient evidence.

	// Session store settings. Empty path selects the in-memory store.
	SessionDBPath string

	// Ingestion settings.
	ChunkSize    int // Target chunk size in bytes.
	ChunkOverlap int // Bytes carried over between adjacent chunks.

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Rate limiting.
	RateLimitEnabled bool
	RateLimitRPS     int
	RateLimitBurst   int

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
// All parse failures are collected so one run reports every bad variable.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	port, err := envInt("MADOGUCHI_PORT", 8080)
	collect(err)
	readTimeout, err := envDuration("MADOGUCHI_READ_TIMEOUT", 30*time.Second)
	collect(err)
	writeTimeout, err := envDuration("MADOGUCHI_WRITE_TIMEOUT", 30*time.Second)
	collect(err)
	classifyTimeout, err := envDuration("MADOGUCHI_CLASSIFY_TIMEOUT", 10*time.Second)
	collect(err)
	retrieveTimeout, err := envDuration("MADOGUCHI_RETRIEVE_TIMEOUT", 5*time.Second)
	collect(err)
	strongConf, err := envFloat("MADOGUCHI_STRONG_CONFIDENCE", 0.7)
	collect(err)
	mediumConf, err := envFloat("MADOGUCHI_MEDIUM_CONFIDENCE", 0.5)
	collect(err)
	contextWindow, err := envInt("MADOGUCHI_CONTEXT_WINDOW", 4)
	collect(err)
	maxHistory, err := envInt("MADOGUCHI_MAX_HISTORY", 10)
	collect(err)
	embedDims, err := envInt("MADOGUCHI_EMBEDDING_DIMENSIONS", 1536)
	collect(err)
	fetchK, err := envInt("MADOGUCHI_GATE_FETCH_K", 24)
	collect(err)
	topK, err := envInt("MADOGUCHI_GATE_TOP_K", 8)
	collect(err)
	lambda, err := envFloat("MADOGUCHI_GATE_LAMBDA", 0.7)
	collect(err)
	minHits, err := envInt("MADOGUCHI_GATE_MIN_HITS", 3)
	collect(err)
	scoreThreshold, err := envFloat("MADOGUCHI_GATE_SCORE_THRESHOLD", 0.5)
	collect(err)
	chunkSize, err := envInt("MADOGUCHI_CHUNK_SIZE", 1000)
	collect(err)
	chunkOverlap, err := envInt("MADOGUCHI_CHUNK_OVERLAP", 200)
	collect(err)
	otelInsecure, err := envBool("MADOGUCHI_OTEL_INSECURE", false)
	collect(err)
	rlEnabled, err := envBool("MADOGUCHI_RATE_LIMIT_ENABLED", true)
	collect(err)
	rlRPS, err := envInt("MADOGUCHI_RATE_LIMIT_RPS", 50)
	collect(err)
	rlBurst, err := envInt("MADOGUCHI_RATE_LIMIT_BURST", 100)
	collect(err)
	maxBody, err := envInt("MADOGUCHI_MAX_REQUEST_BODY_BYTES", 1*1024*1024)
	collect(err)

	cfg := Config{
		Port:                port,
		ReadTimeout:         readTimeout,
		WriteTimeout:        writeTimeout,
		APIKeyHash:          envStr("MADOGUCHI_API_KEY_HASH", ""),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		ClassifierProvider:  envStr("MADOGUCHI_CLASSIFIER_PROVIDER", "auto"),
		ClassifierModel:     envStr("MADOGUCHI_CLASSIFIER_MODEL", "gpt-4o-mini"),
		ClassifyTimeout:     classifyTimeout,
		StrongConfidence:    strongConf,
		MediumConfidence:    mediumConf,
		ContextWindow:       contextWindow,
		MaxHistory:          maxHistory,
		EmbeddingProvider:   envStr("MADOGUCHI_EMBEDDING_PROVIDER", "auto"),
		EmbeddingModel:      envStr("MADOGUCHI_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: embedDims,
		QdrantURL:           envStr("QDRANT_URL", ""),
		QdrantAPIKey:        envStr("QDRANT_API_KEY", ""),
		QdrantCollection:    envStr("MADOGUCHI_QDRANT_COLLECTION", "kb_chunks"),
		RetrieveTimeout:     retrieveTimeout,
		GateFetchK:          fetchK,
		GateTopK:            topK,
		GateLambda:          lambda,
		GateMinHits:         minHits,
		GateScoreThreshold:  scoreThreshold,
		SessionDBPath:       envStr("MADOGUCHI_SESSION_DB", ""),
		ChunkSize:           chunkSize,
		ChunkOverlap:        chunkOverlap,
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        otelInsecure,
		ServiceName:         envStr("OTEL_SERVICE_NAME", "madoguchi"),
		RateLimitEnabled:    rlEnabled,
		RateLimitRPS:        rlRPS,
		RateLimitBurst:      rlBurst,
		LogLevel:            envStr("MADOGUCHI_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(maxBody),
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants that env parsing cannot.
func (c Config) Validate() error {
	if c.StrongConfidence < 0 || c.StrongConfidence > 1 {
		return fmt.Errorf("config: MADOGUCHI_STRONG_CONFIDENCE must be in [0,1]")
	}
	if c.MediumConfidence < 0 || c.MediumConfidence > c.StrongConfidence {
		return fmt.Errorf("config: MADOGUCHI_MEDIUM_CONFIDENCE must be in [0, strong]")
	}
	if c.ContextWindow <= 0 {
		return fmt.Errorf("config: MADOGUCHI_CONTEXT_WINDOW must be positive")
	}
	if c.GateLambda < 0 || c.GateLambda > 1 {
		return fmt.Errorf("config: MADOGUCHI_GATE_LAMBDA must be in [0,1]")
	}
	if c.GateTopK <= 0 || c.GateFetchK < c.GateTopK {
		return fmt.Errorf("config: MADOGUCHI_GATE_FETCH_K must be >= MADOGUCHI_GATE_TOP_K > 0")
	}
	if c.GateMinHits <= 0 {
		return fmt.Errorf("config: MADOGUCHI_GATE_MIN_HITS must be positive")
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("config: MADOGUCHI_EMBEDDING_DIMENSIONS must be positive")
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("config: MADOGUCHI_CHUNK_OVERLAP must be smaller than MADOGUCHI_CHUNK_SIZE")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: MADOGUCHI_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid float", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
