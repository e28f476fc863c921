// Package config loads the newsagent configuration from an optional YAML
// file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Yates-Labs/newsagent/internal/chunk"
	"github.com/Yates-Labs/newsagent/internal/delivery"
	"github.com/Yates-Labs/newsagent/internal/narrative"
	"github.com/Yates-Labs/newsagent/internal/rag"
	"github.com/Yates-Labs/newsagent/internal/retry"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Vector store types
const (
	StoreMilvus = "milvus"
	StoreMemory = "memory"
)

// Secret sources
const (
	SecretNone = "none"
	SecretEnv  = "env"
	SecretAWS  = "aws"
)

// Dead letter sink types
const (
	DeadLetterFile = "file"
	DeadLetterSQS  = "sqs"
)

// ServerConfig configures the chat endpoint.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// SecretConfig locates the vector index secret.
type SecretConfig struct {
	Source string `yaml:"source"`
	ID     string `yaml:"id"`
	Region string `yaml:"region"`
}

// EmbeddingConfig configures the embeddings endpoint.
type EmbeddingConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Dimension     int    `yaml:"dimension"`
	QueryPrefix   string `yaml:"query_prefix"`
	PassagePrefix string `yaml:"passage_prefix"`
}

// RerankConfig configures the rerank endpoint.
type RerankConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Timeout           time.Duration `yaml:"timeout"`
}

// MilvusConfig configures the Milvus collection.
type MilvusConfig struct {
	Address        string `yaml:"address"`
	Collection     string `yaml:"collection"`
	M              int    `yaml:"m"`
	EfConstruction int    `yaml:"ef_construction"`
	SearchEf       int    `yaml:"search_ef"`
}

// VectorStoreConfig selects the vector store.
type VectorStoreConfig struct {
	Type   string       `yaml:"type"`
	Milvus MilvusConfig `yaml:"milvus"`
}

// ChunkConfig configures the splitter.
type ChunkConfig struct {
	Size      int    `yaml:"size"`
	Overlap   int    `yaml:"overlap"`
	Separator string `yaml:"separator"`
}

// RouterConfig configures namespace classification. Reranking is set
// separately for questions and for ingested summaries.
type RouterConfig struct {
	TopK         int  `yaml:"top_k"`
	QueryRerank  bool `yaml:"query_rerank"`
	IngestRerank bool `yaml:"ingest_rerank"`
	PointLookup  bool `yaml:"point_lookup"`
	// References is a JSONL file of router references. The in-memory store
	// is seeded from it, or from the built-in set when empty, at startup.
	References string `yaml:"references"`
}

// RetrievalConfig configures context retrieval.
type RetrievalConfig struct {
	TopK       int  `yaml:"top_k"`
	RerankTopN int  `yaml:"rerank_top_n"`
	Rerank     bool `yaml:"rerank"`
}

// RetryConfig configures retries of rate-limited calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// LLMConfig configures text generation.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// DeadLetterConfig selects the dead letter sink.
type DeadLetterConfig struct {
	Type     string `yaml:"type"`
	Path     string `yaml:"path"`
	QueueURL string `yaml:"queue_url"`
}

// KinesisConfig configures the stream source.
type KinesisConfig struct {
	Stream        string        `yaml:"stream"`
	Region        string        `yaml:"region"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	StartAtLatest bool          `yaml:"start_at_latest"`
	CheckpointDir string        `yaml:"checkpoint_dir"`
}

// IngestConfig configures batch delivery.
type IngestConfig struct {
	BatchSize             int              `yaml:"batch_size"`
	ParallelizationFactor int              `yaml:"parallelization_factor"`
	MaxRetries            int              `yaml:"max_retries"`
	RedeliveryDelay       time.Duration    `yaml:"redelivery_delay"`
	DeadLetter            DeadLetterConfig `yaml:"dead_letter"`
	Kinesis               KinesisConfig    `yaml:"kinesis"`
}

// Config is the root configuration.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	Server      ServerConfig      `yaml:"server"`
	Secret      SecretConfig      `yaml:"secret"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Rerank      RerankConfig      `yaml:"rerank"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Chunk       ChunkConfig       `yaml:"chunk"`
	Router      RouterConfig      `yaml:"router"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Retry       RetryConfig       `yaml:"retry"`
	LLM         LLMConfig         `yaml:"llm"`
	Ingest      IngestConfig      `yaml:"ingest"`
}

// Default returns the configuration of the reference deployment.
func Default() *Config {
	embedder := rag.DefaultEmbedderConfig()
	milvus := rag.DefaultMilvusConfig()
	rerank := rag.DefaultRerankConfig()
	chunks := chunk.DefaultConfig()
	router := rag.DefaultRouterConfig()
	retrieval := rag.DefaultRetrieverConfig()
	llm := narrative.DefaultLLMConfig()
	batches := delivery.DefaultConfig()

	return &Config{
		LogLevel: "info",
		Server:   ServerConfig{Address: ":8080"},
		Secret:   SecretConfig{Source: SecretNone},
		Embedding: EmbeddingConfig{
			BaseURL:       embedder.BaseURL,
			Model:         embedder.Model,
			Dimension:     embedder.Dimension,
			QueryPrefix:   embedder.QueryPrefix,
			PassagePrefix: embedder.PassagePrefix,
		},
		Rerank: RerankConfig{
			BaseURL:           "http://localhost:7997",
			Model:             rerank.Model,
			RequestsPerMinute: rerank.RequestsPerMinute,
			Timeout:           rerank.Timeout,
		},
		VectorStore: VectorStoreConfig{
			Type: StoreMilvus,
			Milvus: MilvusConfig{
				Address:        milvus.Address,
				Collection:     milvus.CollectionName,
				M:              milvus.M,
				EfConstruction: milvus.EfConstruction,
				SearchEf:       milvus.SearchEf,
			},
		},
		Chunk: ChunkConfig{Size: chunks.Size, Overlap: chunks.Overlap, Separator: chunks.Separator},
		Router: RouterConfig{
			TopK:         router.TopK,
			QueryRerank:  true,
			IngestRerank: false,
			PointLookup:  router.PointLookup,
		},
		Retrieval: RetrievalConfig{
			TopK:       retrieval.TopK,
			RerankTopN: retrieval.RerankTopN,
			Rerank:     retrieval.Rerank,
		},
		Retry: RetryConfig{MaxAttempts: 5, BaseDelay: time.Second},
		LLM: LLMConfig{
			Provider:    llm.Provider,
			BaseURL:     llm.BaseURL,
			Model:       llm.Model,
			Temperature: llm.Temperature,
			MaxTokens:   llm.MaxTokens,
		},
		Ingest: IngestConfig{
			BatchSize:             batches.BatchSize,
			ParallelizationFactor: batches.ParallelizationFactor,
			MaxRetries:            batches.MaxRetries,
			RedeliveryDelay:       batches.RedeliveryDelay,
			DeadLetter:            DeadLetterConfig{Type: DeadLetterFile, Path: "dead-letter.jsonl"},
			Kinesis:               KinesisConfig{PollInterval: time.Second, CheckpointDir: ".newsagent/checkpoints"},
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path or a missing file yields the
// defaults. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("%w: parsing %s: %w", ErrInvalidConfig, path, err)
			}
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LOG_LEVEL":          &cfg.LogLevel,
		"SERVER_ADDRESS":     &cfg.Server.Address,
		"SECRET_SOURCE":      &cfg.Secret.Source,
		"SECRET_ID":          &cfg.Secret.ID,
		"AWS_REGION":         &cfg.Secret.Region,
		"EMBEDDING_BASE_URL": &cfg.Embedding.BaseURL,
		"EMBEDDING_API_KEY":  &cfg.Embedding.APIKey,
		"EMBEDDING_MODEL":    &cfg.Embedding.Model,
		"RERANK_BASE_URL":    &cfg.Rerank.BaseURL,
		"RERANK_API_KEY":     &cfg.Rerank.APIKey,
		"RERANK_MODEL":       &cfg.Rerank.Model,
		"VECTOR_STORE_TYPE":  &cfg.VectorStore.Type,
		"MILVUS_ADDRESS":     &cfg.VectorStore.Milvus.Address,
		"MILVUS_COLLECTION":  &cfg.VectorStore.Milvus.Collection,
		"LLM_PROVIDER":       &cfg.LLM.Provider,
		"LLM_BASE_URL":       &cfg.LLM.BaseURL,
		"LLM_MODEL":          &cfg.LLM.Model,
		"OPENAI_API_KEY":     &cfg.LLM.APIKey,
		"DEAD_LETTER_TYPE":   &cfg.Ingest.DeadLetter.Type,
		"DEAD_LETTER_PATH":   &cfg.Ingest.DeadLetter.Path,
		"DLQ_QUEUE_URL":      &cfg.Ingest.DeadLetter.QueueURL,
		"KINESIS_STREAM":     &cfg.Ingest.Kinesis.Stream,
		"CHECKPOINT_DIR":     &cfg.Ingest.Kinesis.CheckpointDir,
		"ROUTER_REFERENCES":  &cfg.Router.References,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"EMBEDDING_DIMENSION":    &cfg.Embedding.Dimension,
		"BATCH_SIZE":             &cfg.Ingest.BatchSize,
		"PARALLELIZATION_FACTOR": &cfg.Ingest.ParallelizationFactor,
		"MAX_RETRIES":            &cfg.Ingest.MaxRetries,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
		}
		*dst = n
	}

	// The embedding key falls back to the OpenAI key when both point at OpenAI
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
	return nil
}

// Validate checks every section and wraps ErrInvalidConfig with the
// offending field.
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, fmt.Sprintf(format, args...))
	}

	switch c.Secret.Source {
	case SecretNone, SecretEnv:
	case SecretAWS:
		if c.Secret.ID == "" {
			return invalid("secret.id", "required for the aws source")
		}
	default:
		return invalid("secret.source", "unknown source %q", c.Secret.Source)
	}

	if c.Embedding.Model == "" {
		return invalid("embedding.model", "required")
	}
	if c.Embedding.Dimension <= 0 {
		return invalid("embedding.dimension", "must be positive, got %d", c.Embedding.Dimension)
	}

	switch c.VectorStore.Type {
	case StoreMemory:
	case StoreMilvus:
		if c.VectorStore.Milvus.Collection == "" {
			return invalid("vector_store.milvus.collection", "required")
		}
	default:
		return invalid("vector_store.type", "unknown type %q", c.VectorStore.Type)
	}

	if err := c.ChunkConfig().Validate(); err != nil {
		return invalid("chunk", "%v", err)
	}

	if c.Router.TopK <= 0 {
		return invalid("router.top_k", "must be positive, got %d", c.Router.TopK)
	}
	if c.Retrieval.TopK <= 0 {
		return invalid("retrieval.top_k", "must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.RerankTopN <= 0 || c.Retrieval.RerankTopN > c.Retrieval.TopK {
		return invalid("retrieval.rerank_top_n", "must be in [1, %d], got %d", c.Retrieval.TopK, c.Retrieval.RerankTopN)
	}
	if c.UsesReranker() {
		if c.Rerank.BaseURL == "" {
			return invalid("rerank.base_url", "required while reranking is enabled")
		}
		if c.Rerank.RequestsPerMinute <= 0 {
			return invalid("rerank.requests_per_minute", "must be positive, got %d", c.Rerank.RequestsPerMinute)
		}
	}
	if c.Retry.MaxAttempts <= 0 {
		return invalid("retry.max_attempts", "must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay <= 0 {
		return invalid("retry.base_delay", "must be positive, got %s", c.Retry.BaseDelay)
	}

	switch c.LLM.Provider {
	case "openai", "langchain":
	default:
		return invalid("llm.provider", "unknown provider %q", c.LLM.Provider)
	}
	if c.LLM.MaxTokens <= 0 {
		return invalid("llm.max_tokens", "must be positive, got %d", c.LLM.MaxTokens)
	}

	if err := c.DeliveryConfig().Validate(); err != nil {
		return invalid("ingest", "%v", err)
	}
	switch c.Ingest.DeadLetter.Type {
	case DeadLetterFile:
		if c.Ingest.DeadLetter.Path == "" {
			return invalid("ingest.dead_letter.path", "required for the file sink")
		}
	case DeadLetterSQS:
		if c.Ingest.DeadLetter.QueueURL == "" {
			return invalid("ingest.dead_letter.queue_url", "required for the sqs sink")
		}
	default:
		return invalid("ingest.dead_letter.type", "unknown type %q", c.Ingest.DeadLetter.Type)
	}
	return nil
}

// UsesReranker reports whether any stage needs the rerank endpoint.
func (c *Config) UsesReranker() bool {
	return c.Router.QueryRerank || c.Router.IngestRerank || c.Retrieval.Rerank
}

// RetryPolicy returns the policy for rate-limited calls.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		Backoff:     retry.Exponential(c.Retry.BaseDelay),
		Retryable:   rag.IsRateLimited,
	}
}

// EmbedderConfig converts the embedding section.
func (c *Config) EmbedderConfig() rag.EmbedderConfig {
	return rag.EmbedderConfig{
		BaseURL:       c.Embedding.BaseURL,
		APIKey:        c.Embedding.APIKey,
		Model:         c.Embedding.Model,
		Dimension:     c.Embedding.Dimension,
		QueryPrefix:   c.Embedding.QueryPrefix,
		PassagePrefix: c.Embedding.PassagePrefix,
		Retry:         c.RetryPolicy(),
	}
}

// RerankConfig converts the rerank section.
func (c *Config) RerankConfig() rag.RerankConfig {
	return rag.RerankConfig{
		BaseURL:           c.Rerank.BaseURL,
		APIKey:            c.Rerank.APIKey,
		Model:             c.Rerank.Model,
		RequestsPerMinute: c.Rerank.RequestsPerMinute,
		Timeout:           c.Rerank.Timeout,
		Retry:             c.RetryPolicy(),
	}
}

// MilvusConfig converts the Milvus section. apiKey comes from the index secret.
func (c *Config) MilvusConfig(address, apiKey string) rag.MilvusConfig {
	if address == "" {
		address = c.VectorStore.Milvus.Address
	}
	return rag.MilvusConfig{
		Address:        address,
		APIKey:         apiKey,
		CollectionName: c.VectorStore.Milvus.Collection,
		Dimension:      c.Embedding.Dimension,
		M:              c.VectorStore.Milvus.M,
		EfConstruction: c.VectorStore.Milvus.EfConstruction,
		SearchEf:       c.VectorStore.Milvus.SearchEf,
	}
}

// ChunkConfig converts the chunk section.
func (c *Config) ChunkConfig() chunk.Config {
	return chunk.Config{Size: c.Chunk.Size, Overlap: c.Chunk.Overlap, Separator: c.Chunk.Separator}
}

// QueryRouterConfig returns the router settings for questions.
func (c *Config) QueryRouterConfig() rag.RouterConfig {
	return rag.RouterConfig{TopK: c.Router.TopK, Rerank: c.Router.QueryRerank, PointLookup: c.Router.PointLookup}
}

// IngestRouterConfig returns the router settings for ingested summaries.
func (c *Config) IngestRouterConfig() rag.RouterConfig {
	return rag.RouterConfig{TopK: c.Router.TopK, Rerank: c.Router.IngestRerank, PointLookup: c.Router.PointLookup}
}

// RetrieverConfig converts the retrieval section.
func (c *Config) RetrieverConfig() rag.RetrieverConfig {
	return rag.RetrieverConfig{TopK: c.Retrieval.TopK, RerankTopN: c.Retrieval.RerankTopN, Rerank: c.Retrieval.Rerank}
}

// NarrativeConfig converts the llm section.
func (c *Config) NarrativeConfig() narrative.LLMConfig {
	return narrative.LLMConfig{
		Provider:    c.LLM.Provider,
		BaseURL:     c.LLM.BaseURL,
		APIKey:      c.LLM.APIKey,
		Model:       c.LLM.Model,
		Temperature: c.LLM.Temperature,
		MaxTokens:   c.LLM.MaxTokens,
	}
}

// DeliveryConfig converts the batch settings.
func (c *Config) DeliveryConfig() delivery.Config {
	return delivery.Config{
		BatchSize:             c.Ingest.BatchSize,
		ParallelizationFactor: c.Ingest.ParallelizationFactor,
		MaxRetries:            c.Ingest.MaxRetries,
		RedeliveryDelay:       c.Ingest.RedeliveryDelay,
	}
}
