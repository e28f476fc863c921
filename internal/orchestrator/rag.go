package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/Yates-Labs/newsagent/internal/chunk"
	"github.com/Yates-Labs/newsagent/internal/config"
	"github.com/Yates-Labs/newsagent/internal/ingest"
	"github.com/Yates-Labs/newsagent/internal/narrative"
	"github.com/Yates-Labs/newsagent/internal/rag"
	"github.com/Yates-Labs/newsagent/internal/rag/store"
	"github.com/Yates-Labs/newsagent/internal/secrets"
)

// Pipeline holds the clients shared by the query and ingestion paths. Each
// client is created once per process and injected into the components.
type Pipeline struct {
	Config   *config.Config
	Embedder rag.Embedder
	Store    rag.VectorStore
	Reranker rag.Reranker
	LLM      narrative.LLM

	Graph  *Graph
	Ingest *ingest.Orchestrator

	logger *slog.Logger
}

type pipelineDeps struct {
	logger   *slog.Logger
	fetcher  secrets.Fetcher
	embedder rag.Embedder
	store    rag.VectorStore
	reranker rag.Reranker
	llm      narrative.LLM
}

// PipelineOption overrides a dependency of NewPipeline.
type PipelineOption func(*pipelineDeps)

// WithLogger sets the logger passed to every component.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(d *pipelineDeps) {
		d.logger = logger
	}
}

// WithSecretFetcher replaces the fetcher selected by secret.source.
func WithSecretFetcher(f secrets.Fetcher) PipelineOption {
	return func(d *pipelineDeps) {
		d.fetcher = f
	}
}

// WithEmbedder replaces the OpenAI-compatible embedder.
func WithEmbedder(e rag.Embedder) PipelineOption {
	return func(d *pipelineDeps) {
		d.embedder = e
	}
}

// WithVectorStore replaces the configured vector store.
func WithVectorStore(s rag.VectorStore) PipelineOption {
	return func(d *pipelineDeps) {
		d.store = s
	}
}

// WithReranker replaces the HTTP reranker.
func WithReranker(r rag.Reranker) PipelineOption {
	return func(d *pipelineDeps) {
		d.reranker = r
	}
}

// WithLLM replaces the configured generation provider.
func WithLLM(llm narrative.LLM) PipelineOption {
	return func(d *pipelineDeps) {
		d.llm = llm
	}
}

// NewPipeline validates cfg, fetches the index secret and wires the Answer
// Graph and the ingestion orchestrator over shared clients.
func NewPipeline(ctx context.Context, cfg *config.Config, opts ...PipelineOption) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	deps := &pipelineDeps{logger: slog.Default()}
	for _, opt := range opts {
		opt(deps)
	}
	logger := deps.logger

	p := &Pipeline{Config: cfg, logger: logger.With("component", "pipeline")}

	var err error
	if p.Embedder = deps.embedder; p.Embedder == nil {
		p.Embedder, err = rag.NewOpenAIEmbedder(cfg.EmbedderConfig(), rag.WithEmbedderLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
	}

	if p.Store = deps.store; p.Store == nil {
		p.Store, err = openStore(ctx, cfg, deps, logger)
		if err != nil {
			return nil, err
		}
	}

	if p.Reranker = deps.reranker; p.Reranker == nil && cfg.UsesReranker() {
		p.Reranker, err = rag.NewHTTPReranker(cfg.RerankConfig(), rag.WithRerankLogger(logger))
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to create reranker: %w", err)
		}
	}

	if p.LLM = deps.llm; p.LLM == nil {
		p.LLM, err = newLLM(cfg.NarrativeConfig())
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to create LLM: %w", err)
		}
	}

	if err := p.wire(logger); err != nil {
		p.Close()
		return nil, err
	}

	// A memory store opened here starts empty on every run
	if deps.store == nil && cfg.VectorStore.Type == config.StoreMemory {
		if err := p.seedLocal(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	p.logger.Info("pipeline ready", "store", cfg.VectorStore.Type, "llm", cfg.LLM.Provider, "rerank", p.Reranker != nil)
	return p, nil
}

func (p *Pipeline) wire(logger *slog.Logger) error {
	cfg := p.Config

	queryRouter, err := rag.NewRouter(p.Embedder, p.Store, p.Reranker, cfg.QueryRouterConfig(), rag.WithRouterLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create query router: %w", err)
	}
	ingestRouter, err := rag.NewRouter(p.Embedder, p.Store, p.Reranker, cfg.IngestRouterConfig(), rag.WithRouterLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create ingest router: %w", err)
	}
	retriever, err := rag.NewRetriever(p.Embedder, p.Store, p.Reranker, cfg.RetrieverConfig(), rag.WithRetrieverLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create retriever: %w", err)
	}

	p.Graph, err = NewGraph(queryRouter, retriever, narrative.NewGenerator(p.LLM, cfg.NarrativeConfig()), WithGraphLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create answer graph: %w", err)
	}

	splitter, err := chunk.NewSplitter(cfg.ChunkConfig())
	if err != nil {
		return fmt.Errorf("failed to create splitter: %w", err)
	}
	enricher, err := narrative.NewEnricher(p.LLM, cfg.NarrativeConfig())
	if err != nil {
		return fmt.Errorf("failed to create enricher: %w", err)
	}
	p.Ingest, err = ingest.NewOrchestrator(splitter, enricher, p.Embedder, ingestRouter, p.Store, ingest.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create ingest orchestrator: %w", err)
	}
	return nil
}

// SeedRouter loads reference texts into the router partition.
func (p *Pipeline) SeedRouter(ctx context.Context, refs []ingest.Reference) (int, error) {
	n, err := ingest.SeedRouter(ctx, p.Embedder, p.Store, refs)
	if err != nil {
		return 0, err
	}
	p.logger.Info("seeded router partition", "references", n)
	return n, nil
}

func (p *Pipeline) seedLocal(ctx context.Context) error {
	refs := ingest.DefaultReferences()
	if path := p.Config.Router.References; path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening router references: %w", err)
		}
		defer f.Close()
		if refs, err = ingest.ReadReferences(f); err != nil {
			return err
		}
	}
	if _, err := p.SeedRouter(ctx, refs); err != nil {
		return fmt.Errorf("seeding local router partition: %w", err)
	}
	return nil
}

// Close releases resources held by the pipeline.
func (p *Pipeline) Close() error {
	if p.Store != nil {
		return p.Store.Close()
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, deps *pipelineDeps, logger *slog.Logger) (rag.VectorStore, error) {
	if cfg.VectorStore.Type == config.StoreMemory {
		vs, err := store.NewMemoryStore(cfg.Embedding.Dimension)
		if err != nil {
			return nil, fmt.Errorf("failed to create vector store: %w", err)
		}
		return vs, nil
	}

	secret, err := fetchSecret(ctx, cfg, deps.fetcher)
	if err != nil {
		return nil, err
	}
	milvusConfig := cfg.MilvusConfig(secret.Address, secret.APIKey)
	if secret.IndexName != "" {
		milvusConfig.CollectionName = secret.IndexName
	}
	vs, err := rag.NewMilvusStore(ctx, milvusConfig, rag.WithMilvusLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	return vs, nil
}

// fetchSecret reads the index secret. A failure is fatal for startup.
func fetchSecret(ctx context.Context, cfg *config.Config, fetcher secrets.Fetcher) (secrets.IndexSecret, error) {
	if fetcher == nil {
		switch cfg.Secret.Source {
		case config.SecretNone:
			return secrets.IndexSecret{}, nil
		case config.SecretEnv:
			fetcher = secrets.EnvFetcher{}
		case config.SecretAWS:
			aws, err := secrets.LoadAWSFetcher(ctx, cfg.Secret.Region)
			if err != nil {
				return secrets.IndexSecret{}, err
			}
			fetcher = aws
		}
	}
	return fetcher.Fetch(ctx, cfg.Secret.ID)
}

func newLLM(config narrative.LLMConfig) (narrative.LLM, error) {
	switch config.Provider {
	case "langchain":
		return narrative.NewLangChainLLM(config)
	default:
		return narrative.NewOpenAILLM(config)
	}
}
