package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// RouterConfig tunes namespace classification.
type RouterConfig struct {
	TopK int

	// Rerank picks the best reference vector with the reranker instead of
	// raw similarity. Off on the ingest path to stay within rate limits.
	Rerank bool

	// PointLookup re-reads the winning reference record by id to obtain its
	// namespace. When false the label is taken from the search response.
	PointLookup bool
}

// DefaultRouterConfig returns the query-path router settings.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		TopK:        5,
		Rerank:      true,
		PointLookup: true,
	}
}

// Router classifies text into a topical namespace by nearest-neighbor
// search over the reserved router partition.
type Router struct {
	embedder    Embedder
	vectorStore VectorStore
	reranker    Reranker
	config      RouterConfig
	logger      *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the router logger.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// NewRouter creates a Router. The reranker may be nil when config.Rerank is false.
func NewRouter(embedder Embedder, vectorStore VectorStore, reranker Reranker, config RouterConfig, opts ...RouterOption) (*Router, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if vectorStore == nil {
		return nil, fmt.Errorf("vector store cannot be nil")
	}
	if config.Rerank && reranker == nil {
		return nil, fmt.Errorf("reranker cannot be nil when reranking is enabled")
	}
	if config.TopK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", config.TopK)
	}

	r := &Router{
		embedder:    embedder,
		vectorStore: vectorStore,
		reranker:    reranker,
		config:      config,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "router")
	return r, nil
}

// Classify returns the topical namespace for text. Finding no reference
// match, or a match without a valid namespace label, returns ErrNoNamespace.
func (r *Router) Classify(ctx context.Context, text string) (Namespace, error) {
	vector, err := embedOne(ctx, r.embedder, text, InputQuery)
	if err != nil {
		return "", fmt.Errorf("failed to embed text: %w", err)
	}

	matches, err := r.vectorStore.Query(ctx, QueryRequest{
		Namespace:       NamespaceRouter,
		Vector:          vector,
		TopK:            r.config.TopK,
		IncludeMetadata: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to search router partition: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: router partition returned no matches", ErrNoNamespace)
	}

	best := matches[0]
	if r.config.Rerank {
		idx, err := bestByRerank(ctx, r.reranker, text, matches, 1)
		if err != nil {
			return "", err
		}
		best = matches[idx]
	}

	label := best.Metadata.Namespace
	if r.config.PointLookup {
		record, err := lookupRecord(ctx, r.vectorStore, NamespaceRouter, best.ID)
		if errors.Is(err, ErrRecordNotFound) {
			return "", fmt.Errorf("%w: %v", ErrNoNamespace, err)
		}
		if err != nil {
			return "", err
		}
		label = record.Metadata.Namespace
	}

	if label == "" {
		return "", fmt.Errorf("%w: reference %s has no namespace", ErrNoNamespace, best.ID)
	}
	ns, err := ParseNamespace(label)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoNamespace, err)
	}

	r.logger.Debug("classified text", "namespace", ns, "reference", best.ID)
	return ns, nil
}
