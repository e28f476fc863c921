package rag

import (
	"context"
	"fmt"
	"log/slog"
)

// RetrieverConfig tunes the retrieval stages.
type RetrieverConfig struct {
	TopK       int  // candidates fetched from the namespace
	RerankTopN int  // candidates kept after reranking
	Rerank     bool // rerank candidates before picking the best one
}

// DefaultRetrieverConfig returns top 10 candidates reranked to 3.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		TopK:       10,
		RerankTopN: 3,
		Rerank:     true,
	}
}

// Retriever finds the single best supporting chunk for a question inside
// one topical namespace.
type Retriever struct {
	embedder    Embedder
	vectorStore VectorStore
	reranker    Reranker
	config      RetrieverConfig
	logger      *slog.Logger
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithRetrieverLogger sets the retriever logger.
func WithRetrieverLogger(logger *slog.Logger) RetrieverOption {
	return func(r *Retriever) {
		r.logger = logger
	}
}

// NewRetriever creates a new Retriever instance. The reranker may be nil
// only when reranking is disabled.
func NewRetriever(embedder Embedder, vectorStore VectorStore, reranker Reranker, config RetrieverConfig, opts ...RetrieverOption) (*Retriever, error) {
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

	r := &Retriever{
		embedder:    embedder,
		vectorStore: vectorStore,
		reranker:    reranker,
		config:      config,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "retriever")
	return r, nil
}

// Context returns the text of the best matching chunk in namespace.
// An empty namespace result yields an empty context and no error, so that
// generation can still answer that it lacks supporting information.
func (r *Retriever) Context(ctx context.Context, question string, namespace Namespace) (string, error) {
	if _, err := ParseNamespace(string(namespace)); err != nil {
		return "", err
	}

	// Stage 1: embed the question
	vector, err := embedOne(ctx, r.embedder, question, InputQuery)
	if err != nil {
		return "", fmt.Errorf("failed to embed question: %w", err)
	}

	// Stage 2: candidate search scoped to the namespace
	matches, err := r.vectorStore.Query(ctx, QueryRequest{
		Namespace:       namespace,
		Vector:          vector,
		TopK:            r.config.TopK,
		IncludeMetadata: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to search namespace %s: %w", namespace, err)
	}
	if len(matches) == 0 {
		r.logger.Info("no candidates found", "namespace", namespace)
		return "", nil
	}

	// Stage 3: rerank and keep the best candidate
	best := matches[0]
	if r.config.Rerank {
		idx, err := bestByRerank(ctx, r.reranker, question, matches, r.config.RerankTopN)
		if err != nil {
			return "", err
		}
		best = matches[idx]
	}

	// Stage 4: point lookup for the full record text
	record, err := lookupRecord(ctx, r.vectorStore, namespace, best.ID)
	if err != nil {
		return "", err
	}
	r.logger.Debug("retrieved context", "namespace", namespace, "id", best.ID)
	return record.Metadata.Text, nil
}

func embedOne(ctx context.Context, embedder Embedder, text string, inputType InputType) ([]float32, error) {
	vectors, err := embedder.Embed(ctx, []string{text}, inputType)
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: expected 1 vector, got %d", ErrEmbeddingFailed, len(vectors))
	}
	return vectors[0], nil
}

// bestByRerank returns the index in matches of the highest ranked candidate.
func bestByRerank(ctx context.Context, reranker Reranker, query string, matches []Match, topN int) (int, error) {
	docs := make([]RerankDocument, len(matches))
	for i, m := range matches {
		docs[i] = RerankDocument{ID: m.ID, Text: m.Metadata.Text}
	}
	results, err := reranker.Rerank(ctx, query, docs, topN)
	if err != nil {
		return 0, fmt.Errorf("failed to rerank candidates: %w", err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("%w: reranker returned no results", ErrRerankFailed)
	}
	return results[0].Index, nil
}

// lookupRecord fetches one record by id from namespace.
func lookupRecord(ctx context.Context, store VectorStore, namespace Namespace, id string) (Match, error) {
	found, err := store.Query(ctx, QueryRequest{
		Namespace:       namespace,
		ID:              id,
		TopK:            1,
		IncludeMetadata: true,
	})
	if err != nil {
		return Match{}, fmt.Errorf("failed to fetch record %s: %w", id, err)
	}
	if len(found) == 0 {
		return Match{}, fmt.Errorf("%w: %s in %s", ErrRecordNotFound, id, namespace)
	}
	return found[0], nil
}
