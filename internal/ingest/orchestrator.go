package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Yates-Labs/newsagent/internal/rag"
)

// Splitter cuts a document body into ordered chunks.
type Splitter interface {
	Split(text string) ([]rag.Chunk, error)
}

// ContextEnricher generates the situating context for one chunk.
type ContextEnricher interface {
	Enrich(ctx context.Context, document, chunk string) (string, error)
}

// Classifier maps text to a topical namespace.
type Classifier interface {
	Classify(ctx context.Context, text string) (rag.Namespace, error)
}

// Result summarizes one processed event.
type Result struct {
	EventID   string
	Namespace rag.Namespace
	IDs       []string
}

// Orchestrator runs the ingestion pipeline for one event at a time.
type Orchestrator struct {
	splitter   Splitter
	enricher   ContextEnricher
	embedder   rag.Embedder
	classifier Classifier
	store      rag.VectorStore
	logger     *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator wires the ingestion stages.
func NewOrchestrator(splitter Splitter, enricher ContextEnricher, embedder rag.Embedder, classifier Classifier, store rag.VectorStore, opts ...Option) (*Orchestrator, error) {
	if splitter == nil {
		return nil, fmt.Errorf("splitter cannot be nil")
	}
	if enricher == nil {
		return nil, fmt.Errorf("enricher cannot be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if classifier == nil {
		return nil, fmt.Errorf("classifier cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store cannot be nil")
	}

	o := &Orchestrator{
		splitter:   splitter,
		enricher:   enricher,
		embedder:   embedder,
		classifier: classifier,
		store:      store,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "ingest")
	return o, nil
}

// Process chunks, enriches, embeds, classifies and upserts one event.
// Any stage failure aborts the event and is returned so the delivery layer
// can redeliver it. Records are keyed by chunk id, so a repeat overwrites.
func (o *Orchestrator) Process(ctx context.Context, event rag.DocumentEvent) (Result, error) {
	if err := ValidateEvent(event); err != nil {
		return Result{}, err
	}
	logger := o.logger.With("event_id", event.EventID)

	// Stage 1: chunk the body
	chunks, err := o.splitter.Split(event.Event)
	if err != nil {
		return Result{}, fmt.Errorf("chunking event %s: %w", event.EventID, err)
	}
	if len(chunks) == 0 {
		return Result{}, fmt.Errorf("%w: event %s has no content to chunk", ErrMalformedEvent, event.EventID)
	}
	logger.Info("chunked event", "chunks", len(chunks))

	// Stage 2: enrich each chunk, one model call per chunk, in order
	contextual := make([]rag.ContextualChunk, len(chunks))
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		situating, err := o.enricher.Enrich(ctx, event.Event, chunk.Text)
		if err != nil {
			return Result{}, fmt.Errorf("enriching chunk %d of event %s: %w", chunk.SequenceIndex, event.EventID, err)
		}
		contextual[i] = rag.NewContextualChunk(event.EventID, chunk, situating)
		texts[i] = contextual[i].Text
	}

	// Stage 3: embed all contextual chunks in one call
	vectors, err := o.embedder.Embed(ctx, texts, rag.InputPassage)
	if err != nil {
		return Result{}, fmt.Errorf("embedding event %s: %w", event.EventID, err)
	}
	if len(vectors) != len(contextual) {
		return Result{}, fmt.Errorf("%w: expected %d vectors, got %d", rag.ErrEmbeddingFailed, len(contextual), len(vectors))
	}

	// Stage 4: classify the document by its summary
	namespace, err := o.classifier.Classify(ctx, event.Summary)
	if err != nil {
		return Result{}, fmt.Errorf("classifying event %s: %w", event.EventID, err)
	}

	// Stage 5: upsert every record into the classified namespace
	records := make([]rag.VectorRecord, len(contextual))
	ids := make([]string, len(contextual))
	for i, c := range contextual {
		records[i] = rag.VectorRecord{
			ID:     c.ID,
			Values: vectors[i],
			Metadata: rag.Metadata{
				EventID:   event.EventID,
				Text:      c.Text,
				Summary:   event.Summary,
				UpdatedAt: event.UpdatedAt,
			},
		}
		ids[i] = c.ID
	}

	logger.Info("upserting records", "namespace", namespace, "count", len(records))
	if err := o.store.Upsert(ctx, namespace, records); err != nil {
		return Result{}, fmt.Errorf("upserting event %s into %s: %w", event.EventID, namespace, err)
	}

	return Result{
		EventID:   event.EventID,
		Namespace: namespace,
		IDs:       ids,
	}, nil
}
