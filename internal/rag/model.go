package rag

import (
	"context"
	"errors"
	"fmt"
)

// Namespace is a partition of the vector index. Four namespaces hold news
// topics; the router namespace holds reference vectors used for routing only.
type Namespace string

const (
	NamespaceTech     Namespace = "tech"
	NamespaceWorld    Namespace = "world"
	NamespaceSports   Namespace = "sports"
	NamespaceBusiness Namespace = "business"

	// NamespaceRouter is reserved for routing reference vectors.
	NamespaceRouter Namespace = "router"
)

// TopicalNamespaces lists every namespace that can hold news chunks.
var TopicalNamespaces = []Namespace{
	NamespaceTech,
	NamespaceWorld,
	NamespaceSports,
	NamespaceBusiness,
}

// ErrUnknownNamespace is returned when a label is not a topical namespace.
var ErrUnknownNamespace = errors.New("unknown namespace")

// ParseNamespace converts a label into a topical namespace.
// The router namespace is rejected: it never holds news chunks.
func ParseNamespace(label string) (Namespace, error) {
	for _, ns := range TopicalNamespaces {
		if string(ns) == label {
			return ns, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownNamespace, label)
}

// DocumentEvent is one inbound news event.
type DocumentEvent struct {
	EventID   string `json:"event_id"`
	UpdatedAt string `json:"updated_at"`
	Summary   string `json:"summary"`
	Event     string `json:"event"`
}

// Chunk is a fixed-size segment of a document body.
type Chunk struct {
	SequenceIndex int    `json:"sequence_index"`
	Text          string `json:"text"`
}

// ContextualChunk is a chunk prefixed with its generated situating context.
type ContextualChunk struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ChunkID builds the storage key for a chunk. It is the idempotency key:
// re-ingesting an event overwrites the same records.
func ChunkID(eventID string, sequenceIndex int) string {
	return fmt.Sprintf("%s-%d", eventID, sequenceIndex)
}

// NewContextualChunk joins the enrichment context and the chunk text.
func NewContextualChunk(eventID string, chunk Chunk, context string) ContextualChunk {
	return ContextualChunk{
		ID:   ChunkID(eventID, chunk.SequenceIndex),
		Text: context + "\n\n" + chunk.Text,
	}
}

// Metadata is stored alongside each vector.
// Router reference records populate Text and Namespace only.
type Metadata struct {
	EventID   string `json:"event_id,omitempty"`
	Text      string `json:"text"`
	Summary   string `json:"summary,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

// VectorRecord is the unit of upsert. Upsert is keyed by ID, last write wins.
type VectorRecord struct {
	ID       string    `json:"id"`
	Values   []float32 `json:"values"`
	Metadata Metadata  `json:"metadata"`
}

// Match is one query result.
type Match struct {
	ID       string   `json:"id"`
	Score    float32  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// QueryRequest selects records from exactly one namespace, either by
// similarity to Vector or by point lookup on ID.
type QueryRequest struct {
	Namespace       Namespace
	Vector          []float32
	ID              string
	TopK            int
	IncludeMetadata bool
}

// Validate checks that exactly one of Vector or ID is set.
func (q QueryRequest) Validate() error {
	if q.Namespace == "" {
		return fmt.Errorf("%w: namespace is required", ErrInvalidQuery)
	}
	if (len(q.Vector) == 0) == (q.ID == "") {
		return fmt.Errorf("%w: exactly one of vector or id is required", ErrInvalidQuery)
	}
	if q.TopK <= 0 {
		return fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidQuery, q.TopK)
	}
	return nil
}

// VectorStore is the contract over the managed vector index.
// Every operation is scoped to a single namespace.
type VectorStore interface {
	// Upsert writes records into a namespace, overwriting records with the same ID
	Upsert(ctx context.Context, namespace Namespace, records []VectorRecord) error

	// Query returns up to TopK matches ordered by descending score
	Query(ctx context.Context, req QueryRequest) ([]Match, error)

	// Close releases resources and closes connections
	Close() error
}
