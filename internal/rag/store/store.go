// Package store provides an in-memory rag.VectorStore used for local runs
// and tests. It keeps the same namespace and upsert semantics as the
// Milvus store using brute-force cosine similarity.
package store

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/Yates-Labs/newsagent/internal/rag"
)

// MemoryStore is a namespace-partitioned in-memory vector store.
type MemoryStore struct {
	mu         sync.RWMutex
	dimension  int
	namespaces map[rag.Namespace]map[string]rag.VectorRecord
}

// NewMemoryStore creates an empty store for vectors of the given dimension.
func NewMemoryStore(dimension int) (*MemoryStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", rag.ErrDimensionMismatch)
	}
	return &MemoryStore{
		dimension:  dimension,
		namespaces: make(map[rag.Namespace]map[string]rag.VectorRecord),
	}, nil
}

// Upsert stores records in namespace, replacing records with the same id.
func (s *MemoryStore) Upsert(ctx context.Context, namespace rag.Namespace, records []rag.VectorRecord) error {
	if len(records) == 0 {
		return rag.ErrEmptyRecords
	}
	if namespace == "" {
		return fmt.Errorf("%w: namespace is required", rag.ErrInvalidQuery)
	}
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("%w: record has no id", rag.ErrInvalidQuery)
		}
		if len(r.Values) != s.dimension {
			return fmt.Errorf("%w: record %s has %d values, expected %d", rag.ErrDimensionMismatch, r.ID, len(r.Values), s.dimension)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	partition, ok := s.namespaces[namespace]
	if !ok {
		partition = make(map[string]rag.VectorRecord)
		s.namespaces[namespace] = partition
	}
	for _, r := range records {
		r.Values = slices.Clone(r.Values)
		partition[r.ID] = r
	}
	return nil
}

// Query searches or looks up records inside a single namespace.
func (s *MemoryStore) Query(ctx context.Context, req rag.QueryRequest) ([]rag.Match, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	partition := s.namespaces[req.Namespace]

	if req.ID != "" {
		r, ok := partition[req.ID]
		if !ok {
			return []rag.Match{}, nil
		}
		return []rag.Match{toMatch(r, 1, req.IncludeMetadata)}, nil
	}

	if len(req.Vector) != s.dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", rag.ErrDimensionMismatch, s.dimension, len(req.Vector))
	}

	matches := make([]rag.Match, 0, len(partition))
	for _, r := range partition {
		matches = append(matches, toMatch(r, cosine(req.Vector, r.Values), req.IncludeMetadata))
	}
	// Ties are broken by id so results are stable across calls
	slices.SortFunc(matches, func(a, b rag.Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(matches) > req.TopK {
		matches = matches[:req.TopK]
	}
	return matches, nil
}

// Len returns the number of records stored in namespace.
func (s *MemoryStore) Len(namespace rag.Namespace) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespaces[namespace])
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func toMatch(r rag.VectorRecord, score float32, withMetadata bool) rag.Match {
	m := rag.Match{ID: r.ID, Score: score}
	if withMetadata {
		m.Metadata = r.Metadata
	}
	return m
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
