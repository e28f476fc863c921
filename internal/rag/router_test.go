package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func routerReferences() []Match {
	return []Match{
		{ID: "ref-1", Score: 0.95, Metadata: Metadata{Text: "stock market rally", Namespace: "business"}},
		{ID: "ref-2", Score: 0.90, Metadata: Metadata{Text: "cup final", Namespace: "sports"}},
	}
}

func TestRouter_Classify(t *testing.T) {
	tests := []struct {
		name     string
		config   RouterConfig
		reranker *mockReranker
		want     Namespace
		queries  int
	}{
		{
			name:    "nearest neighbor with point lookup",
			config:  RouterConfig{TopK: 5, PointLookup: true},
			want:    NamespaceBusiness,
			queries: 2,
		},
		{
			name:    "nearest neighbor single round trip",
			config:  RouterConfig{TopK: 5},
			want:    NamespaceBusiness,
			queries: 1,
		},
		{
			name:     "rerank selects another reference",
			config:   DefaultRouterConfig(),
			reranker: &mockReranker{rerankFunc: pickLast},
			want:     NamespaceSports,
			queries:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs := candidateStore(routerReferences())
			var reranker Reranker
			if tt.reranker != nil {
				reranker = tt.reranker
			}
			router, err := NewRouter(&mockEmbedder{}, vs, reranker, tt.config)
			require.NoError(t, err)

			ns, err := router.Classify(context.Background(), "who won the final?")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ns)

			require.Len(t, vs.queries, tt.queries)
			for _, q := range vs.queries {
				assert.Equal(t, NamespaceRouter, q.Namespace, "routing only reads the router partition")
			}
			assert.Equal(t, 5, vs.queries[0].TopK)
		})
	}
}

func TestRouter_EmbedsAsQuery(t *testing.T) {
	embedder := &mockEmbedder{}
	router, err := NewRouter(embedder, candidateStore(routerReferences()), nil, RouterConfig{TopK: 5})
	require.NoError(t, err)

	_, err = router.Classify(context.Background(), "summary text")
	require.NoError(t, err)
	assert.Equal(t, []InputType{InputQuery}, embedder.calls)
}

func TestRouter_NoNamespace(t *testing.T) {
	tests := []struct {
		name       string
		references []Match
		config     RouterConfig
	}{
		{name: "no matches", references: nil, config: RouterConfig{TopK: 5}},
		{name: "empty label", references: []Match{{ID: "r", Metadata: Metadata{}}}, config: RouterConfig{TopK: 5}},
		{name: "router label", references: []Match{{ID: "r", Metadata: Metadata{Namespace: "router"}}}, config: RouterConfig{TopK: 5}},
		{name: "unknown label", references: []Match{{ID: "r", Metadata: Metadata{Namespace: "weather"}}}, config: RouterConfig{TopK: 5, PointLookup: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, err := NewRouter(&mockEmbedder{}, candidateStore(tt.references), nil, tt.config)
			require.NoError(t, err)

			ns, err := router.Classify(context.Background(), "text")
			assert.ErrorIs(t, err, ErrNoNamespace)
			assert.Empty(t, ns)
		})
	}
}

func TestRouter_PointLookupMiss(t *testing.T) {
	vs := &mockVectorStore{queryFunc: func(ctx context.Context, req QueryRequest) ([]Match, error) {
		if req.ID != "" {
			return []Match{}, nil
		}
		return routerReferences(), nil
	}}
	router, err := NewRouter(&mockEmbedder{}, vs, nil, RouterConfig{TopK: 5, PointLookup: true})
	require.NoError(t, err)

	_, err = router.Classify(context.Background(), "text")
	assert.ErrorIs(t, err, ErrNoNamespace)
}

func TestNewRouter_Validation(t *testing.T) {
	_, err := NewRouter(&mockEmbedder{}, &mockVectorStore{}, nil, DefaultRouterConfig())
	assert.Error(t, err)

	_, err = NewRouter(&mockEmbedder{}, &mockVectorStore{}, nil, RouterConfig{})
	assert.Error(t, err)
}

func TestParseNamespace(t *testing.T) {
	for _, ns := range TopicalNamespaces {
		got, err := ParseNamespace(string(ns))
		require.NoError(t, err)
		assert.Equal(t, ns, got)
	}
	_, err := ParseNamespace("router")
	assert.ErrorIs(t, err, ErrUnknownNamespace)
}

func TestNewContextualChunk(t *testing.T) {
	c := NewContextualChunk("E1", Chunk{SequenceIndex: 3, Text: "body"}, "situating")
	assert.Equal(t, "E1-3", c.ID)
	assert.Equal(t, "situating\n\nbody", c.Text)
}
