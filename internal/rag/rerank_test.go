package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReranker(t *testing.T, handler http.HandlerFunc) *HTTPReranker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	config := DefaultRerankConfig()
	config.BaseURL = srv.URL
	config.APIKey = "secret"
	config.RequestsPerMinute = 0
	config.Retry.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	r, err := NewHTTPReranker(config)
	require.NoError(t, err)
	return r
}

func TestHTTPReranker_Rerank(t *testing.T) {
	var got rerankRequest
	r := testReranker(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/v2/rerank", req.URL.Path)
		assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"results":[{"index":2,"relevance_score":0.93},{"index":0,"relevance_score":0.41}]}`))
	})

	docs := []RerankDocument{{ID: "a", Text: "one"}, {ID: "b", Text: "two"}, {ID: "c", Text: "three"}}
	results, err := r.Rerank(context.Background(), "which?", docs, 2)
	require.NoError(t, err)

	assert.Equal(t, []RerankResult{{Index: 2, ID: "c", Score: 0.93}, {Index: 0, ID: "a", Score: 0.41}}, results)
	assert.Equal(t, "which?", got.Query)
	assert.Equal(t, []string{"one", "two", "three"}, got.Documents)
	assert.Equal(t, 2, got.TopN)
	assert.Equal(t, "bge-reranker-v2-m3", got.Model)
}

func TestHTTPReranker_EmptyCandidates(t *testing.T) {
	r := testReranker(t, func(w http.ResponseWriter, req *http.Request) {
		t.Error("service must not be called")
	})
	results, err := r.Rerank(context.Background(), "q", nil, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHTTPReranker_TopNClampedToCandidates(t *testing.T) {
	var got rerankRequest
	r := testReranker(t, func(w http.ResponseWriter, req *http.Request) {
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"results":[{"index":0,"relevance_score":0.5}]}`))
	})
	_, err := r.Rerank(context.Background(), "q", []RerankDocument{{ID: "a", Text: "x"}}, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TopN)
}

func TestHTTPReranker_RetriesRateLimit(t *testing.T) {
	calls := &atomic.Int32{}
	r := testReranker(t, func(w http.ResponseWriter, req *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"index":0,"relevance_score":0.5}]}`))
	})

	results, err := r.Rerank(context.Background(), "q", []RerankDocument{{ID: "a", Text: "x"}}, 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPReranker_ServerError(t *testing.T) {
	calls := &atomic.Int32{}
	r := testReranker(t, func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := r.Rerank(context.Background(), "q", []RerankDocument{{ID: "a", Text: "x"}}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRerankFailed)
	assert.Equal(t, int32(1), calls.Load(), "non rate-limit errors are not retried")
}

func TestHTTPReranker_IndexOutOfRange(t *testing.T) {
	r := testReranker(t, func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":7,"relevance_score":0.5}]}`))
	})
	_, err := r.Rerank(context.Background(), "q", []RerankDocument{{ID: "a", Text: "x"}}, 1)
	assert.ErrorIs(t, err, ErrRerankFailed)
}

func TestNewHTTPReranker_RequiresBaseURL(t *testing.T) {
	_, err := NewHTTPReranker(DefaultRerankConfig())
	assert.ErrorIs(t, err, ErrRerankFailed)
}
