package rag

import (
	"errors"

	"github.com/openai/openai-go"
)

// Common errors for the retrieval pipeline
var (
	ErrRateLimited       = errors.New("rate limited by upstream service")
	ErrNoNamespace       = errors.New("no namespace found for text")
	ErrEmbeddingFailed   = errors.New("embedding generation failed")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrRecordNotFound    = errors.New("record not found")
	ErrInvalidQuery      = errors.New("invalid query")
	ErrEmptyRecords      = errors.New("no records provided for upsert")
	ErrRerankFailed      = errors.New("rerank failed")
)

// IsRateLimited reports whether err is a rate-limit class failure,
// either already classified or an OpenAI-compatible API error with HTTP 429.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
