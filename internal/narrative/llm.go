// Package narrative provides streaming text generation for the news pipeline.
// It defines a provider-agnostic LLM interface with implementations for the
// OpenAI API, langchaingo models and a deterministic mock for testing, plus
// the prompt templates and the contextual enricher built on top of it.
package narrative

import (
	"context"
	"errors"
	"iter"
	"strings"
)

var (
	ErrLLMFailed     = errors.New("LLM request failed")
	ErrInvalidConfig = errors.New("invalid LLM configuration")
)

// Request is one generation call.
type Request struct {
	// System is an optional system instruction
	System string

	// Prompt is the user message
	Prompt string

	// MaxTokens bounds the response length (0 = provider default)
	MaxTokens int

	// Temperature controls randomness (0.0 = deterministic)
	Temperature float64
}

// LLM defines the interface for interacting with language models.
// Implementations must be stateless and thread-safe.
type LLM interface {
	// Stream yields text fragments in delivery order until the model signals
	// completion. A failure is yielded once as the final element. Breaking out
	// of the loop early releases the underlying stream.
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
}

// LLMConfig holds common configuration options for LLM providers.
type LLMConfig struct {
	// Provider selects the implementation: "openai" or "langchain"
	Provider string

	// BaseURL points at an OpenAI-compatible endpoint (empty = api.openai.com)
	BaseURL string

	// Model specifies the model identifier
	Model string

	// Temperature controls randomness (0.0 = deterministic, 2.0 = very random)
	Temperature float64

	// MaxTokens limits the response length (0 = use provider default)
	MaxTokens int

	// APIKey is the authentication key for the provider
	APIKey string
}

// DefaultLLMConfig returns deterministic generation bounded to 1000 tokens.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		Temperature: 0,
		MaxTokens:   1000,
	}
}

// Collect drains a stream into a single string, concatenating fragments in order.
func Collect(stream iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for fragment, err := range stream {
		if err != nil {
			return "", err
		}
		b.WriteString(fragment)
	}
	return b.String(), nil
}

// single yields one error and stops.
func single(err error) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("", err)
	}
}
