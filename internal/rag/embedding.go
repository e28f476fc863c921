package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Yates-Labs/newsagent/internal/retry"
)

var (
	ErrEmptyTexts    = errors.New("no texts provided for embedding")
	ErrMissingAPIKey = errors.New("embedding API key not set")
)

// InputType tells the embedding model whether a text is a search query or
// a stored passage.
type InputType string

const (
	InputQuery   InputType = "query"
	InputPassage InputType = "passage"
)

// Embedder converts texts into dense vectors, one per text, order preserved.
type Embedder interface {
	Embed(ctx context.Context, texts []string, inputType InputType) ([][]float32, error)
}

// EmbedderConfig configures an OpenAI-compatible embeddings endpoint.
type EmbedderConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int

	// Prefixes are prepended to each text according to its input type.
	// E5 family models expect "query: " and "passage: ".
	QueryPrefix   string
	PassagePrefix string

	Retry retry.Policy
}

// DefaultEmbedderConfig returns the multilingual-e5-large setup.
func DefaultEmbedderConfig() EmbedderConfig {
	return EmbedderConfig{
		Model:         "multilingual-e5-large",
		Dimension:     1024,
		QueryPrefix:   "query: ",
		PassagePrefix: "passage: ",
		Retry:         retry.DefaultPolicy(IsRateLimited),
	}
}

// OpenAIEmbedder implements Embedder on the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client openai.Client
	config EmbedderConfig
	logger *slog.Logger
}

// EmbedderOption configures an OpenAIEmbedder.
type EmbedderOption func(*OpenAIEmbedder)

// WithEmbedderLogger sets the embedder logger.
func WithEmbedderLogger(logger *slog.Logger) EmbedderOption {
	return func(e *OpenAIEmbedder) {
		e.logger = logger
	}
}

// NewOpenAIEmbedder creates an embedder. The SDK's own retries are disabled;
// rate limits are retried by config.Retry.
func NewOpenAIEmbedder(config EmbedderConfig, opts ...EmbedderOption) (*OpenAIEmbedder, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrDimensionMismatch)
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = retry.DefaultPolicy(IsRateLimited)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(config.BaseURL))
	}

	e := &OpenAIEmbedder{
		client: openai.NewClient(clientOpts...),
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "embedder")
	if e.config.Retry.Logger == nil {
		e.config.Retry.Logger = e.logger
	}
	return e, nil
}

// Embed returns one vector per text. A rate-limited call is retried with
// backoff; exhaustion is returned as an error, never a partial result.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string, inputType InputType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyTexts
	}

	input := make([]string, len(texts))
	prefix := e.prefix(inputType)
	for i, text := range texts {
		input[i] = prefix + text
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: input,
		},
		Model:          e.config.Model,
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}

	var resp *openai.CreateEmbeddingResponse
	err := e.config.Retry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = e.client.Embeddings.New(ctx, params)
		if IsRateLimited(callErr) {
			return fmt.Errorf("%w: %v", ErrRateLimited, callErr)
		}
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}

	vectors, err := orderVectors(resp.Data, len(texts), e.config.Dimension)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("embedded texts", "count", len(texts), "input_type", inputType)
	return vectors, nil
}

func (e *OpenAIEmbedder) prefix(inputType InputType) string {
	switch inputType {
	case InputQuery:
		return e.config.QueryPrefix
	case InputPassage:
		return e.config.PassagePrefix
	default:
		return ""
	}
}

// orderVectors places each embedding at its input index and checks that
// every input received a vector of the expected dimension.
func orderVectors(data []openai.Embedding, n, dimension int) ([][]float32, error) {
	if len(data) != n {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbeddingFailed, n, len(data))
	}

	vectors := make([][]float32, n)
	for _, d := range data {
		idx := int(d.Index)
		if idx < 0 || idx >= n || vectors[idx] != nil {
			return nil, fmt.Errorf("%w: unexpected index %d", ErrEmbeddingFailed, idx)
		}
		if len(d.Embedding) != dimension {
			return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dimension, len(d.Embedding))
		}

		vec := make([]float32, len(d.Embedding))
		for j, val := range d.Embedding {
			vec[j] = float32(val)
		}
		vectors[idx] = vec
	}
	return vectors, nil
}
