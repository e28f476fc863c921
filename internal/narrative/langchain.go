package narrative

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// errStopped aborts a langchaingo stream when the consumer stops iterating.
var errStopped = errors.New("stream stopped by consumer")

// LangChainLLM implements the LLM interface on any langchaingo model.
type LangChainLLM struct {
	model llms.Model
}

// NewLangChainLLM creates an LLM on a langchaingo OpenAI-compatible client.
func NewLangChainLLM(config LLMConfig) (*LangChainLLM, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("%w: missing model name", ErrInvalidConfig)
	}
	token := config.APIKey
	if token == "" {
		// Local OpenAI-compatible services accept any token
		token = "none"
	}

	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(config.Model),
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return NewLangChainLLMFromModel(client), nil
}

// NewLangChainLLMFromModel wraps an existing langchaingo model.
func NewLangChainLLMFromModel(model llms.Model) *LangChainLLM {
	return &LangChainLLM{model: model}
}

// Stream runs GenerateContent with a streaming callback. The callback runs on
// the caller's goroutine, so fragments are yielded in delivery order.
func (l *LangChainLLM) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	if req.Prompt == "" {
		return single(fmt.Errorf("%w: prompt cannot be empty", ErrInvalidConfig))
	}

	content := make([]llms.MessageContent, 0, 2)
	if req.System != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	return func(yield func(string, error) bool) {
		opts := []llms.CallOption{
			llms.WithTemperature(req.Temperature),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				if !yield(string(chunk), nil) {
					return errStopped
				}
				return nil
			}),
		}
		if req.MaxTokens > 0 {
			opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
		}

		_, err := l.model.GenerateContent(ctx, content, opts...)
		if err != nil && !errors.Is(err, errStopped) {
			yield("", fmt.Errorf("%w: %w", ErrLLMFailed, err))
		}
	}
}
