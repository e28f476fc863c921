package narrative

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
)

var (
	ErrGenerationFailed = errors.New("generation failed")
)

// answerTemperature is fixed regardless of LLMConfig.Temperature.
const answerTemperature = 0

// Enricher produces the situating context for a chunk of a document.
// One model call is made per chunk.
type Enricher struct {
	llm    LLM
	config LLMConfig
}

// NewEnricher creates an enricher on the given LLM.
func NewEnricher(llm LLM, config LLMConfig) (*Enricher, error) {
	if llm == nil {
		return nil, fmt.Errorf("%w: LLM is required", ErrInvalidConfig)
	}
	return &Enricher{llm: llm, config: config}, nil
}

// Enrich returns the generated context for chunk, with fragments joined in
// delivery order and surrounding whitespace trimmed.
func (e *Enricher) Enrich(ctx context.Context, document, chunk string) (string, error) {
	if chunk == "" {
		return "", fmt.Errorf("%w: chunk is required", ErrGenerationFailed)
	}

	text, err := Collect(e.llm.Stream(ctx, Request{
		Prompt:      EnrichmentPrompt(document, chunk),
		MaxTokens:   e.config.MaxTokens,
		Temperature: e.config.Temperature,
	}))
	if err != nil {
		return "", fmt.Errorf("%w: enrichment: %w", ErrGenerationFailed, err)
	}
	return strings.TrimSpace(text), nil
}

// Generator streams answers grounded in a retrieved context.
type Generator struct {
	llm    LLM
	config LLMConfig
}

// NewGenerator creates an answer generator with the given LLM implementation.
func NewGenerator(llm LLM, config LLMConfig) *Generator {
	return &Generator{
		llm:    llm,
		config: config,
	}
}

// Answer makes exactly one streaming generation call for question with the
// retrieved context and yields the answer fragments.
func (g *Generator) Answer(ctx context.Context, question, context string) iter.Seq2[string, error] {
	if g.llm == nil {
		return single(fmt.Errorf("%w: LLM is required", ErrGenerationFailed))
	}
	if question == "" {
		return single(fmt.Errorf("%w: question is required", ErrGenerationFailed))
	}

	return g.llm.Stream(ctx, Request{
		System:      AnswerSystemPrompt,
		Prompt:      AnswerPrompt(context, question),
		MaxTokens:   g.config.MaxTokens,
		Temperature: answerTemperature,
	})
}
