package narrative

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestEnricher_Enrich_Success(t *testing.T) {
	mockLLM := NewMockLLM("  The chunk ", "describes the ", "final score.\n")
	enricher, err := NewEnricher(mockLLM, DefaultLLMConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := enricher.Enrich(context.Background(), "Full article body.", "The match ended 2-1.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "The chunk describes the final score." {
		t.Errorf("unexpected context: %q", got)
	}

	req := mockLLM.LastRequest()
	if !strings.Contains(req.Prompt, "<document>\nFull article body.\n</document>") {
		t.Errorf("prompt missing document: %s", req.Prompt)
	}
	if !strings.Contains(req.Prompt, "<chunk>\nThe match ended 2-1.\n</chunk>") {
		t.Errorf("prompt missing chunk: %s", req.Prompt)
	}
	if req.MaxTokens != 1000 {
		t.Errorf("expected max tokens 1000, got %d", req.MaxTokens)
	}
}

func TestEnricher_Enrich_OneCallPerChunk(t *testing.T) {
	mockLLM := NewMockLLM("ctx")
	enricher, _ := NewEnricher(mockLLM, DefaultLLMConfig())

	for _, chunk := range []string{"a", "b", "c"} {
		if _, err := enricher.Enrich(context.Background(), "doc", chunk); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if n := len(mockLLM.Requests()); n != 3 {
		t.Errorf("expected 3 model calls, got %d", n)
	}
}

func TestEnricher_Enrich_LLMError(t *testing.T) {
	boom := errors.New("throttled")
	enricher, _ := NewEnricher(NewMockLLMWithError(boom), DefaultLLMConfig())

	_, err := enricher.Enrich(context.Background(), "doc", "chunk")
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped LLM error, got %v", err)
	}
}

func TestEnricher_Validation(t *testing.T) {
	if _, err := NewEnricher(nil, DefaultLLMConfig()); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	enricher, _ := NewEnricher(NewMockLLM("x"), DefaultLLMConfig())
	if _, err := enricher.Enrich(context.Background(), "doc", ""); !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed, got %v", err)
	}
}

func TestGenerator_Answer_StreamsFragments(t *testing.T) {
	mockLLM := NewMockLLM("Spain ", "won ", "2-1.")
	gen := NewGenerator(mockLLM, DefaultLLMConfig())

	var fragments []string
	for f, err := range gen.Answer(context.Background(), "Who won?", "Spain beat England 2-1.") {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		fragments = append(fragments, f)
	}
	if strings.Join(fragments, "") != "Spain won 2-1." || len(fragments) != 3 {
		t.Errorf("unexpected fragments: %q", fragments)
	}

	requests := mockLLM.Requests()
	if len(requests) != 1 {
		t.Fatalf("expected exactly one generation call, got %d", len(requests))
	}
	req := requests[0]
	if req.System != AnswerSystemPrompt {
		t.Errorf("unexpected system prompt: %q", req.System)
	}
	if req.Temperature != 0 {
		t.Errorf("expected temperature 0, got %v", req.Temperature)
	}
	if req.Prompt != "The context is provided as: Spain beat England 2-1.\nThe question is provided as: Who won?" {
		t.Errorf("unexpected prompt: %q", req.Prompt)
	}
}

func TestGenerator_Answer_IgnoresConfiguredTemperature(t *testing.T) {
	mockLLM := NewMockLLM("ok")
	config := DefaultLLMConfig()
	config.Temperature = 0.7
	gen := NewGenerator(mockLLM, config)

	if _, err := Collect(gen.Answer(context.Background(), "Who won?", "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := mockLLM.LastRequest().Temperature; got != 0 {
		t.Errorf("expected temperature 0, got %v", got)
	}
}

func TestGenerator_Answer_EmptyQuestion(t *testing.T) {
	mockLLM := NewMockLLM("x")
	gen := NewGenerator(mockLLM, DefaultLLMConfig())

	_, err := Collect(gen.Answer(context.Background(), "", "ctx"))
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed, got %v", err)
	}
	if len(mockLLM.Requests()) != 0 {
		t.Error("no model call expected")
	}
}

func TestCollect(t *testing.T) {
	text, err := Collect(NewMockLLM("a", "b", "c").Stream(context.Background(), Request{Prompt: "p"}))
	if err != nil || text != "abc" {
		t.Errorf("Collect() = %q, %v", text, err)
	}

	boom := errors.New("boom")
	m := &MockLLM{Fragments: []string{"partial"}, Error: boom}
	if _, err := Collect(m.Stream(context.Background(), Request{Prompt: "p"})); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestMockLLM_EarlyBreak(t *testing.T) {
	m := NewMockLLM("a", "b", "c")
	count := 0
	for range m.Stream(context.Background(), Request{Prompt: "p"}) {
		count++
		break
	}
	if count != 1 {
		t.Errorf("expected to stop after one fragment, got %d", count)
	}
}
