package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yates-Labs/newsagent/internal/chunk"
	"github.com/Yates-Labs/newsagent/internal/narrative"
	"github.com/Yates-Labs/newsagent/internal/rag"
	"github.com/Yates-Labs/newsagent/internal/rag/store"
)

const testDim = 4

type fakeEmbedder struct {
	inputTypes []rag.InputType
	err        error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string, inputType rag.InputType) ([][]float32, error) {
	f.inputTypes = append(f.inputTypes, inputType)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1, 0, 0}
	}
	return out, nil
}

type fakeClassifier struct {
	namespace rag.Namespace
	err       error
	texts     []string
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (rag.Namespace, error) {
	f.texts = append(f.texts, text)
	return f.namespace, f.err
}

type fixture struct {
	orchestrator *Orchestrator
	llm          *narrative.MockLLM
	embedder     *fakeEmbedder
	classifier   *fakeClassifier
	store        *store.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	splitter, err := chunk.NewSplitter(chunk.DefaultConfig())
	require.NoError(t, err)
	llm := narrative.NewMockLLM("Situating ", "context.")
	enricher, err := narrative.NewEnricher(llm, narrative.DefaultLLMConfig())
	require.NoError(t, err)
	vs, err := store.NewMemoryStore(testDim)
	require.NoError(t, err)

	f := &fixture{
		llm:        llm,
		embedder:   &fakeEmbedder{},
		classifier: &fakeClassifier{namespace: rag.NamespaceTech},
		store:      vs,
	}
	f.orchestrator, err = NewOrchestrator(splitter, enricher, f.embedder, f.classifier, vs)
	require.NoError(t, err)
	return f
}

func longEvent(id string) rag.DocumentEvent {
	sentences := make([]string, 60)
	for i := range sentences {
		sentences[i] = fmt.Sprintf("Paragraph %02d explains the new chip architecture", i)
	}
	return rag.DocumentEvent{
		EventID:   id,
		UpdatedAt: "2024-06-01T12:00:00Z",
		Summary:   "Tech headline",
		Event:     strings.Join(sentences, ". ") + ".",
	}
}

func TestOrchestrator_Process_EndToEnd(t *testing.T) {
	f := newFixture(t)
	event := longEvent("E1")

	result, err := f.orchestrator.Process(context.Background(), event)
	require.NoError(t, err)

	n := len(result.IDs)
	require.Greater(t, n, 1)
	for i, id := range result.IDs {
		assert.Equal(t, fmt.Sprintf("E1-%d", i), id)
	}
	assert.Equal(t, rag.NamespaceTech, result.Namespace)

	// One enrichment call per chunk, one batched embedding call, classify by summary
	assert.Len(t, f.llm.Requests(), n)
	assert.Equal(t, []rag.InputType{rag.InputPassage}, f.embedder.inputTypes)
	assert.Equal(t, []string{"Tech headline"}, f.classifier.texts)

	assert.Equal(t, n, f.store.Len(rag.NamespaceTech))
	got, err := f.store.Query(context.Background(), rag.QueryRequest{Namespace: rag.NamespaceTech, ID: "E1-0", TopK: 1, IncludeMetadata: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	md := got[0].Metadata
	assert.Equal(t, "E1", md.EventID)
	assert.Equal(t, "Tech headline", md.Summary)
	assert.Equal(t, "2024-06-01T12:00:00Z", md.UpdatedAt)
	assert.True(t, strings.HasPrefix(md.Text, "Situating context.\n\n"), md.Text)
}

func TestOrchestrator_Process_Idempotent(t *testing.T) {
	f := newFixture(t)
	event := longEvent("E2")

	first, err := f.orchestrator.Process(context.Background(), event)
	require.NoError(t, err)
	second, err := f.orchestrator.Process(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, first.IDs, second.IDs)
	assert.Equal(t, len(first.IDs), f.store.Len(rag.NamespaceTech))
}

func TestOrchestrator_Process_StageFailures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name  string
		setup func(f *fixture)
		want  error
	}{
		{
			name:  "enrichment",
			setup: func(f *fixture) { f.llm.Error = boom },
			want:  boom,
		},
		{
			name:  "embedding",
			setup: func(f *fixture) { f.embedder.err = boom },
			want:  boom,
		},
		{
			name:  "no namespace",
			setup: func(f *fixture) { f.classifier.err = rag.ErrNoNamespace },
			want:  rag.ErrNoNamespace,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			_, err := f.orchestrator.Process(context.Background(), longEvent("E3"))
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, f.store.Len(rag.NamespaceTech), "nothing is upserted for a failed event")
		})
	}
}

func TestOrchestrator_Process_MalformedEvent(t *testing.T) {
	f := newFixture(t)
	event := longEvent("E4")
	event.Summary = ""

	_, err := f.orchestrator.Process(context.Background(), event)
	assert.ErrorIs(t, err, ErrMalformedEvent)
	assert.Empty(t, f.llm.Requests())
}

func TestNewOrchestrator_NilDependencies(t *testing.T) {
	_, err := NewOrchestrator(nil, nil, nil, nil, nil)
	assert.Error(t, err)
}
