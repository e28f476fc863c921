package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/Yates-Labs/newsagent/internal/narrative"
	"github.com/Yates-Labs/newsagent/internal/rag"
)

// ErrEmptyQuestion is returned when a question is blank.
var ErrEmptyQuestion = errors.New("question is empty")

// Classifier picks the namespace a question belongs to.
type Classifier interface {
	Classify(ctx context.Context, text string) (rag.Namespace, error)
}

// ContextRetriever returns supporting text for a question from one namespace.
type ContextRetriever interface {
	Context(ctx context.Context, question string, namespace rag.Namespace) (string, error)
}

// RetrieveFunc is a retriever node bound to a single namespace.
type RetrieveFunc func(ctx context.Context, question string) (string, error)

// Graph answers questions: route, then exactly one retriever node, then a
// single streaming generation call.
type Graph struct {
	classifier Classifier
	retrievers map[rag.Namespace]RetrieveFunc
	generator  *narrative.Generator
	logger     *slog.Logger
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithGraphLogger sets the graph logger.
func WithGraphLogger(logger *slog.Logger) GraphOption {
	return func(g *Graph) {
		g.logger = logger
	}
}

// NewGraph builds one retriever node per topical namespace over retriever.
func NewGraph(classifier Classifier, retriever ContextRetriever, generator *narrative.Generator, opts ...GraphOption) (*Graph, error) {
	if classifier == nil {
		return nil, fmt.Errorf("classifier cannot be nil")
	}
	if retriever == nil {
		return nil, fmt.Errorf("retriever cannot be nil")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator cannot be nil")
	}

	g := &Graph{
		classifier: classifier,
		retrievers: make(map[rag.Namespace]RetrieveFunc, len(rag.TopicalNamespaces)),
		generator:  generator,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "graph")

	for _, ns := range rag.TopicalNamespaces {
		g.retrievers[ns] = func(ctx context.Context, question string) (string, error) {
			return retriever.Context(ctx, question, ns)
		}
	}
	return g, nil
}

// Route classifies question into a topical namespace.
func (g *Graph) Route(ctx context.Context, question string) (rag.Namespace, error) {
	if strings.TrimSpace(question) == "" {
		return "", ErrEmptyQuestion
	}
	ns, err := g.classifier.Classify(ctx, question)
	if err != nil {
		return "", fmt.Errorf("routing question: %w", err)
	}
	return ns, nil
}

// Answer routes question and streams the generated answer. Failures before
// generation are yielded as a single error.
func (g *Graph) Answer(ctx context.Context, question string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ns, err := g.Route(ctx, question)
		if err != nil {
			yield("", err)
			return
		}
		for fragment, err := range g.AnswerIn(ctx, question, ns) {
			if !yield(fragment, err) || err != nil {
				return
			}
		}
	}
}

// AnswerIn runs the retriever node of ns and streams the answer.
func (g *Graph) AnswerIn(ctx context.Context, question string, ns rag.Namespace) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		retrieve, ok := g.retrievers[ns]
		if !ok {
			yield("", fmt.Errorf("%w: %q", rag.ErrUnknownNamespace, ns))
			return
		}

		logger := g.logger.With("namespace", ns)
		context, err := retrieve(ctx, question)
		if err != nil {
			yield("", fmt.Errorf("retrieving context: %w", err))
			return
		}
		logger.Debug("retrieved context", "chars", len(context))

		fragments := 0
		for fragment, err := range g.generator.Answer(ctx, question, context) {
			if err != nil {
				yield("", err)
				return
			}
			fragments++
			if !yield(fragment, nil) {
				return
			}
		}
		logger.Info("answered question", "fragments", fragments)
	}
}
