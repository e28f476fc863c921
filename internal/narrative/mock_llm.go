package narrative

import (
	"context"
	"iter"
	"strings"
	"sync"
)

// MockLLM is a deterministic LLM implementation for testing.
type MockLLM struct {
	// Fragments are yielded in order by Stream.
	// If empty, a single fragment echoing the prompt length is produced.
	Fragments []string

	// Error, if set, is yielded after the fragments.
	Error error

	// Respond, if set, computes the fragments from the request.
	Respond func(req Request) []string

	mu       sync.Mutex
	requests []Request
}

// NewMockLLM creates a mock LLM that streams the given fragments.
func NewMockLLM(fragments ...string) *MockLLM {
	return &MockLLM{Fragments: fragments}
}

// NewMockLLMWithError creates a mock LLM that always fails.
func NewMockLLMWithError(err error) *MockLLM {
	return &MockLLM{Error: err}
}

// Stream records the request and yields the configured fragments.
func (m *MockLLM) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	return func(yield func(string, error) bool) {
		fragments := m.Fragments
		if m.Respond != nil {
			fragments = m.Respond(req)
		}
		if len(fragments) == 0 && m.Error == nil {
			fragments = []string{"context for a " + strings.Repeat("*", min(len(req.Prompt), 8)) + " prompt"}
		}
		for _, f := range fragments {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
		if m.Error != nil {
			yield("", m.Error)
		}
	}
}

// Requests returns every request passed to Stream.
func (m *MockLLM) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// LastRequest returns the most recent request, or the zero Request.
func (m *MockLLM) LastRequest() Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return Request{}
	}
	return m.requests[len(m.requests)-1]
}
