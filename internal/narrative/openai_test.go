package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sseServer streams the given deltas as chat completion chunks. A finish
// reason is sent with the last delta, followed by trailing noise that must
// not be read.
func sseServer(t *testing.T, deltas []string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		write := func(content string, finish any) {
			chunk := map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion.chunk",
				"created": 1,
				"model":   "test-model",
				"choices": []map[string]any{{
					"index":         0,
					"delta":         map[string]any{"content": content},
					"finish_reason": finish,
				}},
			}
			data, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}

		for i, d := range deltas {
			var finish any
			if i == len(deltas)-1 {
				finish = "stop"
			}
			write(d, finish)
		}
		write("after stop", nil)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testOpenAILLM(t *testing.T, baseURL string) *OpenAILLM {
	t.Helper()
	config := DefaultLLMConfig()
	config.APIKey = "test"
	config.BaseURL = baseURL + "/"
	llm, err := NewOpenAILLM(config)
	require.NoError(t, err)
	return llm
}

func TestOpenAILLM_Stream(t *testing.T) {
	var seen map[string]any
	srv := sseServer(t, []string{"Hello", ", ", "world"}, &seen)
	llm := testOpenAILLM(t, srv.URL)

	var fragments []string
	for f, err := range llm.Stream(context.Background(), Request{System: "sys", Prompt: "hi", MaxTokens: 50}) {
		require.NoError(t, err)
		fragments = append(fragments, f)
	}
	assert.Equal(t, []string{"Hello", ", ", "world"}, fragments, "stream ends at the finish reason")

	assert.Equal(t, true, seen["stream"])
	assert.Equal(t, float64(0), seen["temperature"])
	assert.Equal(t, float64(50), seen["max_tokens"])
	messages, ok := seen["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 2)
}

func TestOpenAILLM_StreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad model"}}`)
	}))
	defer srv.Close()
	llm := testOpenAILLM(t, srv.URL)

	_, err := Collect(llm.Stream(context.Background(), Request{Prompt: "hi"}))
	assert.True(t, errors.Is(err, ErrLLMFailed), "got %v", err)
}

func TestOpenAILLM_UpstreamFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"upstream down"}}`)
	}))
	defer srv.Close()
	llm := testOpenAILLM(t, srv.URL)

	_, err := Collect(llm.Stream(context.Background(), Request{Prompt: "hi"}))
	assert.ErrorIs(t, err, ErrLLMFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAILLM_EmptyPrompt(t *testing.T) {
	llm := testOpenAILLM(t, "http://127.0.0.1:0")
	_, err := Collect(llm.Stream(context.Background(), Request{}))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewOpenAILLM_Validation(t *testing.T) {
	_, err := NewOpenAILLM(LLMConfig{Model: "m"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewOpenAILLM(LLMConfig{APIKey: "k"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
