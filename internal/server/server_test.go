package server

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnswerer struct {
	fragments []string
	err       error
	questions []string
}

func (f *fakeAnswerer) Answer(ctx context.Context, question string) iter.Seq2[string, error] {
	f.questions = append(f.questions, question)
	return func(yield func(string, error) bool) {
		for _, fragment := range f.fragments {
			if !yield(fragment, nil) {
				return
			}
		}
		if f.err != nil {
			yield("", f.err)
		}
	}
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChat_StreamsAnswer(t *testing.T) {
	answerer := &fakeAnswerer{fragments: []string{"The home side ", "won 2-1."}}
	h := NewHandler(answerer, nil)

	rec := post(t, h, `{"question":"What happened in the match?","thread_id":"t1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "The home side won 2-1.", rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "t1", rec.Header().Get("X-Thread-ID"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, rec.Flushed)
	assert.Equal(t, []string{"What happened in the match?"}, answerer.questions)
}

func TestChat_EmptyQuestion(t *testing.T) {
	answerer := &fakeAnswerer{fragments: []string{"unused"}}
	h := NewHandler(answerer, nil)

	for _, body := range []string{`{"question":"","thread_id":"t1"}`, `{"question":"  \n"}`} {
		rec := post(t, h, body)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, EmptyQuestionMessage, rec.Body.String())
	}
	assert.Empty(t, answerer.questions, "the graph is never invoked")
}

func TestChat_ThreadIDDefaultsToUUID(t *testing.T) {
	h := NewHandler(&fakeAnswerer{fragments: []string{"ok"}}, nil)
	rec := post(t, h, `{"question":"Who won?"}`)

	_, err := uuid.Parse(rec.Header().Get("X-Thread-ID"))
	assert.NoError(t, err)
}

func TestChat_BadRequest(t *testing.T) {
	h := NewHandler(&fakeAnswerer{}, nil)
	rec := post(t, h, `{"question":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_FailureBeforeFirstFragment(t *testing.T) {
	h := NewHandler(&fakeAnswerer{err: errors.New("no namespace")}, nil)
	rec := post(t, h, `{"question":"Who won?"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "no namespace", "internal errors are not echoed")
}

func TestChat_FailureMidStream(t *testing.T) {
	h := NewHandler(&fakeAnswerer{fragments: []string{"partial "}, err: errors.New("stream reset")}, nil)
	rec := post(t, h, `{"question":"Who won?"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "partial ", rec.Body.String())
}

func TestChat_MethodsAndPreflight(t *testing.T) {
	h := NewHandler(&fakeAnswerer{}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/chat", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthz(t *testing.T) {
	h := NewHandler(&fakeAnswerer{}, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", NewHandler(&fakeAnswerer{}, nil), nil)
	}()
	cancel()
	require.NoError(t, <-done)
}
