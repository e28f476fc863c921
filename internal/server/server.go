// Package server exposes the Answer Graph over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EmptyQuestionMessage is returned instead of an answer for a blank question.
const EmptyQuestionMessage = "Please enter a question!"

const maxRequestBytes = 1 << 20

// Answerer streams the answer to a question.
type Answerer interface {
	Answer(ctx context.Context, question string) iter.Seq2[string, error]
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Question string `json:"question"`
	ThreadID string `json:"thread_id"`
}

// NewHandler routes POST /api/chat and GET /healthz.
func NewHandler(answerer Answerer, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &chatHandler{answerer: answerer, logger: logger.With("component", "server")}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", h.chat)
	mux.HandleFunc("OPTIONS /api/chat", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})
	return cors(mux)
}

// cors allows browser clients from any origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

type chatHandler struct {
	answerer Answerer
	logger   *slog.Logger
}

func (h *chatHandler) chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}
	logger := h.logger.With("thread_id", req.ThreadID)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Thread-ID", req.ThreadID)

	if strings.TrimSpace(req.Question) == "" {
		fmt.Fprint(w, EmptyQuestionMessage)
		return
	}

	start := time.Now()
	flusher, _ := w.(http.Flusher)
	wrote := false
	for fragment, err := range h.answerer.Answer(r.Context(), req.Question) {
		if err != nil {
			logger.Error("answer failed", "streamed", wrote, "err", err)
			if !wrote {
				http.Error(w, "failed to answer question", statusFor(err))
			}
			// Once streaming has begun the status is sent; the body ends short
			return
		}
		if _, err := w.Write([]byte(fragment)); err != nil {
			logger.Warn("client went away", "err", err)
			return
		}
		wrote = true
		if flusher != nil {
			flusher.Flush()
		}
	}
	logger.Info("answered", "duration", time.Since(start))
}

func statusFor(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// Serve runs handler on addr until ctx ends, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
