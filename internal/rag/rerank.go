package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Yates-Labs/newsagent/internal/retry"
)

// RerankDocument is one candidate passed to the reranker.
type RerankDocument struct {
	ID   string
	Text string
}

// RerankResult points back into the candidate slice by Index.
type RerankResult struct {
	Index int
	ID    string
	Score float64
}

// Reranker scores candidates against a query and returns the best topN,
// highest relevance first.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []RerankDocument, topN int) ([]RerankResult, error)
}

// RerankConfig configures a Cohere-compatible rerank endpoint.
type RerankConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	RequestsPerMinute int
	Timeout           time.Duration
	Retry             retry.Policy
}

// DefaultRerankConfig returns the bge-reranker-v2-m3 setup paced at 60 requests per minute.
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		Model:             "bge-reranker-v2-m3",
		RequestsPerMinute: 60,
		Timeout:           30 * time.Second,
		Retry:             retry.DefaultPolicy(IsRateLimited),
	}
}

// HTTPReranker calls POST {base}/v2/rerank.
type HTTPReranker struct {
	httpClient *http.Client
	config     RerankConfig
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// RerankOption configures an HTTPReranker.
type RerankOption func(*HTTPReranker)

// WithRerankLogger sets the reranker logger.
func WithRerankLogger(logger *slog.Logger) RerankOption {
	return func(r *HTTPReranker) {
		r.logger = logger
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) RerankOption {
	return func(r *HTTPReranker) {
		r.httpClient = c
	}
}

// NewHTTPReranker creates a reranker client.
func NewHTTPReranker(config RerankConfig, opts ...RerankOption) (*HTTPReranker, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrRerankFailed)
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = retry.DefaultPolicy(IsRateLimited)
	}

	limit := rate.Inf
	if config.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(config.RequestsPerMinute) / 60)
	}

	r := &HTTPReranker{
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "reranker")
	if r.config.Retry.Logger == nil {
		r.config.Retry.Logger = r.logger
	}
	return r, nil
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank returns at most topN results sorted by the service's relevance order.
// An empty candidate list returns no results without calling the service.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, docs []RerankDocument, topN int) ([]RerankResult, error) {
	if len(docs) == 0 {
		return []RerankResult{}, nil
	}
	topN = min(max(topN, 1), len(docs))

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	body, err := json.Marshal(rerankRequest{
		Model:     r.config.Model,
		Query:     query,
		Documents: texts,
		TopN:      topN,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrRerankFailed, err)
	}

	var parsed rerankResponse
	err = r.config.Retry.Do(ctx, func(ctx context.Context) error {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		return r.post(ctx, body, &parsed)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRerankFailed, err)
	}

	results := make([]RerankResult, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(docs) {
			return nil, fmt.Errorf("%w: result index %d out of range", ErrRerankFailed, res.Index)
		}
		results = append(results, RerankResult{
			Index: res.Index,
			ID:    docs[res.Index].ID,
			Score: res.RelevanceScore,
		})
		if len(results) == topN {
			break
		}
	}
	r.logger.Debug("reranked candidates", "candidates", len(docs), "returned", len(results))
	return results, nil
}

func (r *HTTPReranker) post(ctx context.Context, body []byte, out *rerankResponse) error {
	url := strings.TrimRight(r.config.BaseURL, "/") + "/v2/rerank"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.APIKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: rerank returned 429", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("rerank returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
