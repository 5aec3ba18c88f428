// Package embed fetches embedding vectors from an OpenAI-compatible
// /embeddings endpoint, batching requests and caching vectors by text hash.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/steveyegge/watercooler/internal/cache"
	"github.com/steveyegge/watercooler/internal/llm"
)

const (
	defaultBatchSize  = 16
	defaultTimeout    = 120 * time.Second
	defaultMaxRetries = 3
)

// Config configures the embedding client.
type Config struct {
	BaseURL    string // e.g. https://api.openai.com/v1
	Model      string
	APIKey     string // optional; sent as Bearer auth when present
	BatchSize  int
	Timeout    time.Duration
	MaxRetries int
}

// Embedder turns texts into vectors. The cache is consulted first; only
// misses go to the wire.
type Embedder struct {
	cfg        Config
	httpClient *http.Client
	cache      *cache.Cache
	stats      *llm.CallStats
}

// New builds an Embedder with defaults filled in. cache may be nil.
func New(cfg Config, c *cache.Cache, stats *llm.CallStats) (*Embedder, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("embed: base URL required (set EMBEDDING_API_BASE)")
	}
	if cfg.Model == "" {
		return nil, errors.New("embed: model required (set EMBEDDING_MODEL)")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Embedder{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      c,
		stats:      stats,
	}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// EmbedTexts returns one vector per input text, in input order. Cached
// vectors are served from disk; the remainder is fetched in batches and
// written back to the cache.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float64, len(texts))
	missing := make([]int, 0, len(texts))
	if e.cache != nil {
		results, missing = e.cache.GetEmbeddings(texts)
	} else {
		for i := range texts {
			missing = append(missing, i)
		}
	}

	for start := 0; start < len(missing); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		inputs := make([]string, len(batch))
		for i, idx := range batch {
			inputs[i] = texts[idx]
		}

		vectors, err := e.embedBatch(ctx, inputs)
		if err != nil {
			return nil, fmt.Errorf("embed batch of %d: %w", len(batch), err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(batch), len(vectors))
		}

		for i, idx := range batch {
			results[idx] = vectors[i]
			if e.cache != nil {
				if err := e.cache.PutEmbedding(texts[idx], vectors[i]); err != nil {
					return nil, fmt.Errorf("cache embedding: %w", err)
				}
			}
		}
	}

	return results, nil
}

// embedBatch fetches vectors for one batch, retrying transient failures.
// The response data is sorted by index before use; the API does not
// guarantee order.
func (e *Embedder) embedBatch(ctx context.Context, inputs []string) ([][]float64, error) {
	start := time.Now()
	var vectors [][]float64

	op := func() error {
		var opErr error
		vectors, opErr = e.embedOnce(ctx, inputs)
		if opErr == nil {
			return nil
		}
		if !retryable(opErr) {
			return backoff.Permanent(opErr)
		}
		return opErr
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(e.cfg.MaxRetries)),
		ctx,
	)
	err := backoff.Retry(op, bo)

	if e.stats != nil {
		e.stats.Record("embed:"+e.cfg.Model, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

func (e *Embedder) embedOnce(ctx context.Context, inputs []string) ([][]float64, error) {
	payload, err := json.Marshal(embeddingRequest{Model: e.cfg.Model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimSuffix(e.cfg.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{status: resp.StatusCode, body: truncate(body)}
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("api error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(inputs), len(parsed.Data))
	}

	sort.Slice(parsed.Data, func(i, j int) bool {
		return parsed.Data[i].Index < parsed.Data[j].Index
	})
	vectors := make([][]float64, len(parsed.Data))
	for i, d := range parsed.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.status, e.body)
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *statusError
	if errors.As(err, &statusErr) {
		return statusErr.status == http.StatusTooManyRequests || statusErr.status >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return false
}

func truncate(body []byte) string {
	const limit = 300
	s := string(body)
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// Cosine returns the cosine similarity of two vectors, 0 when either is
// empty or lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
