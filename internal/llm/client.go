// Package llm generates entry and thread summaries through an LLM, with a
// content-addressed cache in front and an extractive fallback behind.
//
// Two providers are supported: the default OpenAI-compatible
// /chat/completions endpoint (any base URL), and the Anthropic API. Select
// with WC_LLM_PROVIDER=openai|anthropic.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/steveyegge/watercooler/internal/telemetry"
)

const (
	defaultTimeout     = 120 * time.Second
	defaultMaxRetries  = 3
	defaultTemperature = 0.3
	defaultMaxTokens   = 512
)

// errEmptyResponse is returned when the API reports success with no choices.
var errEmptyResponse = errors.New("empty completion response")

// Client produces a completion for a prompt. Implementations are safe for
// concurrent use by the summarization worker pool.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// OpenAIConfig configures the OpenAI-compatible chat client.
type OpenAIConfig struct {
	BaseURL     string // e.g. https://api.deepseek.com/v1
	Model       string
	APIKey      string // optional; sent as Bearer auth when present
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// OpenAIClient talks to any OpenAI-compatible /chat/completions endpoint.
type OpenAIClient struct {
	cfg        OpenAIConfig
	httpClient *http.Client
	stats      *CallStats
}

// NewOpenAIClient builds a client with defaults filled in.
func NewOpenAIClient(cfg OpenAIConfig, stats *CallStats) (*OpenAIClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("llm: base URL required (set LLM_API_BASE)")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm: model required (set LLM_MODEL)")
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	llmMetricsOnce.Do(initLLMMetrics)
	return &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		stats:      stats,
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends one chat completion request, retrying transient failures
// (HTTP 5xx, 429, network errors) with exponential backoff.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	var result string

	op := func() error {
		var opErr error
		result, opErr = c.completeOnce(ctx, prompt)
		if opErr == nil {
			return nil
		}
		if !isRetryableHTTP(opErr) {
			return backoff.Permanent(opErr)
		}
		return opErr
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.MaxRetries)),
		ctx,
	)
	err := backoff.Retry(op, bo)

	d := time.Since(start)
	if c.stats != nil {
		c.stats.Record("llm:"+c.cfg.Model, d, err)
	}
	recordLLMCall(ctx, c.cfg.Model, d, err)

	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	return result, nil
}

// httpStatusError carries the status code for retry classification.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.status, e.body)
}

func (c *OpenAIClient) completeOnce(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &httpStatusError{status: resp.StatusCode, body: truncateForError(body)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errEmptyResponse
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// isRetryableHTTP reports whether an error warrants a retry: HTTP 5xx and
// 429, plus network-level failures. Context cancellation is never retried.
func isRetryableHTTP(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.status == http.StatusTooManyRequests || statusErr.status >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// http.Client wraps transport failures in *url.Error.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return false
}

func truncateForError(body []byte) string {
	const limit = 300
	s := string(body)
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// llmMetrics holds lazily-initialized OTel instruments for LLM calls.
var llmMetrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

var llmMetricsOnce sync.Once

func initLLMMetrics() {
	m := telemetry.Meter("github.com/steveyegge/watercooler/internal/llm")
	llmMetrics.calls, _ = m.Int64Counter("wc.llm.calls",
		metric.WithDescription("LLM completion calls"),
	)
	llmMetrics.duration, _ = m.Float64Histogram("wc.llm.request.duration",
		metric.WithDescription("LLM request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}

func recordLLMCall(ctx context.Context, model string, d time.Duration, err error) {
	if llmMetrics.calls == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("wc.llm.model", model),
		attribute.Bool("wc.llm.error", err != nil),
	)
	llmMetrics.calls.Add(ctx, 1, attrs)
	llmMetrics.duration.Record(ctx, float64(d.Milliseconds()), attrs)
}
