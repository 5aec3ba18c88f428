package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	anthropicMaxRetries     = 3
	anthropicInitialBackoff = 1 * time.Second
	defaultAnthropicModel   = "claude-3-5-haiku-latest"
)

// errAPIKeyRequired is returned when an API key is needed but not provided.
var errAPIKeyRequired = errors.New("API key required")

// AnthropicClient wraps the Anthropic API as a summarization provider.
// Env var ANTHROPIC_API_KEY takes precedence over the explicit key.
type AnthropicClient struct {
	client         anthropic.Client
	model          anthropic.Model
	maxRetries     int
	initialBackoff time.Duration
	stats          *CallStats
}

// NewAnthropicClient creates an Anthropic-backed Client.
func NewAnthropicClient(apiKey, model string, stats *CallStats) (*AnthropicClient, error) {
	envKey := os.Getenv("ANTHROPIC_API_KEY")
	if envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or provide via credentials", errAPIKeyRequired)
	}
	if model == "" {
		model = defaultAnthropicModel
	}
	llmMetricsOnce.Do(initLLMMetrics)
	return &AnthropicClient{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          anthropic.Model(model),
		maxRetries:     anthropicMaxRetries,
		initialBackoff: anthropicInitialBackoff,
		stats:          stats,
	}, nil
}

// Complete sends one message and returns the text block of the response,
// retrying 429s and 5xx with exponential backoff.
func (a *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	text, err := a.callWithRetry(ctx, prompt)
	d := time.Since(start)
	if a.stats != nil {
		a.stats.Record("llm:"+string(a.model), d, err)
	}
	recordLLMCall(ctx, string(a.model), d, err)
	return text, err
}

func (a *AnthropicClient) callWithRetry(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: defaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			wait := a.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, err := a.client.Messages.New(ctx, params)
		if err == nil {
			if len(message.Content) == 0 {
				return "", errEmptyResponse
			}
			content := message.Content[0]
			if content.Type != "text" {
				return "", fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type)
			}
			return content.Text, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryableAnthropic(err) {
			return "", fmt.Errorf("non-retryable error: %w", err)
		}
	}

	return "", fmt.Errorf("failed after %d retries: %w", a.maxRetries+1, lastErr)
}

func isRetryableAnthropic(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
