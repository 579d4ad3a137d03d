package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EmbedderClient talks to the embedding service's /get_embedding endpoint.
// Calls carry a per-attempt timeout and run through the retry policy and a
// circuit breaker.
type EmbedderClient struct {
	baseURL        string
	client         *http.Client
	circuitBreaker *CircuitBreaker
	retry          RetryPolicy
	timeout        time.Duration
}

// EmbedderConfig holds embedding client configuration.
type EmbedderConfig struct {
	// BaseURL is the base URL of the embedding service (default: http://localhost:5001)
	BaseURL string

	// Timeout is the per-attempt timeout (default: 30s)
	Timeout time.Duration

	// Retry bounds connection-failure retries (default: 3 attempts, 2s apart)
	Retry RetryPolicy
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// NewEmbedderClient creates an embedding client with the given configuration.
func NewEmbedderClient(config EmbedderConfig) *EmbedderClient {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:5001"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Retry.Attempts == 0 {
		config.Retry = DefaultRetryPolicy()
	}

	return &EmbedderClient{
		baseURL:        config.BaseURL,
		client:         &http.Client{Timeout: config.Timeout},
		circuitBreaker: NewCircuitBreaker("EmbeddingService"),
		retry:          config.Retry,
		timeout:        config.Timeout,
	}
}

// Embed returns the embedding vector for text. Connection failures are
// retried per the policy; an unusable reply fails immediately with
// ErrBadResponse.
func (c *EmbedderClient) Embed(ctx context.Context, text string) ([]float64, error) {
	var embedding []float64
	err := c.retry.do(ctx, "embedding request", func() error {
		result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
			return c.embed(ctx, text)
		})
		if err != nil {
			return err
		}
		embedding = result.([]float64)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return embedding, nil
}

func (c *EmbedderClient) embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/get_embedding", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: embedding service returned status %d: %s",
			ErrBadResponse, resp.StatusCode, string(raw))
	}

	var respData embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("%w: failed to decode embedding response: %v", ErrBadResponse, err)
	}
	if respData.Error != "" {
		return nil, fmt.Errorf("%w: embedding service error: %s", ErrBadResponse, respData.Error)
	}
	if len(respData.Embedding) == 0 {
		return nil, fmt.Errorf("%w: embedding service returned an empty vector", ErrBadResponse)
	}

	return respData.Embedding, nil
}

var _ EmbeddingGenerator = (*EmbedderClient)(nil)
