package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scrypster/hearth/pkg/types"
)

// GeminiClient talks to a Gemini-style generateContent endpoint. Responses
// are constrained by a JSON schema and decode into the tagged Action type.
type GeminiClient struct {
	baseURL        string
	apiKey         string
	model          string
	client         *http.Client
	circuitBreaker *CircuitBreaker
	retry          RetryPolicy
	timeout        time.Duration
}

// GeminiConfig holds LLM client configuration.
type GeminiConfig struct {
	// BaseURL is the service base URL (default: https://generativelanguage.googleapis.com)
	BaseURL string

	// APIKey authenticates requests. Required against the hosted service.
	APIKey string

	// Model is the model name (default: gemini-2.0-flash)
	Model string

	// Timeout is the per-attempt timeout (default: 30s)
	Timeout time.Duration

	// Retry bounds connection-failure retries (default: 3 attempts, 2s apart)
	Retry RetryPolicy
}

// NewGeminiClient creates an LLM client with the given configuration.
func NewGeminiClient(config GeminiConfig) *GeminiClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Retry.Attempts == 0 {
		config.Retry = DefaultRetryPolicy()
	}

	return &GeminiClient{
		baseURL:        config.BaseURL,
		apiKey:         config.APIKey,
		model:          config.Model,
		client:         &http.Client{Timeout: config.Timeout},
		circuitBreaker: NewCircuitBreaker("LLMService"),
		retry:          config.Retry,
		timeout:        config.Timeout,
	}
}

// generateContent request/response shapes.
type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMIMEType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// actionSchema constrains structured output to the tagged Action shape. The
// payload field is a JSON string rather than an object because schema-bound
// generation handles free-form objects poorly; the router re-parses it.
var actionSchema = json.RawMessage(`{
  "type": "OBJECT",
  "properties": {
    "action_type": {"type": "STRING", "enum": ["ha_command", "text_response"]},
    "command": {
      "type": "OBJECT",
      "properties": {
        "domain": {"type": "STRING", "description": "Device domain, e.g. 'light', 'switch', 'fan'"},
        "service": {"type": "STRING", "description": "Service to call, e.g. 'turn_on', 'turn_off', 'toggle'"},
        "entity_id": {"type": "STRING", "description": "Target entity id, e.g. 'light.sala_de_estar'"},
        "payload": {"type": "STRING", "description": "Optional JSON object encoded as a string, e.g. '{\"brightness_pct\": 50}'"}
      },
      "required": ["domain", "service", "entity_id"]
    },
    "response_text": {"type": "STRING", "description": "Text answer when no command is issued"}
  },
  "required": ["action_type"]
}`)

// GenerateAction sends a structured request constrained by the action schema
// and parses the reply into an Action.
func (c *GeminiClient) GenerateAction(ctx context.Context, prompt string) (*types.Action, error) {
	genCfg := &generationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   actionSchema,
	}

	var raw string
	err := c.retry.do(ctx, "structured request", func() error {
		result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
			return c.generate(ctx, prompt, genCfg)
		})
		if err != nil {
			return err
		}
		raw = result.(string)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ParseAction(raw)
}

// generate performs one generateContent attempt.
func (c *GeminiClient) generate(ctx context.Context, prompt string, cfg *generationConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: cfg,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	if c.apiKey != "" {
		url += "?key=" + c.apiKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: LLM service returned status %d: %s",
			ErrBadResponse, resp.StatusCode, string(raw))
	}

	var respData generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("%w: failed to decode LLM response: %v", ErrBadResponse, err)
	}
	if len(respData.Candidates) == 0 || len(respData.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: LLM response carried no candidates", ErrBadResponse)
	}

	text := respData.Candidates[0].Content.Parts[0].Text
	if text == "" {
		return "", fmt.Errorf("%w: LLM response carried empty text", ErrBadResponse)
	}
	return text, nil
}

var _ ActionGenerator = (*GeminiClient)(nil)
