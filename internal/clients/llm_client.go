package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/btcagent/pkg/retrier"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout           = 60 * time.Second
	defaultMaxAttempts       = 3
	defaultRetryDelay        = 2 * time.Second
	defaultMaxTokens         = 400
	defaultRequestsPerSecond = 1
	defaultBurst             = 2
)

// LLMClient sends a single-turn chat to a model and returns the raw answer.
type LLMClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// OpenAICompatibleClient talks to any endpoint implementing the OpenAI chat completions API.
type OpenAICompatibleClient struct {
	apiURL      string
	apiKey      string
	model       string
	temperature float64
	jsonMode    bool
	httpClient  *http.Client
	retrier     *retrier.Retrier
	limiter     *rate.Limiter
}

// LLMOption configures the client.
type LLMOption func(*OpenAICompatibleClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) LLMOption {
	return func(o *OpenAICompatibleClient) {
		o.httpClient = c
	}
}

// WithRetrier replaces the default retry policy.
func WithRetrier(r *retrier.Retrier) LLMOption {
	return func(o *OpenAICompatibleClient) {
		o.retrier = r
	}
}

// WithRateLimit sets the request rate. Zero disables limiting.
func WithRateLimit(rps float64, burst int) LLMOption {
	return func(o *OpenAICompatibleClient) {
		if rps <= 0 {
			o.limiter = nil
			return
		}
		o.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) LLMOption {
	return func(o *OpenAICompatibleClient) {
		o.temperature = t
	}
}

// WithJSONMode asks the endpoint for a JSON object response.
func WithJSONMode(enabled bool) LLMOption {
	return func(o *OpenAICompatibleClient) {
		o.jsonMode = enabled
	}
}

// NewOpenAICompatibleClient creates a new client for OpenAI-compatible APIs.
func NewOpenAICompatibleClient(apiURL, apiKey, model string, opts ...LLMOption) *OpenAICompatibleClient {
	c := &OpenAICompatibleClient{
		apiURL:      apiURL,
		apiKey:      apiKey,
		model:       model,
		temperature: 0.2,
		jsonMode:    true,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		retrier: retrier.New(
			retrier.WithMaxAttempts(defaultMaxAttempts),
			retrier.WithInitialInterval(defaultRetryDelay),
		),
		limiter: rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultBurst),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Model returns the configured model name.
func (c *OpenAICompatibleClient) Model() string {
	return c.model
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string    `json:"id"`
	Model   string    `json:"model"`
	Choices []choice  `json:"choices"`
	Error   *apiError `json:"error,omitempty"`
}

type choice struct {
	Index        int     `json:"index"`
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// Complete sends the prompts and returns the first choice content.
func (c *OpenAICompatibleClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("LLM API key is empty")
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.temperature,
		MaxTokens:   defaultMaxTokens,
	}
	if c.jsonMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	content, err := retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) (string, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", retrier.Permanent(err)
			}
		}
		return c.sendRequest(ctx, reqBody)
	})
	if err != nil {
		return "", errors.Wrapf(err, "LLM request failed after %d attempts", c.retrier.Attempts())
	}

	return content, nil
}

func (c *OpenAICompatibleClient) sendRequest(ctx context.Context, reqBody chatRequest) (string, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", retrier.Permanent(errors.Wrap(err, "failed to marshal request"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", retrier.Permanent(errors.Wrap(err, "failed to create HTTP request"))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "HTTP request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := errors.Errorf("LLM API returned status %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", retrier.Permanent(statusErr)
		}
		return "", statusErr
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", errors.Wrap(err, "failed to unmarshal response")
	}

	if chatResp.Error != nil {
		return "", errors.Errorf("LLM API error: %s (type: %s, code: %v)",
			chatResp.Error.Message, chatResp.Error.Type, chatResp.Error.Code)
	}

	if len(chatResp.Choices) == 0 {
		return "", errors.New("LLM API returned no choices")
	}

	return chatResp.Choices[0].Message.Content, nil
}
