package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single model request.
	DefaultTimeout = 180 * time.Second

	chatCompletionsPath = "/chat/completions"
)

// Client calls an OpenAI-compatible chat completion endpoint.
type Client struct {
	BaseURL string
	APIKey  string
	Model   string

	HTTPClient *http.Client
	limiter    *rate.Limiter
	defaults   Options
}

// NewClient creates a client for cfg. A positive RequestsPerSecond throttles requests.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Name,
		HTTPClient: &http.Client{Timeout: timeout},
		defaults:   cfg.DefaultOptions(),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
}

// Generate sends messages and returns the first choice. Reasoning returned out of band is
// wrapped in a <think> block ahead of the content.
func (c *Client) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	resp, err := c.send(ctx, messages, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode model response: %w", err)
	}
	if payload.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrProvider, payload.Error.Message)
	}
	if len(payload.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	msg := payload.Choices[0].Message
	if msg.ReasoningContent != "" && !strings.Contains(msg.Content, "<think>") {
		return "<think>" + msg.ReasoningContent + "</think>" + msg.Content, nil
	}
	return msg.Content, nil
}

// Stream sends messages with streaming enabled.
func (c *Client) Stream(ctx context.Context, messages []Message, opts Options) (*Stream, error) {
	resp, err := c.send(ctx, messages, opts, true)
	if err != nil {
		return nil, err
	}
	return newSSEStream(resp.Body), nil
}

func (c *Client) send(ctx context.Context, messages []Message, opts Options, stream bool) (*http.Response, error) {
	if c.BaseURL == "" || c.Model == "" {
		return nil, ErrNoModel
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req := chatRequest{
		Model:       c.Model,
		Messages:    messages,
		Temperature: c.defaults.Temperature,
		MaxTokens:   c.defaults.MaxTokens,
		Stream:      stream,
	}
	if opts.Temperature != nil {
		req.Temperature = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var payload chatResponse
		if json.Unmarshal(data, &payload) == nil && payload.Error != nil {
			return nil, fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, payload.Error.Message)
		}
		return nil, fmt.Errorf("%w: status %d", ErrProvider, resp.StatusCode)
	}
	return resp, nil
}

// endpoint accepts either an API root ("https://host/v1") or a full completions URL.
func (c *Client) endpoint() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if strings.HasSuffix(base, chatCompletionsPath) {
		return base
	}
	return base + chatCompletionsPath
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: DefaultTimeout}
}
