package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultAPIURL  = "https://api.openai.com/v1/chat/completions"
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 30 * time.Second

	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	maxErrorBody   = 4096
)

// Config is the generation endpoint configuration, resolved once at startup.
type Config struct {
	APIURL  string
	APIKey  string
	Model   string
	Timeout time.Duration // per attempt
}

// Prompt is one chat-completion call: a system instruction, the user message
// and the completion token budget.
type Prompt struct {
	Event     string // log prefix, e.g. "text_processing"
	System    string
	User      string
	MaxTokens int
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	backoff    time.Duration
	logger     *slog.Logger
}

// NewClient creates a Client. Empty fields in cfg take the package defaults.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		backoff:    initialBackoff,
		logger:     logger,
	}
}

// Configured reports whether a credential is present.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage json.RawMessage `json:"usage"`
}

// Generate runs the prompt and returns the trimmed completion. Every failure
// mode (no credential, transport error, timeout, non-2xx, bad JSON, empty
// content) yields ("", false); detail goes to the log only.
func (c *Client) Generate(ctx context.Context, p Prompt) (string, bool) {
	event := p.Event
	if event == "" {
		event = "generation"
	}
	if !c.Configured() {
		c.logger.Warn("generation credential not configured", "event", "openai_"+event+"_skipped")
		return "", false
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		MaxCompletionTokens: p.MaxTokens,
	})
	if err != nil {
		c.logger.Error("marshaling generation request", "event", "openai_"+event+"_exception", "error", err)
		return "", false
	}

	c.logger.Debug("generation request",
		"event", "openai_"+event+"_request",
		"model", c.cfg.Model,
		"prompt_length", len(p.User),
		"max_tokens", p.MaxTokens,
		"url", c.cfg.APIURL,
	)

	resp, err := c.send(ctx, body)
	if err != nil {
		c.logger.Error("generation request failed", "event", "openai_"+event+"_error", "error", err)
		return "", false
	}

	var finish string
	var content string
	if len(resp.Choices) > 0 {
		finish = resp.Choices[0].FinishReason
		content = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	c.logger.Debug("generation response",
		"event", "openai_"+event+"_response",
		"model", resp.Model,
		"finish_reason", finish,
		"usage", string(resp.Usage),
		"response_length", len(content),
	)
	if content == "" {
		c.logger.Warn("generation returned empty content",
			"event", "openai_"+event+"_empty_response",
			"finish_reason", finish,
			"usage", string(resp.Usage),
		)
		return "", false
	}
	return content, true
}

// send posts the body, retrying on HTTP 429 with exponential backoff.
func (c *Client) send(ctx context.Context, body []byte) (chatResponse, error) {
	var lastErr error
	for attempt := range maxRetries {
		resp, err := c.doChat(ctx, body)
		if err == nil {
			return resp, nil
		}
		if !isRateLimit(err) {
			return chatResponse{}, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return chatResponse{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return chatResponse{}, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

func (c *Client) doChat(ctx context.Context, body []byte) (chatResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return chatResponse{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return chatResponse{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return chatResponse{}, &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return chatResponse{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return chatResponse{}, fmt.Errorf("decoding response: %w", err)
	}
	return out, nil
}
