// Package grader talks to an OpenRouter-compatible chat-completions
// endpoint for pronunciation grading, translation checking, prompt
// generation and session summaries. Every caller treats the grader as
// best-effort: a failure here never blocks round scoring, which always has
// the lexical path to fall back to.
package grader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotConfigured is returned when no API key is set. Callers degrade to
// their lexical or static fallbacks.
var ErrNotConfigured = errors.New("grader: api key not configured")

// Error codes for classified upstream failures.
const (
	CodeAuthInvalid     = "auth_invalid"
	CodeRateLimited     = "rate_limited"
	CodePaymentRequired = "payment_required"
	CodeAPIError        = "api_error"
)

// APIError is a classified chat-completions failure.
type APIError struct {
	Status           int
	Code             string
	Message          string
	AffordableTokens int // parsed from 402 bodies when the provider hints at it
}

func (e *APIError) Error() string {
	return fmt.Sprintf("grader API error %d (%s): %s", e.Status, e.Code, e.Message)
}

var affordRe = regexp.MustCompile(`(?i)can only afford (\d+)`)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CallOpts are per-request options. Zero values fall back to the client
// defaults.
type CallOpts struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Client is a thin chat-completions HTTP client.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a chat-completions client.
func NewClient(baseURL, apiKey, model string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "grader").Logger(),
	}
}

// Model returns the default model identifier.
func (c *Client) Model() string { return c.model }

// Complete posts the messages and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, messages []Message, opts CallOpts) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}

	model := opts.Model
	if model == "" {
		model = c.model
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 800
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("grader request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyError(resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("grader returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// classifyError maps upstream status codes onto the error taxonomy. 402
// bodies are scanned for an "affordable token count" hint.
func classifyError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Code: CodeAPIError, Message: string(body)}

	switch status {
	case http.StatusUnauthorized:
		apiErr.Code = CodeAuthInvalid
	case http.StatusTooManyRequests:
		apiErr.Code = CodeRateLimited
	case http.StatusPaymentRequired:
		apiErr.Code = CodePaymentRequired
		msg := string(body)
		var wrapped struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &wrapped) == nil && wrapped.Error.Message != "" {
			msg = wrapped.Error.Message
		}
		if m := affordRe.FindStringSubmatch(msg); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				apiErr.AffordableTokens = n
			}
		}
	}
	return apiErr
}
