// Package oracle talks to the remote vision-capable reasoning service that
// decides what a persona should do next and which issues it can see. The
// service speaks the OpenAI chat-completions wire format; responses are free
// text expected to carry one JSON payload, optionally fenced.
package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/simulant-labs/simulant/internal/logging"
)

// Bug is one issue reported by the oracle. Severity is free text on the wire;
// unrecognized values are weighted as medium downstream.
type Bug struct {
	Title          string `json:"title"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	Impact         string `json:"impact"`
	Recommendation string `json:"recommendation"`
}

// Action is the next step the oracle wants the persona to take.
// Type is one of click, type, scroll, skip, done.
type Action struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	Text   string `json:"text"`
}

// Decision is the structured result extracted from one oracle response.
// Action and OverallAssessment are populated depending on the call site.
type Decision struct {
	Thought           string  `json:"thought"`
	Bugs              []Bug   `json:"bugs"`
	Action            *Action `json:"action"`
	OverallAssessment string  `json:"overall_assessment"`
}

// Config holds the connection settings for the reasoning service.
type Config struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// Attempts is the total number of tries per consultation.
	Attempts   int           `yaml:"attempts"`
	RetryPause time.Duration `yaml:"retry_pause"`

	// HTTPTimeout bounds a single request.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// DefaultConfig returns settings matching the hosted service defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://openrouter.ai/api/v1",
		Model:       "anthropic/claude-3.5-sonnet",
		Temperature: 0.3,
		MaxTokens:   1500,
		Attempts:    2,
		RetryPause:  500 * time.Millisecond,
		HTTPTimeout: 60 * time.Second,
	}
}

// Client consults the reasoning service with bounded retry.
type Client struct {
	cfg    Config
	http   *http.Client
	logger logging.Logger
}

// NewClient builds a Client. A nil logger is replaced with a stdout logger.
func NewClient(cfg Config, logger logging.Logger) *Client {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("oracle")
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger,
	}
}

// chat-completions request/response shapes. Content parts carry the prompt
// text plus an optional inline screenshot.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Ask sends prompt (plus an optional PNG screenshot) to the service and
// extracts the structured decision. It retries on any failure, transport or
// parse, up to the configured attempt count. After the final failure it
// returns (nil, err); callers treat a nil decision as "no findings, no
// action" and carry on.
func (c *Client) Ask(ctx context.Context, prompt string, screenshot []byte) (*Decision, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.cfg.RetryPause):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		decision, err := c.ask(ctx, prompt, screenshot)
		if err == nil {
			return decision, nil
		}
		lastErr = err
		c.logger.Warn("oracle call failed",
			logging.Field{Key: "attempt", Value: attempt + 1},
			logging.Field{Key: "error", Value: err.Error()})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("oracle: all %d attempts failed: %w", c.cfg.Attempts, lastErr)
}

func (c *Client) ask(ctx context.Context, prompt string, screenshot []byte) (*Decision, error) {
	parts := []contentPart{{Type: "text", Text: prompt}}
	if len(screenshot) > 0 {
		parts = append(parts, contentPart{
			Type: "image_url",
			ImageURL: &imageURL{
				URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(screenshot),
			},
		})
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: parts}},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}

	decision, err := ExtractDecision(cr.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("extract decision: %w", err)
	}
	return decision, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
