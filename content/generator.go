// Package content drafts post bodies through an OpenAI-compatible
// chat-completions endpoint. Generation sits upstream of the queue: a
// failed generation means a post never reaches draft, nothing more.
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ardelis/postqueue/config"
	"github.com/ardelis/postqueue/errors"
	"github.com/ardelis/postqueue/internal/httpclient"
	"github.com/ardelis/postqueue/queue/policy"
)

// Generator drafts platform-appropriate post content
type Generator interface {
	Generate(ctx context.Context, platform policy.Platform, style, topic string, points []string) (string, error)
}

const systemPrompt = "You are a social media copywriter. Respond with the post text only, " +
	"no preamble, no quotation marks around the whole post."

// Client is a Generator backed by an OpenAI-compatible chat-completions API
type Client struct {
	cfg   config.GeneratorConfig
	httpc *httpclient.Client
	log   *zap.SugaredLogger
}

// NewClient creates a generation client from configuration
func NewClient(cfg config.GeneratorConfig, log *zap.SugaredLogger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("generator api_key is not configured (set POSTQUEUE_GENERATOR_API_KEY)")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("generator base_url is not configured")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		cfg:   cfg,
		httpc: httpclient.New(timeout),
		log:   log,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate drafts post content for the platform. Failures are
// GenerationErrors; callers simply never create the draft.
func (c *Client) Generate(ctx context.Context, platform policy.Platform, style, topic string, points []string) (string, error) {
	if strings.TrimSpace(topic) == "" {
		return "", errors.NewValidationError("topic cannot be empty")
	}

	prompt, err := BuildPrompt(platform, style, topic, points)
	if err != nil {
		return "", err
	}

	reqBody, err := json.Marshal(chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal generation request")
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", errors.Wrap(err, "failed to build generation request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errors.Wrapf(errors.ErrGeneration, "generation request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "failed to read generation response")
	}

	if resp.StatusCode != http.StatusOK {
		return "", errors.Wrapf(errors.ErrGeneration,
			"generation API returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errors.Wrapf(errors.ErrGeneration, "unparseable generation response: %v", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.Wrap(errors.ErrGeneration, "generation response has no choices")
	}

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return "", errors.Wrap(errors.ErrGeneration, "generation returned empty content")
	}

	c.log.Debugw("Generated content",
		"platform", platform,
		"style", style,
		"length", len(text),
		"total_tokens", parsed.Usage.TotalTokens)
	return text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
