package content

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardelis/postqueue/config"
	"github.com/ardelis/postqueue/errors"
	"github.com/ardelis/postqueue/internal/httpclient"
	"github.com/ardelis/postqueue/queue/policy"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	c, err := NewClient(config.GeneratorConfig{
		BaseURL:     baseURL,
		APIKey:      "test-key",
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		MaxTokens:   1000,
	}, nil)
	require.NoError(t, err)

	// Test servers listen on loopback, which the hardened client blocks
	c.httpc = httpclient.NewWithOptions(5*time.Second, httpclient.Options{AllowPrivate: true})
	return c
}

func completionResponse(text string) string {
	return `{"choices": [{"message": {"role": "assistant", "content": ` + mustJSON(text) + `}, "finish_reason": "stop"}], "usage": {"total_tokens": 42}}`
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestGenerateReturnsDraftText(t *testing.T) {
	var gotReq chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(completionResponse("  A punchy tweet about Go. #golang  ")))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	text, err := c.Generate(context.Background(), policy.Twitter, StyleShortPost, "Go generics", nil)
	require.NoError(t, err)
	assert.Equal(t, "A punchy tweet about Go. #golang", text)

	assert.Equal(t, "gpt-4o-mini", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Contains(t, gotReq.Messages[1].Content, "Go generics")
}

func TestGenerateIncludesTalkingPoints(t *testing.T) {
	var gotReq chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(completionResponse("post")))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	_, err := c.Generate(context.Background(), policy.LinkedIn, "", "hiring", []string{"remote first", "series B"})
	require.NoError(t, err)
	assert.Contains(t, gotReq.Messages[1].Content, "remote first")
	assert.Contains(t, gotReq.Messages[1].Content, "series B")
}

func TestGenerateRejectsEmptyTopic(t *testing.T) {
	c := newTestClient(t, "https://example.com")

	_, err := c.Generate(context.Background(), policy.Twitter, "", "   ", nil)
	assert.True(t, errors.IsValidation(err))
}

func TestGenerateSurfacesAPIFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "rate limited"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	_, err := c.Generate(context.Background(), policy.Twitter, "", "anything", nil)
	assert.ErrorIs(t, err, errors.ErrGeneration)
}

func TestGenerateRejectsEmptyCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionResponse("")))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	_, err := c.Generate(context.Background(), policy.Twitter, "", "anything", nil)
	assert.ErrorIs(t, err, errors.ErrGeneration)
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(config.GeneratorConfig{BaseURL: "https://example.com"}, nil)
	assert.Error(t, err)
}

func TestBuildPromptStyles(t *testing.T) {
	prompt, err := BuildPrompt(policy.Twitter, StyleThreadStarter, "shipping culture", nil)
	require.NoError(t, err)
	assert.Contains(t, prompt, "Twitter thread")
	assert.Contains(t, prompt, "shipping culture")

	// Unknown style lists what is available
	_, err = BuildPrompt(policy.Twitter, StyleEngagingCaption, "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), StyleShortPost)

	_, err = BuildPrompt("myspace", "", "x", nil)
	assert.ErrorIs(t, err, errors.ErrUnknownPlatform)
}

func TestBuildPromptDefaultStyle(t *testing.T) {
	prompt, err := BuildPrompt(policy.Instagram, "", "coffee art", nil)
	require.NoError(t, err)
	assert.Contains(t, prompt, "Instagram caption")
}
