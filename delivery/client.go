// Package delivery publishes posts through a Buffer-style scheduling API.
//
// The queue decides when a post goes out; this client only performs the
// outbound call, spacing requests per platform so a burst of due posts
// cannot trip the platform's own rate limiting.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ardelis/postqueue/config"
	"github.com/ardelis/postqueue/errors"
	"github.com/ardelis/postqueue/internal/httpclient"
	"github.com/ardelis/postqueue/queue/policy"
	"github.com/ardelis/postqueue/queue/post"
)

// Client delivers posts via the configured scheduling-API endpoint
type Client struct {
	httpc       *httpclient.Client
	baseURL     string
	accessToken string
	profiles    map[policy.Platform]string
	limiters    map[policy.Platform]*rate.Limiter
	log         *zap.SugaredLogger
}

// NewClient creates a delivery client. Each platform gets an egress
// limiter derived from its policy cooldown, so consecutive deliveries to
// the same platform are spaced at least one cooldown apart.
func NewClient(cfg config.DeliveryConfig, table *policy.Table, timeout time.Duration, log *zap.SugaredLogger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("delivery base_url is not configured")
	}
	if cfg.AccessToken == "" {
		return nil, errors.New("delivery access_token is not configured (set POSTQUEUE_DELIVERY_ACCESS_TOKEN)")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	profiles := make(map[policy.Platform]string, len(cfg.Profiles))
	for name, profileID := range cfg.Profiles {
		platform, err := policy.Parse(name)
		if err != nil {
			return nil, errors.Wrapf(err, "delivery.profiles key %q", name)
		}
		profiles[platform] = profileID
	}

	limiters := make(map[policy.Platform]*rate.Limiter)
	for _, platform := range table.Platforms() {
		pol, err := table.PolicyFor(platform)
		if err != nil {
			return nil, err
		}
		limit := rate.Inf
		if pol.Cooldown > 0 {
			limit = rate.Every(pol.Cooldown)
		}
		limiters[platform] = rate.NewLimiter(limit, 1)
	}

	return &Client{
		httpc:       httpclient.New(timeout),
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		accessToken: cfg.AccessToken,
		profiles:    profiles,
		limiters:    limiters,
		log:         log,
	}, nil
}

// Deliver publishes a post. Thread-style content goes out one segment at a
// time in order. The error is always a DeliveryError; a timeout means the
// outcome is unknown and the post may have gone out (at-least-once).
func (c *Client) Deliver(ctx context.Context, p *post.Post) error {
	profileID := p.ProfileID
	if profileID == "" {
		profileID = c.profiles[p.Platform]
	}
	if profileID == "" {
		return errors.Wrapf(errors.ErrDelivery, "no delivery profile configured for %s", p.Platform)
	}

	if limiter, ok := c.limiters[p.Platform]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return errors.Wrapf(errors.ErrDelivery, "cooldown wait aborted for %s: %v", p.Platform, err)
		}
	}

	for i, segment := range p.Segments() {
		// Key is stable per (post, attempt, segment) so a retried request
		// cannot double-post on the remote side.
		key := fmt.Sprintf("%s-%d-%d", p.ID, p.AttemptCount, i)
		if err := c.createUpdate(ctx, profileID, segment, key); err != nil {
			return errors.Wrapf(err, "segment %d of %d", i+1, len(p.Segments()))
		}
	}

	c.log.Infow("Delivered post",
		"post_id", p.ID,
		"platform", p.Platform,
		"profile_id", profileID,
		"segments", len(p.Segments()))
	return nil
}

// updateResponse is the subset of the API response the client checks
type updateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (c *Client) createUpdate(ctx context.Context, profileID, text, idempotencyKey string) error {
	endpoint := c.baseURL + "/updates/create.json"
	if _, err := c.httpc.ValidateURL(endpoint); err != nil {
		return errors.Wrap(err, "delivery endpoint rejected")
	}

	form := url.Values{}
	form.Set("text", text)
	form.Add("profile_ids[]", profileID)
	form.Set("now", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "failed to build delivery request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		wrapped := errors.Wrapf(errors.ErrDelivery, "delivery request failed: %v", err)
		if ctx.Err() != nil || isTimeout(err) {
			return errors.WithHint(wrapped, "Outcome unknown: the request may have reached the platform. Verify before re-posting manually.")
		}
		return wrapped
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Wrapf(errors.ErrDelivery, "delivery API returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed updateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		// 2xx with an unreadable body still means the update was accepted
		c.log.Debugw("Unparseable delivery response", "error", err)
		return nil
	}
	if !parsed.Success && parsed.Message != "" {
		return errors.Wrapf(errors.ErrDelivery, "delivery API rejected update: %s", parsed.Message)
	}

	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
