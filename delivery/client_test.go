package delivery

import (
	"context"
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
	"github.com/ardelis/postqueue/queue/post"
)

func newTestTable(t *testing.T) *policy.Table {
	t.Helper()
	table, err := policy.NewTable(map[string]config.PolicyConfig{
		"linkedin":  {MaxPerWindow: 10, WindowHours: 24, PreferredTimeOfDay: "09:00"},
		"twitter":   {MaxPerWindow: 30, WindowHours: 24, PreferredTimeOfDay: "12:00"},
		"instagram": {MaxPerWindow: 3, WindowHours: 24, PreferredTimeOfDay: "18:00", Manual: true},
	})
	require.NoError(t, err)
	return table
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	c, err := NewClient(config.DeliveryConfig{
		BaseURL:     baseURL,
		AccessToken: "test-token",
		Profiles:    map[string]string{"twitter": "tw-profile", "linkedin": "li-profile"},
	}, newTestTable(t), 5*time.Second, nil)
	require.NoError(t, err)

	// Test servers listen on loopback, which the hardened client blocks
	c.httpc = httpclient.NewWithOptions(5*time.Second, httpclient.Options{AllowPrivate: true})
	return c
}

type capturedUpdate struct {
	text           string
	profileID      string
	authorization  string
	idempotencyKey string
}

func TestDeliverSendsUpdate(t *testing.T) {
	var captured []capturedUpdate
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		captured = append(captured, capturedUpdate{
			text:           r.PostForm.Get("text"),
			profileID:      r.PostForm.Get("profile_ids[]"),
			authorization:  r.Header.Get("Authorization"),
			idempotencyKey: r.Header.Get("Idempotency-Key"),
		})
		w.Write([]byte(`{"success": true}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	p, err := post.New(policy.Twitter, "hello twitter", "", "", "")
	require.NoError(t, err)
	p.AttemptCount = 1

	require.NoError(t, c.Deliver(context.Background(), p))

	require.Len(t, captured, 1)
	assert.Equal(t, "hello twitter", captured[0].text)
	assert.Equal(t, "tw-profile", captured[0].profileID)
	assert.Equal(t, "Bearer test-token", captured[0].authorization)
	assert.Equal(t, p.ID+"-1-0", captured[0].idempotencyKey)
}

func TestDeliverSendsThreadSegmentsInOrder(t *testing.T) {
	var texts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		texts = append(texts, r.PostForm.Get("text"))
		w.Write([]byte(`{"success": true}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	p, err := post.New(policy.Twitter, "first\n---\nsecond\n---\nthird", "", "", "")
	require.NoError(t, err)

	require.NoError(t, c.Deliver(context.Background(), p))
	assert.Equal(t, []string{"first", "second", "third"}, texts)
}

func TestDeliverPrefersPostProfileID(t *testing.T) {
	var profileID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		profileID = r.PostForm.Get("profile_ids[]")
		w.Write([]byte(`{"success": true}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	p, err := post.New(policy.Twitter, "content", "", "", "override-profile")
	require.NoError(t, err)

	require.NoError(t, c.Deliver(context.Background(), p))
	assert.Equal(t, "override-profile", profileID)
}

func TestDeliverFailsWithoutProfile(t *testing.T) {
	c := newTestClient(t, "https://example.com")

	// instagram has no configured profile
	p, err := post.New(policy.Instagram, "content", "", "", "")
	require.NoError(t, err)

	err = c.Deliver(context.Background(), p)
	assert.ErrorIs(t, err, errors.ErrDelivery)
}

func TestDeliverSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`upstream exploded`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	p, err := post.New(policy.Twitter, "content", "", "", "")
	require.NoError(t, err)

	err = c.Deliver(context.Background(), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDelivery)
	assert.Contains(t, err.Error(), "502")
}

func TestDeliverSurfacesRejectedUpdate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false, "message": "profile suspended"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	p, err := post.New(policy.Twitter, "content", "", "", "")
	require.NoError(t, err)

	err = c.Deliver(context.Background(), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDelivery)
	assert.Contains(t, err.Error(), "profile suspended")
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(config.DeliveryConfig{BaseURL: "https://example.com"}, newTestTable(t), time.Second, nil)
	assert.Error(t, err)

	_, err = NewClient(config.DeliveryConfig{AccessToken: "tok"}, newTestTable(t), time.Second, nil)
	assert.Error(t, err)
}

func TestNewClientRejectsUnknownProfilePlatform(t *testing.T) {
	_, err := NewClient(config.DeliveryConfig{
		BaseURL:     "https://example.com",
		AccessToken: "tok",
		Profiles:    map[string]string{"myspace": "x"},
	}, newTestTable(t), time.Second, nil)
	assert.ErrorIs(t, err, errors.ErrUnknownPlatform)
}
