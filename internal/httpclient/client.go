// Package httpclient provides the hardened HTTP client used for all
// outbound API calls (delivery channel, content generation).
package httpclient

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ardelis/postqueue/errors"
)

const defaultMaxRedirects = 10

// Client wraps http.Client with egress guards: bounded timeout, a redirect
// cap, scheme allow-listing, and optional private-address blocking. Every
// external call the queue makes goes through one of these so no delivery
// attempt can block indefinitely.
type Client struct {
	*http.Client
	allowedSchemes []string
	blockPrivate   bool
	maxRedirects   int
}

// Options customizes egress protection. Zero values take the defaults.
type Options struct {
	AllowedSchemes []string // default: ["https", "http"]
	MaxRedirects   int      // default: 10
	AllowPrivate   bool     // default: false (private/loopback addresses blocked)
}

// New creates a hardened HTTP client with the given request timeout.
func New(timeout time.Duration) *Client {
	return NewWithOptions(timeout, Options{})
}

// NewWithOptions creates a hardened HTTP client with custom guard options.
func NewWithOptions(timeout time.Duration, opts Options) *Client {
	schemes := opts.AllowedSchemes
	if schemes == nil {
		schemes = []string{"https", "http"}
	}
	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = defaultMaxRedirects
	}

	c := &Client{
		Client:         &http.Client{Timeout: timeout},
		allowedSchemes: schemes,
		blockPrivate:   !opts.AllowPrivate,
		maxRedirects:   maxRedirects,
	}

	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= c.maxRedirects {
			return errors.Newf("stopped after %d redirects", c.maxRedirects)
		}
		if err := c.validateURL(req.URL); err != nil {
			return errors.Wrap(err, "redirect blocked")
		}
		return nil
	}

	return c
}

// ValidateURL parses and validates a URL string before a request is built.
func (c *Client) ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.validateURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *Client) validateURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	allowed := false
	for _, s := range c.allowedSchemes {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Newf("scheme %q not allowed (allowed: %v)", scheme, c.allowedSchemes)
	}

	hostname := u.Hostname()
	if hostname == "" {
		return errors.New("URL missing hostname")
	}

	if c.blockPrivate {
		if isLocalhost(hostname) {
			return errors.New("localhost access blocked")
		}
		if ip := net.ParseIP(hostname); ip != nil && isPrivateIP(ip) {
			return errors.Newf("private address blocked: %s", hostname)
		}
	}

	return nil
}

func isLocalhost(hostname string) bool {
	h := strings.ToLower(hostname)
	return h == "localhost" || h == "localhost.localdomain" || strings.HasSuffix(h, ".localhost")
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
