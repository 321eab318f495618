// Package daemon sends single requests to a container daemon's HTTP API and classifies
// the responses. It knows nothing about individual endpoints beyond their templates.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/HershyOrg/dockhand/config"
	"github.com/HershyOrg/dockhand/logger"
)

// maxTextBody bounds Text responses.
const maxTextBody = 1 << 20

// Client is immutable after construction and safe for concurrent use.
type Client struct {
	base    *url.URL
	version string
	http    *http.Client
	log     *logger.Logger
	metrics *Metrics
}

type Option func(*Client)

// WithAPIVersion pins requests to /v<version>/... paths.
func WithAPIVersion(version string) Option {
	return func(c *Client) { c.version = version }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient returns a Client sending requests to base, e.g. "http://127.0.0.1:2375".
func NewClient(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse daemon base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w %q: base URL must be http or https", ErrUnsupportedHost, base)
	}

	c := &Client{
		base: u,
		http: http.DefaultClient,
		log:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FromConfig dials the configured host. Options are applied after the configured ones.
func FromConfig(cfg config.DaemonConfig, opts ...Option) (*Client, error) {
	hc, base, err := NewHTTPClient(cfg.Host, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	all := append([]Option{WithHTTPClient(hc), WithAPIVersion(cfg.APIVersion)}, opts...)
	return NewClient(base.String(), all...)
}

// Do performs one exchange and classifies it. On success the caller owns resp.Body.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	hreq, err := NewHTTPRequest(ctx, c.base, c.version, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(hreq)
	took := time.Since(start)
	if err != nil {
		c.metrics.observe(req.Endpoint, "transport", took)
		c.log.Emit(logger.LogEntry{
			Level:    logger.LevelDebug,
			Msg:      "daemon request failed",
			Duration: took,
			Vars:     map[string]interface{}{"endpoint": req.Endpoint.String(), "error": err},
		})
		return nil, &TransportError{Method: hreq.Method, URL: hreq.URL.Redacted(), Err: err}
	}

	cerr := Classify(resp)
	c.metrics.observe(req.Endpoint, statusClass(resp.StatusCode, cerr), took)
	c.log.Emit(logger.LogEntry{
		Level:    logger.LevelDebug,
		Msg:      "daemon request",
		Duration: took,
		Vars: map[string]interface{}{
			"endpoint": req.Endpoint.String(),
			"url":      hreq.URL.Path,
			"status":   resp.StatusCode,
		},
	})
	if cerr != nil {
		resp.Body.Close()
		return nil, cerr
	}
	return resp, nil
}

// Call performs req and decodes a JSON response into out. A nil out discards the body.
func (c *Client) Call(ctx context.Context, req Request, out interface{}) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, err := io.Copy(io.Discard, resp.Body)
		if err != nil {
			return &TransportError{Method: req.Endpoint.Method, URL: resp.Request.URL.Redacted(), Err: err}
		}
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &DecodeError{Endpoint: req.Endpoint, Err: err}
	}
	return nil
}

// Text performs req and returns the body as text, bounded to 1 MiB.
func (c *Client) Text(ctx context.Context, req Request) (string, error) {
	s, err := c.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	data, err := s.ReadAll(maxTextBody)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Stream performs req and hands back the body unread.
func (c *Client) Stream(ctx context.Context, req Request) (*Stream, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return NewStream(resp.Body), nil
}
