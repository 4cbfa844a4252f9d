// Package transport is the HTTP collaborator used by the exchange client.
// Retry and backoff for status-coded failures live here, never in callers.
package transport

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/pkg/errors"
)

const (
	DefaultTimeout           = 10 * time.Second
	DefaultMaxRetries        = 3
	DefaultInitialRetryDelay = 200 * time.Millisecond
)

// Transport performs one logical HTTP request.
type Transport interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f Func) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

var (
	_ Transport = (*HTTPTransport)(nil)
	_ Transport = (*RetryTransport)(nil)
	_ Transport = Func(nil)
)

// HTTPTransport sends each request exactly once.
type HTTPTransport struct {
	client *http.Client
}

func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = NewHTTPClient(DefaultTimeout)
	}
	return &HTTPTransport{client: client}
}

func (t *HTTPTransport) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return t.client.Do(req.WithContext(ctx))
}

// RetryTransport retries transient failures with exponential backoff.
type RetryTransport struct {
	client *retry.Client
}

type retryConfig struct {
	httpClient        *http.Client
	maxRetries        int
	initialRetryDelay time.Duration
}

type RetryOption func(*retryConfig)

func WithHTTPClient(client *http.Client) RetryOption {
	return func(c *retryConfig) {
		c.httpClient = client
	}
}

func WithMaxRetries(n int) RetryOption {
	return func(c *retryConfig) {
		c.maxRetries = n
	}
}

func WithInitialRetryDelay(d time.Duration) RetryOption {
	return func(c *retryConfig) {
		c.initialRetryDelay = d
	}
}

func NewRetryTransport(options ...RetryOption) (*RetryTransport, error) {
	cfg := &retryConfig{
		maxRetries:        DefaultMaxRetries,
		initialRetryDelay: DefaultInitialRetryDelay,
	}
	for _, opt := range options {
		opt(cfg)
	}
	if cfg.httpClient == nil {
		cfg.httpClient = NewHTTPClient(DefaultTimeout)
	}

	client, err := retry.NewBackgroundClient(
		retry.WithHTTPClient(cfg.httpClient),
		retry.WithMaxRetries(cfg.maxRetries),
		retry.WithInitialRetryDelay(cfg.initialRetryDelay),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create retry client")
	}
	return &RetryTransport{client: client}, nil
}

func (t *RetryTransport) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return t.client.DoWithContext(ctx, req)
}

// NewHTTPClient returns a client with TLS 1.2+ and the given timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// NewClient exposes a Transport as an *http.Client for libraries that only accept one.
func NewClient(t Transport) *http.Client {
	return &http.Client{Transport: roundTripper{transport: t}}
}

type roundTripper struct {
	transport Transport
}

func (r roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return r.transport.Do(req.Context(), req)
}
