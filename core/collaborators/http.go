package collaborators

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/mailscore/core/pkg/circuitbreaker"
	"github.com/mailscore/core/pkg/retry"
)

// ResilientHTTPClient wraps net/http.Client with the same circuit-breaker +
// retry composition as ResilientResolver (spec.md §6), bounding response
// bodies at MaxBody so a misbehaving remote cannot exhaust memory.
type ResilientHTTPClient struct {
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	backoff retry.BackoffConfig
	maxBody int64
}

// NewResilientHTTPClient builds a ResilientHTTPClient. maxBody <= 0 means
// unbounded (not recommended; spec.md §6 expects this configured).
func NewResilientHTTPClient(timeout time.Duration, maxBody int64, backoff retry.BackoffConfig) *ResilientHTTPClient {
	return &ResilientHTTPClient{
		client:  &http.Client{Timeout: timeout},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultSettings("http")),
		backoff: backoff,
		maxBody: maxBody,
	}
}

func (c *ResilientHTTPClient) do(ctx context.Context, method, url, contentType string, body []byte) (HTTPResponse, error) {
	var result HTTPResponse
	err := retry.WithRetryAdvanced(ctx, func() error {
		return circuitbreaker.WrapWithContext(ctx, c.breaker, func(ctx context.Context) error {
			var reader io.Reader
			if body != nil {
				reader = bytes.NewReader(body)
			}
			req, err := http.NewRequestWithContext(ctx, method, url, reader)
			if err != nil {
				return retry.Stop(err)
			}
			if contentType != "" {
				req.Header.Set("Content-Type", contentType)
			}
			resp, err := c.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			var limited io.Reader = resp.Body
			if c.maxBody > 0 {
				limited = io.LimitReader(resp.Body, c.maxBody)
			}
			data, err := io.ReadAll(limited)
			if err != nil {
				return err
			}
			result = HTTPResponse{StatusCode: resp.StatusCode, Body: data, Header: resp.Header}
			return nil
		})
	}, c.backoff)
	return result, err
}

func (c *ResilientHTTPClient) Get(ctx context.Context, url string) (HTTPResponse, error) {
	return c.do(ctx, http.MethodGet, url, "", nil)
}

func (c *ResilientHTTPClient) Post(ctx context.Context, url, contentType string, body []byte) (HTTPResponse, error) {
	return c.do(ctx, http.MethodPost, url, contentType, body)
}
