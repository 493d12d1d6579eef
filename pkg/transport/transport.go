// Package transport performs the egress HTTP call to the upstream vendor,
// applying the retry policy of §4.2: exponential backoff with jitter,
// retried only on connection errors and 429/5xx responses, and never once
// the response body has started streaming to the caller.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/relaycore/lunaroute/pkg/internal/retry"
	"github.com/relaycore/lunaroute/pkg/proxyerrors"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Headers map[string]string
	Timeout time.Duration
	Retry   retry.Config

	// RequestsPerSecond, if > 0, rate-limits outbound calls client-side
	// ahead of the retry loop. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// Client sends egress requests to a single upstream base URL.
type Client struct {
	http    *http.Client
	baseURL string
	headers map[string]string
	retry   retry.Config
	limiter *rate.Limiter
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	retryCfg := cfg.Retry
	if retryCfg.MaxRetries == 0 {
		retryCfg = retry.DefaultConfig()
		retryCfg.ShouldRetry = IsRetryableHTTP
	}

	c := &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL: cfg.BaseURL,
		headers: cfg.Headers,
		retry:   retryCfg,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst == 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

// httpStatusError carries the status code of a non-2xx response so
// IsRetryableHTTP can classify it without re-parsing error text.
type httpStatusError struct {
	status int
	body   []byte
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("upstream returned HTTP %d", e.status)
}

// IsRetryableHTTP retries connection-level failures and 429/5xx responses,
// matching the retry policy's "retry only on connection errors/429/5xx".
func IsRetryableHTTP(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*httpStatusError); ok {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	// Anything else reaching here is a transport-level failure (DNS,
	// connection refused, timeout): retry it.
	return true
}

func (c *Client) newRequest(ctx context.Context, path string, body []byte, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Send performs a non-streaming egress call, retrying the full
// request/response cycle per the retry policy.
func (c *Client) Send(ctx context.Context, path string, body []byte, headers map[string]string) ([]byte, error) {
	var respBody []byte

	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		if err := c.wait(ctx); err != nil {
			return err
		}
		req, err := c.newRequest(ctx, path, body, headers)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return proxyerrors.NewTransportError(err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return proxyerrors.NewTransportError(err)
		}
		if resp.StatusCode >= 400 {
			return &httpStatusError{status: resp.StatusCode, body: data}
		}
		respBody = data
		return nil
	})
	if err != nil {
		if se, ok := unwrapHTTPStatusError(err); ok {
			return nil, proxyerrors.NewProviderError("", se.status, string(se.body))
		}
		return nil, err
	}
	return respBody, nil
}

// Stream performs a streaming egress call. The retry policy covers only
// obtaining a response with a successful status line; once the caller
// starts reading body bytes off the returned ReadCloser, a mid-stream
// failure is surfaced as a read error rather than retried, since replaying
// a partially-consumed response would duplicate already-delivered tokens.
func (c *Client) Stream(ctx context.Context, path string, body []byte, headers map[string]string) (io.ReadCloser, error) {
	var respBody io.ReadCloser

	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		if err := c.wait(ctx); err != nil {
			return err
		}
		req, err := c.newRequest(ctx, path, body, headers)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "text/event-stream")
		resp, err := c.http.Do(req)
		if err != nil {
			return proxyerrors.NewTransportError(err)
		}
		if resp.StatusCode >= 400 {
			defer resp.Body.Close()
			data, _ := io.ReadAll(resp.Body)
			return &httpStatusError{status: resp.StatusCode, body: data}
		}
		respBody = resp.Body
		return nil
	})
	if err != nil {
		if se, ok := unwrapHTTPStatusError(err); ok {
			return nil, proxyerrors.NewProviderError("", se.status, string(se.body))
		}
		return nil, err
	}
	return respBody, nil
}

func unwrapHTTPStatusError(err error) (*httpStatusError, bool) {
	for err != nil {
		if se, ok := err.(*httpStatusError); ok {
			return se, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// SendPassthrough and StreamPassthrough forward the raw request body
// untranslated, for the ingress==egress fast path of §4.5.
func (c *Client) SendPassthrough(ctx context.Context, path string, body []byte, headers map[string]string) ([]byte, int, http.Header, error) {
	req, err := c.newRequest(ctx, path, body, headers)
	if err != nil {
		return nil, 0, nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, nil, proxyerrors.NewTransportError(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, nil, proxyerrors.NewTransportError(err)
	}
	return data, resp.StatusCode, resp.Header, nil
}

func (c *Client) StreamPassthrough(ctx context.Context, path string, body []byte, headers map[string]string) (io.ReadCloser, int, http.Header, error) {
	req, err := c.newRequest(ctx, path, body, headers)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, nil, proxyerrors.NewTransportError(err)
	}
	return resp.Body, resp.StatusCode, resp.Header, nil
}
