package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/flatshare/internal/errclass"
	"github.com/vietddude/flatshare/internal/metrics"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

var errOffline = errors.New("device is offline")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// HTTPStatus exposes the code to the error classifier.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

func newHTTPDoer() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// dispatch sends the request, re-attempting retryable failures up to
// cfg.Retries times with jittered exponential backoff.
func (c *Client) dispatch(ctx context.Context, method, target string, payload []byte, header http.Header, cfg RequestConfig) (*Response, error) {
	if cfg.Retries <= 0 {
		return c.do(ctx, method, target, payload, header, cfg)
	}

	b := retry.NewExponential(c.retryBase)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithCappedDuration(c.retryCap, b)
	b = retry.WithMaxRetries(uint64(cfg.Retries), b)

	var resp *Response
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		r, err := c.do(ctx, method, target, payload, header, cfg)
		if err != nil {
			if errclass.Retryable(err) {
				c.log.Debug("Retrying request", "method", method, "url", target, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// do performs a single attempt bounded by the per-attempt timeout.
func (c *Client) do(ctx context.Context, method, target string, payload []byte, header http.Header, cfg RequestConfig) (*Response, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if !cfg.SkipAuth && c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get auth token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	res, err := c.doer.Do(req)
	metrics.RequestLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, transportError(ctx, attemptCtx, timeout, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseLength))
	if err != nil {
		return nil, transportError(ctx, attemptCtx, timeout, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &StatusError{StatusCode: res.StatusCode, Body: data}
	}

	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       data,
	}, nil
}

// transportError strips the *url.Error wrapper, whose message embeds the URL,
// and names per-attempt deadline hits as timeouts.
func transportError(parent, attempt context.Context, timeout time.Duration, err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	if parent.Err() == nil && errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("request timeout after %s: %w", timeout, err)
	}
	return err
}
