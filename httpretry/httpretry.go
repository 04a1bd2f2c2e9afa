// Package httpretry wraps HTTP calls with an explicit retry policy.
package httpretry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// DefaultRetryStatuses are the transient server statuses worth retrying.
var DefaultRetryStatuses = []int{
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

const maxBackoffInterval = 30 * time.Second

// Policy describes when and how often a request is retried.
type Policy struct {
	// Retries after the first attempt
	MaxRetries int
	// Delay before the first retry, doubled for each further retry
	InitialBackoff time.Duration
	// Response statuses that trigger a retry
	RetryStatuses []int
	// Methods that may be retried at all
	RetryMethods []string
}

func (p Policy) methodRetryable(method string) bool {
	for _, m := range p.RetryMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func (p Policy) statusRetryable(code int) bool {
	for _, s := range p.RetryStatuses {
		if s == code {
			return true
		}
	}
	return false
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = maxBackoffInterval
	b.MaxElapsedTime = 0
	b.Reset()

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// StatusError reports a response with an unsuccessful status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	if body := strings.TrimSpace(e.Body); body != "" {
		msg += ": " + truncate(body, 512)
	}
	return msg
}

// CheckStatus returns a *StatusError unless the response is 2xx.
func CheckStatus(method, url string, resp *Response) error {
	if resp.OK() {
		return nil
	}
	return &StatusError{
		Method:     method,
		URL:        url,
		StatusCode: resp.StatusCode,
		Body:       string(resp.Body),
	}
}

// RequestFunc builds a fresh request for one attempt. Bodies must be
// recreated on every call.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Client executes requests under a Policy.
type Client struct {
	logger zerolog.Logger
	http   *http.Client
	policy Policy
}

// New creates a Client. A nil httpClient uses http.DefaultClient.
func New(logger zerolog.Logger, httpClient *http.Client, policy Policy) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		logger: logger,
		http:   httpClient,
		policy: policy,
	}
}

// Do sends the request built by newRequest, retrying transport errors
// (timeouts included) and retryable statuses for retryable methods. Each
// attempt is bounded by timeout. The returned response may carry any status
// that is not retryable; exhausting the retries on a retryable status returns
// a *StatusError.
func (c *Client) Do(ctx context.Context, timeout time.Duration, newRequest RequestFunc) (*Response, error) {
	var (
		resp    *Response
		attempt int
	)

	op := func() error {
		attempt++
		resp = nil

		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := newRequest(reqCtx)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		retryable := c.policy.methodRetryable(req.Method)

		res, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil || !retryable {
				return backoff.Permanent(err)
			}
			return err
		}
		body, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			err = fmt.Errorf("failed to read response body: %w", err)
			if ctx.Err() != nil || !retryable {
				return backoff.Permanent(err)
			}
			return err
		}

		resp = &Response{
			StatusCode: res.StatusCode,
			Header:     res.Header,
			Body:       body,
		}
		if retryable && c.policy.statusRetryable(res.StatusCode) {
			return &StatusError{
				Method:     req.Method,
				URL:        req.URL.Redacted(),
				StatusCode: res.StatusCode,
				Body:       string(body),
			}
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Debug().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request")
	}

	if err := backoff.RetryNotify(op, c.policy.backOff(ctx), notify); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return nil, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		return nil, err
	}
	return resp, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
