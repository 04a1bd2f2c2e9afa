// Package oidc exchanges the GitHub Actions identity for a token scoped to a
// flakiness project.
package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/perfgo/flakiness/httpretry"
	"github.com/rs/zerolog"
)

const (
	EnvRequestURL   = "ACTIONS_ID_TOKEN_REQUEST_URL"
	EnvRequestToken = "ACTIONS_ID_TOKEN_REQUEST_TOKEN"

	requestTimeout = 10 * time.Second
)

// ErrUnavailable is returned when no ambient CI identity is present.
var ErrUnavailable = errors.New("github actions OIDC is not available")

// DefaultPolicy retries the token request on transient server errors only.
var DefaultPolicy = httpretry.Policy{
	MaxRetries:     3,
	InitialBackoff: 500 * time.Millisecond,
	RetryStatuses:  httpretry.DefaultRetryStatuses,
	RetryMethods:   []string{http.MethodGet},
}

// AuthError reports a failed token exchange.
type AuthError struct {
	StatusCode int
	Body       string
	Reason     string
}

func (e *AuthError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("failed to request GitHub OIDC token: %s", e.Reason)
	}
	return fmt.Sprintf("failed to request GitHub OIDC token: %d %s", e.StatusCode, e.Body)
}

// Resolver fetches OIDC tokens from the GitHub Actions token service.
type Resolver struct {
	logger       zerolog.Logger
	requestURL   string
	requestToken string
	client       *httpretry.Client
}

// New creates a Resolver for an explicit request URL and bearer assertion.
func New(logger zerolog.Logger, requestURL, requestToken string, httpClient *http.Client) *Resolver {
	return &Resolver{
		logger:       logger,
		requestURL:   requestURL,
		requestToken: requestToken,
		client:       httpretry.New(logger, httpClient, DefaultPolicy),
	}
}

// FromEnv creates a Resolver from the GitHub Actions environment. It returns
// ErrUnavailable unless both variables are set.
func FromEnv(logger zerolog.Logger) (*Resolver, error) {
	return fromLookup(logger, os.LookupEnv)
}

func fromLookup(logger zerolog.Logger, lookup func(string) (string, bool)) (*Resolver, error) {
	requestURL, _ := lookup(EnvRequestURL)
	requestToken, _ := lookup(EnvRequestToken)
	if requestURL == "" || requestToken == "" {
		return nil, ErrUnavailable
	}
	return New(logger, requestURL, requestToken, nil), nil
}

// FetchToken returns an OIDC token whose audience is set to audience.
func (r *Resolver) FetchToken(ctx context.Context, audience string) (string, error) {
	tokenURL, err := withAudience(r.requestURL, audience)
	if err != nil {
		return "", err
	}

	resp, err := r.client.Do(ctx, requestTimeout, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "bearer "+r.requestToken)
		req.Header.Set("Accept", "application/json; api-version=2.0")
		return req, nil
	})
	if err != nil {
		var statusErr *httpretry.StatusError
		if errors.As(err, &statusErr) {
			return "", &AuthError{StatusCode: statusErr.StatusCode, Body: statusErr.Body}
		}
		return "", fmt.Errorf("failed to request GitHub OIDC token: %w", err)
	}
	if !resp.OK() {
		return "", &AuthError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	var payload struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return "", &AuthError{StatusCode: resp.StatusCode, Reason: fmt.Sprintf("invalid response body: %v", err)}
	}
	if payload.Value == "" {
		return "", &AuthError{StatusCode: resp.StatusCode, Reason: "response did not contain a token value"}
	}

	r.logger.Debug().Str("audience", audience).Msg("Fetched GitHub OIDC token")
	return payload.Value, nil
}

// withAudience sets the audience query parameter, replacing any prior value.
func withAudience(rawURL, audience string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid OIDC request URL: %w", err)
	}
	q := u.Query()
	q.Set("audience", audience)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
