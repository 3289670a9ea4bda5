package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// TokenSource supplies the short-lived credential a streaming STT connection
// authenticates with. Tokens are single-use and fetched fresh per session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns the same token on every call. Intended for tests
// and for providers authenticated by a long-lived API key.
type StaticTokenSource string

// Token implements TokenSource.
func (s StaticTokenSource) Token(_ context.Context) (string, error) {
	return string(s), nil
}

// EndpointTokenSource fetches a short-lived token from an HTTP endpoint that
// responds with {"token": "..."} — the token-issuing route of the OffBook
// server itself, or any compatible issuer.
type EndpointTokenSource struct {
	// URL is the token endpoint.
	URL string

	// Client is the HTTP client to use. When nil, http.DefaultClient.
	Client *http.Client
}

// Token implements TokenSource.
func (e *EndpointTokenSource) Token(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, nil)
	if err != nil {
		return "", fmt.Errorf("stt: token request: %w", err)
	}
	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt: fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stt: fetch token: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("stt: decode token response: %w", err)
	}
	if body.Token == "" {
		return "", fmt.Errorf("stt: token endpoint returned an empty token")
	}
	return body.Token, nil
}
