// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package token exchanges session credentials for short-lived connection
// tokens.
package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Configuration constants for the token endpoint.
const (
	// DefaultTimeout bounds a single token request.
	DefaultTimeout = 10 * time.Second

	// maxResponseSize caps the response body read. The endpoint returns a
	// small JSON object; anything larger is treated as an error.
	maxResponseSize = 64 * 1024
)

// Error variables for common token-exchange failures.
var (
	// ErrUnauthorized indicates the session credential was rejected.
	// The connection layer treats this as terminal, not retryable.
	ErrUnauthorized = errors.New("session credential rejected")

	// ErrEmptyToken indicates the endpoint answered 200 with no token.
	ErrEmptyToken = errors.New("token endpoint returned an empty token")
)

// EndpointError represents a non-auth failure reported by the endpoint.
type EndpointError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *EndpointError) Error() string {
	return fmt.Sprintf("token endpoint error (HTTP %d): %s", e.Status, e.Message)
}

// Fetcher exchanges session credentials for a connection token.
type Fetcher interface {
	// Fetch returns a short-lived token scoped to the conversation. It
	// honors ctx cancellation; a cancelled fetch returns ctx.Err().
	Fetch(ctx context.Context, conversationID string) (string, error)
}

// =============================================================================
// HTTP FETCHER
// =============================================================================

// HTTPFetcher is the production Fetcher. It POSTs the conversation ID to
// the token endpoint, authenticated with the bearer session credential.
type HTTPFetcher struct {
	endpoint   string
	credential string
	httpClient *http.Client
}

// NewHTTPFetcher creates a fetcher for the given endpoint and credential.
func NewHTTPFetcher(endpoint, credential string) *HTTPFetcher {
	return &HTTPFetcher{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		credential: strings.TrimSpace(credential),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// WithTimeout sets the per-request timeout.
func (f *HTTPFetcher) WithTimeout(timeout time.Duration) *HTTPFetcher {
	f.httpClient.Timeout = timeout
	return f
}

// WithHTTPClient replaces the underlying HTTP client.
func (f *HTTPFetcher) WithHTTPClient(client *http.Client) *HTTPFetcher {
	f.httpClient = client
	return f
}

// tokenRequest is the request body sent to the endpoint.
type tokenRequest struct {
	ConversationID string `json:"conversation_id"`
}

// tokenResponse is the success response body.
type tokenResponse struct {
	Token string `json:"token"`
}

// apiErrorResponse is the error response body, when the endpoint sends one.
type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, conversationID string) (string, error) {
	body, err := json.Marshal(tokenRequest{ConversationID: conversationID})
	if err != nil {
		return "", fmt.Errorf("encoding token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.credential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		// Surface cancellation as the context error so callers can tell
		// a torn-down fetch apart from a network failure.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := readLimited(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", f.errorFromResponse(resp.StatusCode, data)
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return "", fmt.Errorf("parsing token response: %w", err)
	}
	if tr.Token == "" {
		return "", ErrEmptyToken
	}
	return tr.Token, nil
}

// errorFromResponse maps HTTP failures onto the package error taxonomy.
func (f *HTTPFetcher) errorFromResponse(status int, body []byte) error {
	message := strings.TrimSpace(string(body))
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		if message != "" {
			return fmt.Errorf("%w: %s", ErrUnauthorized, message)
		}
		return ErrUnauthorized
	default:
		return &EndpointError{Status: status, Message: message}
	}
}

// readLimited reads the response body with a size cap.
func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}
	if len(data) > maxResponseSize {
		return nil, fmt.Errorf("token response exceeded %d bytes", maxResponseSize)
	}
	return data, nil
}
