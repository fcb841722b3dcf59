// Copyright 2026 The didactic-barnacle Authors
// SPDX-License-Identifier: Apache-2.0

package geosync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/aalexli1/didactic-barnacle-sub000/geostore"
)

// RemoteRecord is the wire representation of one entity returned by the
// remote service's change feed.
type RemoteRecord struct {
	ID           string          `json:"id"`
	Fields       json.RawMessage `json:"fields"`
	LastModified time.Time       `json:"last_modified"`
	Deleted      bool            `json:"deleted,omitempty"`
}

// Remote is the request/response contract of the remote service. The
// service itself is an external collaborator; only this surface is consumed.
type Remote interface {
	Create(ctx context.Context, entityType geostore.EntityType, fields json.RawMessage) error
	Update(ctx context.Context, entityType geostore.EntityType, id string, fields json.RawMessage) error
	Delete(ctx context.Context, entityType geostore.EntityType, id string) error
	// Pull returns records with last_modified strictly after since, ordered
	// ascending by last_modified.
	Pull(ctx context.Context, entityType geostore.EntityType, since time.Time) ([]RemoteRecord, error)
}

// RemoteError is a non-2xx response from the remote service. A zero
// StatusCode means the request never completed (network error, timeout).
type RemoteError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("remote request failed: %v", e.Err)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.Body)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient: network errors,
// server errors, and throttling are retried via queue accounting; other
// client errors are terminal.
func (e *RemoteError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// IsNotFound reports a 404, which a delete push treats as already done.
func (e *RemoteError) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }

// TokenFunc supplies the bearer token attached to every remote call.
type TokenFunc func(ctx context.Context) (string, error)

// HTTPRemote talks JSON-over-HTTPS to the remote service.
type HTTPRemote struct {
	BaseURL string
	Token   TokenFunc
	HTTP    *http.Client
	logger  *slog.Logger
}

// NewHTTPRemote returns a transport against baseURL. Per-call timeouts come
// from the HTTP client; a nil logger falls back to slog.Default.
func NewHTTPRemote(baseURL string, token TokenFunc, logger *slog.Logger) *HTTPRemote {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRemote{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// Create issues POST /entities/{type}. The fields payload carries the
// client-generated id.
func (r *HTTPRemote) Create(ctx context.Context, entityType geostore.EntityType, fields json.RawMessage) error {
	endpoint := fmt.Sprintf("%s/entities/%s", r.BaseURL, entityType)
	_, err := r.do(ctx, http.MethodPost, endpoint, fields)
	return err
}

// Update issues PUT /entities/{type}/{id}.
func (r *HTTPRemote) Update(ctx context.Context, entityType geostore.EntityType, id string, fields json.RawMessage) error {
	endpoint := fmt.Sprintf("%s/entities/%s/%s", r.BaseURL, entityType, url.PathEscape(id))
	_, err := r.do(ctx, http.MethodPut, endpoint, fields)
	return err
}

// Delete issues DELETE /entities/{type}/{id}.
func (r *HTTPRemote) Delete(ctx context.Context, entityType geostore.EntityType, id string) error {
	endpoint := fmt.Sprintf("%s/entities/%s/%s", r.BaseURL, entityType, url.PathEscape(id))
	_, err := r.do(ctx, http.MethodDelete, endpoint, nil)
	return err
}

// Pull issues GET /entities/{type}?since={timestamp}.
func (r *HTTPRemote) Pull(ctx context.Context, entityType geostore.EntityType, since time.Time) ([]RemoteRecord, error) {
	endpoint := fmt.Sprintf("%s/entities/%s?since=%s",
		r.BaseURL, entityType, url.QueryEscape(since.UTC().Format(time.RFC3339Nano)))
	body, err := r.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var records []RemoteRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("failed to decode pull response: %w", err)
	}
	return records, nil
}

func (r *HTTPRemote) do(ctx context.Context, method, endpoint string, payload json.RawMessage) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if r.Token != nil {
		token, err := r.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get auth token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.HTTP.Do(req)
	if err != nil {
		return nil, &RemoteError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteError{Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// classifyPushError maps a push failure to queue handling: done (a 404 on
// delete), retryable, or terminal.
func classifyPushError(err error, action geostore.Action) (done, retryable bool) {
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		// Anything other than a transport error (e.g. context cancellation)
		// is treated as transient.
		return false, true
	}
	if action == geostore.ActionDelete && remoteErr.IsNotFound() {
		return true, false
	}
	return false, remoteErr.Retryable()
}
