// Package engine is the client for the workflow execution engine's
// credential API. Credentials provisioned here are referenced by deployed
// workflows through the id the engine assigns.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	apiKeyHeader      = "X-N8N-API-KEY"
	credentialsPath   = "/api/v1/credentials"
	maxErrBodyLen     = 64 << 10
	errBodySnippetLen = 200
)

// Client implements driven.EngineClient over the engine's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for the engine at baseURL.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With("component", "engine"),
	}
}

// createRequest is the engine's credential creation body. Data is the
// decrypted payload shaped for the engine credential type and is never
// logged.
type createRequest struct {
	Name string         `json:"name"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

type createResponse struct {
	ID string `json:"id"`
}

// CreateCredential registers a credential with the engine and returns the
// engine's id for it.
func (c *Client) CreateCredential(ctx context.Context, name, engineType string, data map[string]any) (string, error) {
	body, err := json.Marshal(createRequest{Name: name, Type: engineType, Data: data})
	if err != nil {
		return "", fmt.Errorf("encoding engine credential: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+credentialsPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building engine request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling engine: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrBodyLen))
	if err != nil {
		return "", fmt.Errorf("reading engine response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("engine returned %d: %s", resp.StatusCode, bodySnippet(respBody))
	}

	var created createResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", fmt.Errorf("decoding engine response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("engine response contained no credential id")
	}

	c.logger.Debug("engine credential created", "name", name, "type", engineType, "engine_id", created.ID)

	return created.ID, nil
}

// DeleteCredential removes a provisioned credential. A credential the
// engine no longer knows about counts as deleted.
func (c *Client) DeleteCredential(ctx context.Context, engineID string) error {
	endpoint := c.baseURL + credentialsPath + "/" + url.PathEscape(engineID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building engine request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling engine: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBodyLen))

	if resp.StatusCode == http.StatusNotFound {
		c.logger.Debug("engine credential already gone", "engine_id", engineID)
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("engine returned %d: %s", resp.StatusCode, bodySnippet(respBody))
	}

	return nil
}

func bodySnippet(body []byte) string {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > errBodySnippetLen {
		snippet = snippet[:errBodySnippetLen]
	}
	return snippet
}
