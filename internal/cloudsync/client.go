// Package cloudsync replicates local detection data to the cloud
// backend in batches, at-least-once, mark-after-ack.
package cloudsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Environment variables carrying the cloud endpoint credentials. When
// either is absent, replication is disabled for the whole process run.
const (
	EnvCloudURL = "SUPABASE_URL"
	EnvCloudKey = "SUPABASE_ANON_KEY"
)

// Client inserts row batches into a named cloud table.
type Client interface {
	Insert(ctx context.Context, table string, rows any) error
}

// HTTPClient talks to the cloud's PostgREST-style endpoint:
// POST {base}/rest/v1/{table} with the key in both auth headers.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPClientFromEnv builds a client from the environment. The second
// return is false when the endpoint is not configured; callers must
// surface that visibly rather than fail silently.
func NewHTTPClientFromEnv(timeout time.Duration) (*HTTPClient, bool) {
	url := os.Getenv(EnvCloudURL)
	key := os.Getenv(EnvCloudKey)
	if url == "" || key == "" {
		return nil, false
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(url, "/"),
		apiKey:  key,
		http:    &http.Client{Timeout: timeout},
	}, true
}

// Insert posts one batch. Any non-2xx response is an error; the caller
// decides whether to retry or move on.
func (c *HTTPClient) Insert(ctx context.Context, table string, rows any) error {
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode batch for %s: %w", table, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/rest/v1/"+table, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", table, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	// Upsert on the table's primary key so at-least-once delivery never
	// duplicates rows server-side.
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cloud insert into %s failed: %w", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("cloud insert into %s rejected: %s: %s",
			table, resp.Status, strings.TrimSpace(string(detail)))
	}
	return nil
}
