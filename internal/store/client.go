package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sentinel errors for the store package.
var (
	// ErrUnhealthy is returned when the store health check fails.
	ErrUnhealthy = errors.New("store health check failed")

	// ErrRowNotFound is returned when a single-row lookup matches nothing.
	ErrRowNotFound = errors.New("row not found")

	// ErrWriterClosed is returned when operations are attempted on a closed writer.
	ErrWriterClosed = errors.New("writer closed")
)

// EntityColumn is the column every extraction output table uses to reference
// the property it belongs to.
const EntityColumn = "property_id"

// Client is an HTTP client for the hosted relational store's REST surface.
// All reads are by entity id; all writes are single-row updates by row id.
// The store performs no optimistic locking - last write wins.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new store client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		url:    strings.TrimSuffix(baseURL, "/"),
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// HealthCheck checks if the store is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.url+"/rest/v1/", nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode)
	}
	return nil
}

// Rows fetches every row of a table belonging to an entity, ordered by the
// table's position column when it has one. This is the authoritative read
// feeding both UI rendering and reconciliation.
func (c *Client) Rows(ctx context.Context, table, entityID string) ([]Row, error) {
	if err := ValidateID(entityID); err != nil {
		return nil, fmt.Errorf("invalid entity id: %w", err)
	}
	return c.RowsWhere(ctx, table, EntityColumn, entityID)
}

// RowsWhere fetches rows filtered by an equality match on one column. An
// empty column fetches the whole table.
func (c *Client) RowsWhere(ctx context.Context, table, column, value string) ([]Row, error) {
	query := url.Values{}
	if column != "" {
		query.Set(column, "eq."+value)
	}
	if col := orderColumn(table); col != "" {
		query.Set("order", col+".asc")
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", c.url, table, query.Encode())
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var rows []Row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rows: %w (body: %s)", err, truncate(body))
	}
	return rows, nil
}

// UpdateRow updates a single row by id and returns the updated row.
func (c *Client) UpdateRow(ctx context.Context, table, rowID string, patch map[string]any) (Row, error) {
	if err := ValidateID(rowID); err != nil {
		return nil, fmt.Errorf("invalid row id: %w", err)
	}

	payload, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal patch: %w", err)
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s?id=eq.%s", c.url, table, url.QueryEscape(rowID))
	req, err := http.NewRequestWithContext(ctx, "PATCH", endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var rows []Row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal updated row: %w (body: %s)", err, truncate(body))
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrRowNotFound, table, rowID)
	}
	return rows[0], nil
}

// InsertRow creates a single row and returns it.
func (c *Client) InsertRow(ctx context.Context, table string, row map[string]any) (Row, error) {
	payload, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal row: %w", err)
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.url, table)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var rows []Row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal inserted row: %w (body: %s)", err, truncate(body))
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert returned no rows for table %s", table)
	}
	return rows[0], nil
}

// DeleteRow removes a single row by id.
func (c *Client) DeleteRow(ctx context.Context, table, rowID string) error {
	if err := ValidateID(rowID); err != nil {
		return fmt.Errorf("invalid row id: %w", err)
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s?id=eq.%s", c.url, table, url.QueryEscape(rowID))
	req, err := http.NewRequestWithContext(ctx, "DELETE", endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	_, err = c.do(req)
	return err
}

// URL returns the base URL of the store.
func (c *Client) URL() string {
	return c.url
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("store error (status %d): %s", resp.StatusCode, truncate(body))
	}
	return body, nil
}

func truncate(body []byte) string {
	const max = 512
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}
