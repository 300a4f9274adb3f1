// Package worker invokes the external extraction worker. The worker is an
// out-of-process collaborator: it acknowledges a command synchronously and
// writes its real output to the shared store later, which is why job success
// is detected through change notifications rather than this client.
package worker

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

// ErrRejected is returned when the worker refuses a command synchronously.
// The surrounding job surfaces the worker's message and offers a retry.
var ErrRejected = errors.New("worker rejected command")

// Result is the synchronous acknowledgement of a command.
type Result struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// Invoker issues extraction commands. The HTTP client implements it for
// production; tests substitute their own.
type Invoker interface {
	Invoke(ctx context.Context, jobType, entityID string, opts map[string]any) (Result, error)
}

// Client is the HTTP command client for the extraction worker.
type Client struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewClient creates a new worker command client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		url:   strings.TrimSuffix(baseURL, "/"),
		token: token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type invokeRequest struct {
	JobType  string         `json:"job_type"`
	EntityID string         `json:"entity_id"`
	Options  map[string]any `json:"options,omitempty"`
}

// Invoke issues one extraction command. A transport failure or non-2xx
// response is returned as an error (the command channel failed); a 2xx
// response carries the worker's accept/reject decision.
func (c *Client) Invoke(ctx context.Context, jobType, entityID string, opts map[string]any) (Result, error) {
	if err := ValidateOptions(jobType, opts); err != nil {
		return Result{}, fmt.Errorf("invalid options for %s: %w", jobType, err)
	}

	payload, err := json.Marshal(invokeRequest{
		JobType:  jobType,
		EntityID: entityID,
		Options:  opts,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/v1/extractions", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("command channel failure: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("command channel failure: status %d: %s", resp.StatusCode, string(body))
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return Result{}, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return result, nil
}
