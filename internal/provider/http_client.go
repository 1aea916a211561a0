package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fabrick/internal/config"
)

// HTTPClient implements Provider against the generic generation protocol:
// POST {endpoint}/generate with the job payload returns a task id, then
// GET {endpoint}/tasks/{id} is polled until the task completes or fails.
type HTTPClient struct {
	name         string
	endpoint     string
	apiKey       string
	pollInterval time.Duration
	timeout      time.Duration
	httpClient   *http.Client
}

// NewHTTPClient builds a provider client from its configuration block.
func NewHTTPClient(cfg config.Provider) *HTTPClient {
	return &HTTPClient{
		name:         cfg.Name,
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:       cfg.APIKey,
		pollInterval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
		timeout:      time.Duration(cfg.TimeoutSeconds) * time.Second,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Name returns the configured provider name.
func (c *HTTPClient) Name() string { return c.name }

type submitResponse struct {
	TaskID string `json:"taskId"`
}

type taskResponse struct {
	Status          string  `json:"status"`
	AssetURL        string  `json:"assetUrl"`
	DurationSeconds float64 `json:"durationSeconds"`
	MimeType        string  `json:"mimeType"`
	Error           string  `json:"error"`
}

// Invoke submits the payload and polls until the task reaches a terminal
// state. The per-provider timeout bounds the whole exchange; hitting it is a
// transient failure so the fallback chain proceeds.
func (c *HTTPClient) Invoke(ctx context.Context, payload []byte) (*Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	taskID, err := c.submit(ctx, payload)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, Transient(c.name, fmt.Errorf("task %s: %w", taskID, ctx.Err()))
		case <-ticker.C:
		}

		task, err := c.poll(ctx, taskID)
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(task.Status) {
		case "completed", "succeeded":
			if task.AssetURL == "" {
				return nil, Permanent(c.name, fmt.Errorf("task %s completed without an asset url", taskID))
			}
			return &Asset{
				URL:             task.AssetURL,
				DurationSeconds: task.DurationSeconds,
				MimeType:        task.MimeType,
			}, nil
		case "failed", "error":
			return nil, Permanent(c.name, fmt.Errorf("task %s failed: %s", taskID, task.Error))
		default:
			// queued / processing: keep polling
		}
	}
}

func (c *HTTPClient) submit(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/generate", bytes.NewReader(payload))
	if err != nil {
		return "", Permanent(c.name, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Transient(c.name, fmt.Errorf("submit: %w", err))
	}
	defer resp.Body.Close()

	if err := classifyStatus(c.name, resp); err != nil {
		return "", err
	}

	var submitted submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return "", Transient(c.name, fmt.Errorf("decode submit response: %w", err))
	}
	if submitted.TaskID == "" {
		return "", Permanent(c.name, fmt.Errorf("submit response missing task id"))
	}
	return submitted.TaskID, nil
}

func (c *HTTPClient) poll(ctx context.Context, taskID string) (*taskResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/tasks/"+taskID, nil)
	if err != nil {
		return nil, Permanent(c.name, fmt.Errorf("build poll request: %w", err))
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Transient(c.name, fmt.Errorf("poll: %w", err))
	}
	defer resp.Body.Close()

	if err := classifyStatus(c.name, resp); err != nil {
		return nil, err
	}

	var task taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return nil, Transient(c.name, fmt.Errorf("decode task response: %w", err))
	}
	return &task, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// classifyStatus maps HTTP status codes to the error taxonomy: 5xx-class
// responses are transient, 4xx-class are permanent.
func classifyStatus(name string, resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode >= 500 {
		return Transient(name, err)
	}
	return Permanent(name, err)
}
