package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fentz26/conductor/internal/classifier"
	"github.com/fentz26/conductor/internal/models"
	"github.com/fentz26/conductor/internal/workflow"
)

// DefaultClientTimeout bounds read requests. Task submission is bounded
// only by the caller's context since workflows run synchronously.
const DefaultClientTimeout = 10 * time.Second

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Is maps status codes back to the sentinel errors the server derived
// them from.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusNotFound:
		return target == workflow.ErrInstanceNotFound
	case http.StatusConflict:
		return target == workflow.ErrTerminal
	case http.StatusBadRequest:
		return target == ErrInvalidRequest
	}
	return false
}

// Client wraps HTTP calls to the Conductor API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a client for the daemon at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    DefaultClientTimeout,
	}
}

// BaseURL returns the daemon address.
func (c *Client) BaseURL() string { return c.baseURL }

// SubmitTask sends a task and waits for its result.
func (c *Client) SubmitTask(ctx context.Context, task models.Task) (*models.Result, error) {
	var res models.Result
	if err := c.do(ctx, http.MethodPost, "/tasks", taskRequest(task), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Classify returns the route a task would take without running it.
func (c *Client) Classify(ctx context.Context, task models.Task) (models.RouteDecision, []classifier.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp classifyResponse
	if err := c.do(ctx, http.MethodPost, "/tasks/classify", taskRequest(task), &resp); err != nil {
		return models.RouteDecision{}, nil, err
	}
	return resp.Route, resp.Candidates, nil
}

// ListWorkflows fetches workflow instances, optionally filtered by status.
func (c *Client) ListWorkflows(ctx context.Context, status models.WorkflowStatus) ([]*models.WorkflowInstance, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	path := "/workflows"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var list []*models.WorkflowInstance
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetWorkflow fetches a single instance.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var inst models.WorkflowInstance
	if err := c.do(ctx, http.MethodGet, "/workflows/"+url.PathEscape(id), nil, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// CancelWorkflow requests cancellation of an instance.
func (c *Client) CancelWorkflow(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.do(ctx, http.MethodPost, "/workflows/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// Agents lists registered agents.
func (c *Client) Agents(ctx context.Context) ([]models.AgentDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var list []models.AgentDescriptor
	if err := c.do(ctx, http.MethodGet, "/agents", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Templates lists registered workflow templates.
func (c *Client) Templates(ctx context.Context) ([]models.WorkflowTemplate, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var list []models.WorkflowTemplate
	if err := c.do(ctx, http.MethodGet, "/templates", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// CheckHealth returns the parsed health response even on a non-200
// status, so callers can inspect the payload alongside the error.
func (c *Client) CheckHealth(ctx context.Context) (*HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var health HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &health)
	if err != nil && health.Version == "" {
		return nil, err
	}
	return &health, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		}
		// Health reports its body on 503.
		if out != nil {
			json.Unmarshal(data, out)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
