// Package client is a thin Go SDK over the orchestrator's HTTP API:
// trigger/get/cancel/list executions, inspect their tasks, and subscribe to
// the live execution event stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Client talks to one orchestrator engine instance over HTTP and
// (optionally) WebSocket.
type Client struct {
	baseURL string
	opts    *options
	stream  *eventStream
}

// New creates a Client bound to baseURL (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimSuffix(baseURL, "/")
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Client{baseURL: baseURL, opts: o}
}

// ExecutionResponse is the wire representation of a workflow execution.
type ExecutionResponse struct {
	ID              string                 `json:"id"`
	WorkflowName    string                 `json:"workflow_name"`
	WorkflowVersion int                    `json:"workflow_version"`
	Status          string                 `json:"status"`
	Input           map[string]interface{} `json:"input,omitempty"`
	Output          map[string]interface{} `json:"output,omitempty"`
	Error           string                 `json:"error,omitempty"`
	CurrentStep     string                 `json:"current_step,omitempty"`
	CreatedAt       string                 `json:"created_at"`
	UpdatedAt       string                 `json:"updated_at"`
}

// TaskResponse is the wire representation of one dispatched task.
type TaskResponse struct {
	ID          string                 `json:"id"`
	StepName    string                 `json:"step_name"`
	StepType    string                 `json:"step_type"`
	Status      string                 `json:"status"`
	Attempt     int                    `json:"attempt"`
	MaxAttempts int                    `json:"max_attempts"`
	Output      map[string]interface{} `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// WorkerInfo is the wire representation of a registered worker.
type WorkerInfo struct {
	WorkerID      string `json:"worker_id"`
	Hostname      string `json:"hostname"`
	Status        string `json:"status"`
	Concurrency   int    `json:"concurrency"`
	ActiveTasks   int    `json:"active_tasks"`
	LastHeartbeat string `json:"last_heartbeat"`
}

// DLQEntry is the wire representation of one dead-lettered task.
type DLQEntry struct {
	TaskID       string                 `json:"task_id"`
	ExecutionID  string                 `json:"execution_id"`
	WorkflowName string                 `json:"workflow_name"`
	StepName     string                 `json:"step_name"`
	Input        map[string]interface{} `json:"input,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Attempts     int                    `json:"attempts"`
	Reprocessed  bool                   `json:"reprocessed"`
}

// apiError is the error shape handlers.ErrorResponse writes.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// TriggerRequest is the body of Trigger.
type TriggerRequest struct {
	Version        int                    `json:"version,omitempty"`
	Input          map[string]interface{} `json:"input"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
}

// Trigger starts a new execution of workflowName.
func (c *Client) Trigger(ctx context.Context, workflowName string, req TriggerRequest) (*ExecutionResponse, error) {
	var out ExecutionResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/workflows/%s/trigger", workflowName), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetExecution fetches one execution by ID.
func (c *Client) GetExecution(ctx context.Context, executionID string) (*ExecutionResponse, error) {
	var out ExecutionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/executions/"+executionID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTasks returns the tasks dispatched for an execution, in dispatch
// order.
func (c *Client) ListTasks(ctx context.Context, executionID string) ([]TaskResponse, error) {
	var out struct {
		Tasks []TaskResponse `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/executions/"+executionID+"/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// CancelExecution requests cancellation of a still-running execution.
func (c *Client) CancelExecution(ctx context.Context, executionID string) error {
	return c.do(ctx, http.MethodPost, "/v1/executions/"+executionID+"/cancel", nil, nil)
}

// ListExecutions returns the most recent executions, optionally filtered
// by status ("" for all statuses).
func (c *Client) ListExecutions(ctx context.Context, status string) ([]ExecutionResponse, error) {
	path := "/v1/executions"
	if status != "" {
		path += "?status=" + status
	}
	var out struct {
		Executions []ExecutionResponse `json:"executions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Executions, nil
}

// ListWorkers returns every registered worker.
func (c *Client) ListWorkers(ctx context.Context) ([]WorkerInfo, error) {
	var out struct {
		Workers []WorkerInfo `json:"workers"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/admin/workers", nil, &out); err != nil {
		return nil, err
	}
	return out.Workers, nil
}

// ListDeadLetters returns dead-letter entries, optionally restricted to
// unreprocessed ones.
func (c *Client) ListDeadLetters(ctx context.Context, unreprocessedOnly bool) ([]DLQEntry, error) {
	path := "/v1/admin/dlq"
	if unreprocessedOnly {
		path += "?unreprocessed=true"
	}
	var out struct {
		Entries []DLQEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// ReprocessDeadLetter requeues one dead-lettered task.
func (c *Client) ReprocessDeadLetter(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/dlq/"+taskID+"/reprocess", nil, nil)
}

// ReprocessAllDeadLetters requeues every unreprocessed dead-letter entry,
// returning how many were requeued.
func (c *Client) ReprocessAllDeadLetters(ctx context.Context) (int, error) {
	var out struct {
		ReprocessedCount int `json:"reprocessed_count"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/admin/dlq/reprocess", struct{}{}, &out); err != nil {
		return 0, err
	}
	return out.ReprocessedCount, nil
}

// ConnectEvents dials the server's live execution event stream.
func (c *Client) ConnectEvents(ctx context.Context) error {
	if c.stream != nil && c.stream.IsConnected() {
		return nil
	}
	c.stream = newEventStream(c.baseURL, c.opts.apiKey)
	return c.stream.Connect(ctx)
}

// Events returns the channel of received events. ConnectEvents must be
// called first.
func (c *Client) Events() <-chan *Event {
	if c.stream == nil {
		ch := make(chan *Event)
		close(ch)
		return ch
	}
	return c.stream.Events()
}

// SubscribeExecution narrows the event stream to executionID.
func (c *Client) SubscribeExecution(executionID string) error {
	if c.stream == nil {
		return fmt.Errorf("events not connected")
	}
	return c.stream.Subscribe(executionID)
}

// CloseEvents closes the event stream connection, if any.
func (c *Client) CloseEvents() error {
	if c.stream == nil {
		return nil
	}
	return c.stream.Close()
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.opts.applyHeaders(req)

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		if decErr := json.NewDecoder(resp.Body).Decode(&apiErr); decErr == nil && apiErr.Message != "" {
			return fmt.Errorf("%s %s: %s: %s", method, path, apiErr.Error, apiErr.Message)
		}
		return fmt.Errorf("%s %s: unexpected status %s", method, path, strconv.Itoa(resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
