package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flowforge/orchestrator/internal/engine"
	"github.com/flowforge/orchestrator/internal/execution"
	"github.com/flowforge/orchestrator/internal/logger"
)

// ExecutionHandler handles workflow-trigger and execution HTTP requests.
type ExecutionHandler struct {
	engine *engine.Engine
}

// NewExecutionHandler creates an execution handler bound to eng.
func NewExecutionHandler(eng *engine.Engine) *ExecutionHandler {
	return &ExecutionHandler{engine: eng}
}

// TriggerRequest is the body of POST /v1/workflows/{name}/trigger.
type TriggerRequest struct {
	Version        int            `json:"version,omitempty"`
	Input          map[string]any `json:"input"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// ExecutionResponse is the wire representation of an execution.
type ExecutionResponse struct {
	ID              string         `json:"id"`
	WorkflowName    string         `json:"workflow_name"`
	WorkflowVersion int            `json:"workflow_version"`
	Status          string         `json:"status"`
	Input           map[string]any `json:"input,omitempty"`
	Output          map[string]any `json:"output,omitempty"`
	Error           string         `json:"error,omitempty"`
	CurrentStep     string         `json:"current_step,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
}

func toExecutionResponse(e *execution.Execution) ExecutionResponse {
	return ExecutionResponse{
		ID:              e.ID,
		WorkflowName:    e.WorkflowName,
		WorkflowVersion: e.WorkflowVersion,
		Status:          e.Status.String(),
		Input:           e.Input,
		Output:          e.Output,
		Error:           e.Error,
		CurrentStep:     e.CurrentStep,
		CreatedAt:       e.CreatedAt.Format(timeLayout),
		UpdatedAt:       e.UpdatedAt.Format(timeLayout),
	}
}

// Trigger handles POST /v1/workflows/{name}/trigger.
func (h *ExecutionHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	workflowName := chi.URLParam(r, "name")

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	exec, err := h.engine.Trigger(r.Context(), workflowName, req.Version, req.Input, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, engine.ErrWorkflowNotFound) {
			respondError(w, http.StatusNotFound, "workflow not registered")
			return
		}
		logger.Error().Err(err).Str("workflow", workflowName).Msg("failed to trigger execution")
		respondError(w, http.StatusInternalServerError, "failed to trigger execution")
		return
	}

	respondJSON(w, http.StatusCreated, toExecutionResponse(exec))
}

// Get handles GET /v1/executions/{executionID}.
func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "executionID")

	exec, err := h.engine.GetExecution(r.Context(), executionID)
	if err != nil {
		if errors.Is(err, execution.ErrExecutionNotFound) {
			respondError(w, http.StatusNotFound, "execution not found")
			return
		}
		logger.Error().Err(err).Str("execution_id", executionID).Msg("failed to get execution")
		respondError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}

	respondJSON(w, http.StatusOK, toExecutionResponse(exec))
}

// TaskResponse is the wire representation of a dispatched task.
type TaskResponse struct {
	ID          string         `json:"id"`
	StepName    string         `json:"step_name"`
	StepType    string         `json:"step_type"`
	Status      string         `json:"status"`
	Attempt     int            `json:"attempt"`
	MaxAttempts int            `json:"max_attempts"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Tasks handles GET /v1/executions/{executionID}/tasks.
func (h *ExecutionHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "executionID")

	tasks, err := h.engine.ListTasks(r.Context(), executionID)
	if err != nil {
		logger.Error().Err(err).Str("execution_id", executionID).Msg("failed to list tasks")
		respondError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, TaskResponse{
			ID:          t.ID,
			StepName:    t.StepName,
			StepType:    string(t.StepType),
			Status:      string(t.Status),
			Attempt:     t.Attempt,
			MaxAttempts: t.MaxAttempts,
			Output:      t.Output,
			Error:       t.Error,
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{"tasks": out, "total_count": len(out)})
}

// Cancel handles POST /v1/executions/{executionID}/cancel.
func (h *ExecutionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "executionID")

	if err := h.engine.Cancel(r.Context(), executionID); err != nil {
		if errors.Is(err, execution.ErrExecutionNotFound) {
			respondError(w, http.StatusNotFound, "execution not found")
			return
		}
		logger.Error().Err(err).Str("execution_id", executionID).Msg("failed to cancel execution")
		respondError(w, http.StatusInternalServerError, "failed to cancel execution")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"message": "execution cancelled", "execution_id": executionID})
}

// List handles GET /v1/executions.
func (h *ExecutionHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := 50

	execs, err := h.engine.ListExecutions(r.Context(), status, limit)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list executions")
		respondError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	out := make([]ExecutionResponse, 0, len(execs))
	for _, e := range execs {
		out = append(out, toExecutionResponse(e))
	}

	respondJSON(w, http.StatusOK, map[string]any{"executions": out, "total_count": len(out)})
}
