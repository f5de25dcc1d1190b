package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/config"
	"github.com/fathomlabs/fathom/internal/metrics"
	"github.com/fathomlabs/fathom/internal/workflows"
)

// ResearchHandler starts research runs over HTTP and serves their results.
// Budgets omitted from a request fall back to the operator-configured
// defaults before the workflow's own built-ins apply.
type ResearchHandler struct {
	temporal client.Client
	defaults config.ResearchConfig
	logger   *zap.Logger
}

// NewResearchHandler creates a new handler.
func NewResearchHandler(t client.Client, defaults config.ResearchConfig, logger *zap.Logger) *ResearchHandler {
	return &ResearchHandler{temporal: t, defaults: defaults, logger: logger}
}

// RegisterRoutes registers research routes on the provided mux.
func (h *ResearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/research", h.handleStart)
	mux.HandleFunc("/research/", h.handleGet)
}

// startResearchRequest is the expected payload for starting a run. Zero
// budget fields defer to the configured defaults.
type startResearchRequest struct {
	Query              string `json:"query"`
	MaxIterations      int    `json:"max_iterations,omitempty"`
	MaxDepthPerTopic   int    `json:"max_depth_per_topic,omitempty"`
	MaxActiveSubTopics int    `json:"max_active_subtopics,omitempty"`
	MaxWriterRounds    int    `json:"max_writer_rounds,omitempty"`
	Wait               bool   `json:"wait,omitempty"`
}

func (h *ResearchHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var req startResearchRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("research request decode error", zap.Error(err))
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, `{"error":"query is required"}`, http.StatusBadRequest)
		return
	}

	workflowID := "research-" + uuid.New().String()
	opts := client.StartWorkflowOptions{
		ID:                       workflowID,
		TaskQueue:                workflows.TaskQueue,
		WorkflowExecutionTimeout: 30 * time.Minute,
		WorkflowRunTimeout:       25 * time.Minute,
	}
	input := workflows.ResearchInput{
		Query:              req.Query,
		MaxIterations:      req.MaxIterations,
		MaxDepthPerTopic:   req.MaxDepthPerTopic,
		MaxActiveSubTopics: req.MaxActiveSubTopics,
		MaxWriterRounds:    req.MaxWriterRounds,
	}
	applyBudgetDefaults(&input, h.defaults)

	run, err := h.temporal.ExecuteWorkflow(r.Context(), opts, workflows.DeepResearchWorkflow, input)
	if err != nil {
		h.logger.Error("failed to start research workflow",
			zap.String("workflow_id", workflowID), zap.Error(err))
		http.Error(w, `{"error":"failed to start research"}`, http.StatusBadGateway)
		return
	}
	metrics.ResearchRunsStarted.Inc()
	h.logger.Info("Research run started",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
	)

	if req.Wait {
		var result workflows.ResearchResult
		if err := run.Get(r.Context(), &result); err != nil {
			h.logger.Error("research run failed",
				zap.String("workflow_id", run.GetID()), zap.Error(err))
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"workflow_id": run.GetID(),
				"status":      "failed",
				"error":       err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"workflow_id": run.GetID(),
			"status":      "completed",
			"result":      result,
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"workflow_id": run.GetID(),
		"run_id":      run.GetRunID(),
		"status":      "started",
	})
}

func (h *ResearchHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	workflowID := strings.TrimPrefix(r.URL.Path, "/research/")
	if workflowID == "" || strings.Contains(workflowID, "/") {
		http.Error(w, `{"error":"workflow id is required"}`, http.StatusBadRequest)
		return
	}

	desc, err := h.temporal.DescribeWorkflowExecution(r.Context(), workflowID, "")
	if err != nil {
		h.logger.Warn("describe workflow failed",
			zap.String("workflow_id", workflowID), zap.Error(err))
		http.Error(w, `{"error":"research run not found"}`, http.StatusNotFound)
		return
	}

	status := desc.GetWorkflowExecutionInfo().GetStatus()
	if status == enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING && r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusOK, map[string]any{
			"workflow_id": workflowID,
			"status":      "running",
		})
		return
	}

	var result workflows.ResearchResult
	if err := h.temporal.GetWorkflow(r.Context(), workflowID, "").Get(r.Context(), &result); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"workflow_id": workflowID,
			"status":      "failed",
			"error":       err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflow_id": workflowID,
		"status":      "completed",
		"result":      result,
	})
}

// applyBudgetDefaults fills zero request budgets from the worker config.
// Anything still zero afterwards falls back to the workflow's built-ins.
func applyBudgetDefaults(in *workflows.ResearchInput, d config.ResearchConfig) {
	if in.MaxIterations <= 0 {
		in.MaxIterations = d.MaxIterations
	}
	if in.MaxDepthPerTopic <= 0 {
		in.MaxDepthPerTopic = d.MaxDepthPerTopic
	}
	if in.MaxActiveSubTopics <= 0 {
		in.MaxActiveSubTopics = d.MaxActiveSubTopics
	}
	if in.MaxWriterRounds <= 0 {
		in.MaxWriterRounds = d.MaxWriterRounds
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// StartResearchServer starts the research API server on its own port.
func StartResearchServer(port int, t client.Client, defaults config.ResearchConfig, logger *zap.Logger) *http.Server {
	handler := NewResearchHandler(t, defaults, logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Minute, // waiting starts block until the run finishes
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Starting research API server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Research API server failed", zap.Error(err))
		}
	}()
	return srv
}
