package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"go-flowgate/internal/api/dto"
	"go-flowgate/internal/core/memory"
	"go-flowgate/internal/domain"
	"go-flowgate/internal/engine"
	"go-flowgate/internal/service"
	"go-flowgate/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	eng := engine.New(store, worker.InitRegistry(logger, nil), engine.WithLogger(logger))

	router := gin.New()
	NewWorkflowHandler(service.NewWorkflowService(store, eng, nil), logger).Register(router.Group("/api/v1"))
	return router
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createTemplate(t *testing.T, router *gin.Engine) domain.WorkflowTemplate {
	t.Helper()
	w := do(t, router, http.MethodPost, "/api/v1/templates", dto.CreateTemplateRequest{
		UserID:   "agent-1",
		Name:     "Listing launch",
		Industry: "real_estate",
		Tasks: []dto.TaskDTO{
			{RefID: "intro", Name: "Send intro", TaskType: "noop"},
			{RefID: "approve", Name: "Approve price", TaskType: "noop", IsHITL: true, ParentRef: "intro"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var tmpl domain.WorkflowTemplate
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tmpl))
	return tmpl
}

func startInstance(t *testing.T, router *gin.Engine, templateID uuid.UUID) uuid.UUID {
	t.Helper()
	w := do(t, router, http.MethodPost, "/api/v1/instances", dto.StartInstanceRequest{
		UserID:     "agent-1",
		TemplateID: templateID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp dto.CreateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.ID
}

func getInstance(t *testing.T, router *gin.Engine, id uuid.UUID) dto.InstanceView {
	t.Helper()
	w := do(t, router, http.MethodGet, "/api/v1/instances/"+id.String(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var view dto.InstanceView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	return view
}

func TestCreateTemplate_Validation(t *testing.T) {
	router := setupRouter()

	w := do(t, router, http.MethodPost, "/api/v1/templates", map[string]any{"name": "no tasks"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/templates", dto.CreateTemplateRequest{
		UserID: "agent-1", Name: "Broken", Industry: "insurance",
		Tasks: []dto.TaskDTO{{RefID: "a", Name: "A", TaskType: "noop", ParentRef: "ghost"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "ghost")
}

func TestGetTemplate(t *testing.T) {
	router := setupRouter()
	tmpl := createTemplate(t, router)

	w := do(t, router, http.MethodGet, "/api/v1/templates/"+tmpl.ID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Approve price")

	w = do(t, router, http.MethodGet, "/api/v1/templates/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/templates/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartInstance_UnknownTemplate(t *testing.T) {
	router := setupRouter()

	w := do(t, router, http.MethodPost, "/api/v1/instances", dto.StartInstanceRequest{
		UserID:     "agent-1",
		TemplateID: uuid.New(),
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHITLFlow(t *testing.T) {
	router := setupRouter()
	tmpl := createTemplate(t, router)
	id := startInstance(t, router, tmpl.ID)

	view := getInstance(t, router, id)
	require.Len(t, view.Executions, 2)
	assert.Equal(t, domain.StatusCompleted, view.Executions[0].Status)
	gate := view.Executions[1]

	w := do(t, router, http.MethodPost, fmt.Sprintf("/api/v1/executions/%s/process", gate.ID), nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = do(t, router, http.MethodGet, "/api/v1/users/agent-1/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var open []domain.HITLNotification
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &open))
	require.Len(t, open, 1)
	assert.Equal(t, gate.ID, open[0].ExecutionID)

	w = do(t, router, http.MethodPost, fmt.Sprintf("/api/v1/executions/%s/approve", gate.ID), map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, fmt.Sprintf("/api/v1/executions/%s/approve", gate.ID),
		dto.GateDecisionRequest{UserID: "broker-1", Notes: "looks right"})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = do(t, router, http.MethodPost, fmt.Sprintf("/api/v1/executions/%s/reject", gate.ID),
		dto.GateDecisionRequest{UserID: "broker-1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	view = getInstance(t, router, id)
	assert.Equal(t, domain.InstanceCompleted, view.Instance.Status)
	assert.Equal(t, domain.StatusCompleted, view.Executions[1].Status)

	w = do(t, router, http.MethodGet, "/api/v1/users/agent-1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats domain.WorkflowStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, domain.WorkflowStats{TotalWorkflows: 1, CompletedInstances: 1}, stats)
}

func TestCancelInstance(t *testing.T) {
	router := setupRouter()
	tmpl := createTemplate(t, router)
	id := startInstance(t, router, tmpl.ID)

	w := do(t, router, http.MethodPost, "/api/v1/instances/"+id.String()+"/cancel", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/instances/"+id.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/instances/"+uuid.NewString()+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProcessExecution_NotFound(t *testing.T) {
	router := setupRouter()

	w := do(t, router, http.MethodPost, "/api/v1/executions/"+uuid.NewString()+"/process", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", engine.ErrExecutionNotFound), http.StatusNotFound},
		{engine.ErrInvalidGateState, http.StatusConflict},
		{engine.ErrInstanceNotActive, http.StatusConflict},
		{service.ErrInvalidTemplate, http.StatusBadRequest},
		{engine.ErrInvalidBranchOperator, http.StatusUnprocessableEntity},
		{engine.ErrTaskNotFound, http.StatusUnprocessableEntity},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
