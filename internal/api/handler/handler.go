package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"go-flowgate/internal/api/dto"
	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/engine"
	"go-flowgate/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type WorkflowHandler struct {
	service service.WorkflowService
	logger  *slog.Logger
}

func NewWorkflowHandler(svc service.WorkflowService, logger *slog.Logger) *WorkflowHandler {
	return &WorkflowHandler{service: svc, logger: logger}
}

// Register mounts the workflow routes on a router group, e.g. /api/v1.
func (h *WorkflowHandler) Register(api *gin.RouterGroup) {
	api.POST("/templates", h.CreateTemplate)
	api.GET("/templates/:id", h.GetTemplate)

	api.POST("/instances", h.StartInstance)
	api.GET("/instances/:id", h.GetInstance)
	api.POST("/instances/:id/cancel", h.CancelInstance)

	api.POST("/executions/:id/process", h.ProcessExecution)
	api.POST("/executions/:id/approve", h.ApproveExecution)
	api.POST("/executions/:id/reject", h.RejectExecution)

	api.GET("/users/:userID/stats", h.Stats)
	api.GET("/users/:userID/notifications", h.Notifications)
}

func (h *WorkflowHandler) CreateTemplate(c *gin.Context) {
	var req dto.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	tmpl, err := h.service.RegisterTemplate(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, tmpl)
}

func (h *WorkflowHandler) GetTemplate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	tmpl, err := h.service.GetTemplate(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, tmpl)
}

func (h *WorkflowHandler) StartInstance(c *gin.Context) {
	var req dto.StartInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	instanceID, err := h.service.StartInstance(c.Request.Context(), req)
	if err != nil && instanceID == uuid.Nil {
		h.fail(c, err)
		return
	}
	if err != nil {
		// The instance exists; only its first step ran into trouble.
		h.logger.Error("first task of new instance failed", "instance_id", instanceID, "error", err)
	}

	c.JSON(http.StatusCreated, dto.CreateResponse{ID: instanceID})
}

func (h *WorkflowHandler) GetInstance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	view, err := h.service.GetInstance(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *WorkflowHandler) CancelInstance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.service.CancelInstance(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *WorkflowHandler) ProcessExecution(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.service.ProcessExecution(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}

func (h *WorkflowHandler) ApproveExecution(c *gin.Context) {
	h.decide(c, h.service.ApproveExecution)
}

func (h *WorkflowHandler) RejectExecution(c *gin.Context) {
	h.decide(c, h.service.RejectExecution)
}

func (h *WorkflowHandler) decide(c *gin.Context, apply func(ctx context.Context, id uuid.UUID, req dto.GateDecisionRequest) error) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req dto.GateDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	if err := apply(c.Request.Context(), id, req); err != nil {
		h.fail(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *WorkflowHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context(), c.Param("userID"))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *WorkflowHandler) Notifications(c *gin.Context) {
	list, err := h.service.OpenNotifications(c.Request.Context(), c.Param("userID"))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid id: " + c.Param("id")})
		return uuid.Nil, false
	}
	return id, true
}

func (h *WorkflowHandler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err)
	}
	c.JSON(status, dto.ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrTemplateNotFound),
		errors.Is(err, engine.ErrInstanceNotFound),
		errors.Is(err, engine.ErrExecutionNotFound),
		errors.Is(err, ports.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidGateState),
		errors.Is(err, engine.ErrInstanceNotActive):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidTemplate):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrInvalidBranchOperator),
		errors.Is(err, engine.ErrTaskNotFound):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
