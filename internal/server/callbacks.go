package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cascadeci/cascade/pkg/api"
	"github.com/cascadeci/cascade/pkg/log"
)

// handleDoneWith is the webhook external workers hit when a correlated
// unit of work completes
func (s *Server) handleDoneWith(c *gin.Context) {
	id := api.CorrelationID(c.Param("correlationID"))
	var req api.DoneWithRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	err := s.wait.DoneWith(c.Request.Context(), id, req.Data,
		req.IsError)
	if err != nil {
		slog.Error("Failed to complete correlation",
			log.CorrelationID(id),
			log.Error(err))
		serverError(c, err.Error())
		return
	}
	c.Status(http.StatusOK)
}

// handleProgress is the webhook for interim progress reports
func (s *Server) handleProgress(c *gin.Context) {
	id := api.CorrelationID(c.Param("correlationID"))
	var req api.ProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if err := s.wait.ProgressOn(c.Request.Context(), id, req.Data); err != nil {
		slog.Error("Failed to record progress",
			log.CorrelationID(id),
			log.Error(err))
		serverError(c, err.Error())
		return
	}
	c.Status(http.StatusOK)
}

// handleSdkEvent accepts inbound step-SDK events and routes them
// through the dispatcher
func (s *Server) handleSdkEvent(c *gin.Context) {
	var ev api.SdkEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		badRequest(c, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if ev.NodeExecutionID == "" || ev.Kind == "" {
		badRequest(c, "kind and node_execution_id are required")
		return
	}

	if err := s.engine.DispatchSdkEvent(c.Request.Context(), &ev); err != nil {
		notFound(c, err.Error())
		return
	}
	c.Status(http.StatusAccepted)
}
