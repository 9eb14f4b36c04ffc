package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cascadeci/cascade/internal/engine"
	"github.com/cascadeci/cascade/pkg/api"
)

func (s *Server) startPlan(c *gin.Context) {
	var req api.StartPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Plan == nil {
		badRequest(c, "plan is required")
		return
	}

	id := req.ID
	if id == "" {
		id = api.PlanExecutionID(uuid.NewString())
	}
	amb, err := s.engine.StartPlan(c.Request.Context(), id, req.Plan,
		req.Setup)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrPlanExists):
			conflict(c, err.Error())
		default:
			badRequest(c, err.Error())
		}
		return
	}

	c.JSON(http.StatusCreated, api.StartPlanResponse{
		ID:       id,
		Ambiance: amb,
	})
}

func (s *Server) getPlan(c *gin.Context) {
	id := api.PlanExecutionID(c.Param("planID"))
	st, err := s.engine.GetPlanExecution(c.Request.Context(), id)
	if err != nil {
		notFound(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) registerInterrupt(c *gin.Context) {
	id := api.PlanExecutionID(c.Param("planID"))
	var req api.InterruptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	err := s.engine.RegisterInterrupt(c.Request.Context(), id,
		&api.Interrupt{
			Type:            req.Type,
			NodeExecutionID: req.NodeExecutionID,
			Reason:          req.Reason,
		})
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrPlanNotFound):
			notFound(c, err.Error())
		case errors.Is(err, engine.ErrPlanTerminal):
			conflict(c, err.Error())
		default:
			badRequest(c, err.Error())
		}
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) getNode(c *gin.Context) {
	id := api.NodeExecutionID(c.Param("nodeID"))
	st, err := s.engine.GetNodeExecution(c.Request.Context(), id)
	if err != nil {
		notFound(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) getRestraintUnit(c *gin.Context) {
	restraintID := api.RestraintID(c.Param("restraintID"))
	unit := api.ResourceUnit(c.Param("unit"))
	st, err := s.restraint.GetUnitState(c.Request.Context(),
		restraintID, unit)
	if err != nil {
		notFound(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, st)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, api.ErrorResponse{
		Error:  msg,
		Status: http.StatusBadRequest,
	})
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, api.ErrorResponse{
		Error:  msg,
		Status: http.StatusNotFound,
	})
}

func conflict(c *gin.Context, msg string) {
	c.JSON(http.StatusConflict, api.ErrorResponse{
		Error:  msg,
		Status: http.StatusConflict,
	})
}

func serverError(c *gin.Context, msg string) {
	c.JSON(http.StatusInternalServerError, api.ErrorResponse{
		Error:  msg,
		Status: http.StatusInternalServerError,
	})
}
