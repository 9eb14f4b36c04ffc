package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	app "github.com/cascadeci/cascade"
	"github.com/cascadeci/cascade/pkg/api"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, api.HealthResponse{
		Status:  "ok",
		Name:    app.Name,
		Version: app.Version,
	})
}
