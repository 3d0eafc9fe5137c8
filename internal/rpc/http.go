package rpc

import (
	"io"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewHTTPEngine builds the network-service transport: the same JSON-RPC
// handler exposed over POST /rpc, plus a plain-text health endpoint.
func NewHTTPEngine(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	engine.POST("/rpc", func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxLineBytes))
		if err != nil {
			c.JSON(http.StatusOK, newErrorResponse(nil, CodeParseError, "reading body: "+err.Error()))
			return
		}

		resp := h.HandleMessage(body)
		if resp == nil {
			// Notification: acknowledged with no body.
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	engine.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, h.router.Health())
	})

	return engine
}
