package server

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/artemis/databridge/internal/apierr"
)

const ownerHeader = "X-Owner-ID"

// ownerKey is the gin context key the owner middleware stores the
// extracted principal under.
const ownerKey = "owner_id"

// ownerMiddleware extracts the owner principal a request acts as. Real
// authentication is out of scope; this project's job rows are scoped
// per-owner regardless, so the boundary still needs an identity to scope
// by. A caller supplies it directly via X-Owner-ID, trusted as given.
func ownerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.GetHeader(ownerHeader)
		if owner == "" {
			respondError(c, apierr.New(apierr.Unauthorized, "missing "+ownerHeader+" header"))
			c.Abort()
			return
		}
		c.Set(ownerKey, owner)
		c.Next()
	}
}

func ownerID(c *gin.Context) string {
	v, _ := c.Get(ownerKey)
	s, _ := v.(string)
	return s
}

// loggingMiddleware logs HTTP requests, skipping health-check spam.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/healthz" || path == "/readyz" {
			c.Next()
			return
		}

		c.Next()

		s.logger.InfoRedacted("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
		)
	}
}

// corsMiddleware handles CORS for the browser-facing job dashboard.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Idempotency-Key, "+ownerHeader+", Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
