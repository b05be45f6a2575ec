package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/duetapp/duet/internal/middleware"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUserID extracts the authenticated user id set by the auth middleware.
func currentUserID(c *gin.Context) (string, bool) {
	value, exists := c.Get(middleware.CtxUserIDKey)
	if !exists {
		return "", false
	}
	id, ok := value.(string)
	return id, ok && id != ""
}
