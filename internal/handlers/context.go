package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/hycredit/internal/middleware"
	"github.com/charlesng35/hycredit/internal/permissions"
	"github.com/charlesng35/hycredit/pkg/errors"
	"github.com/charlesng35/hycredit/pkg/response"
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

// actor returns the authenticated party or writes a 401 and returns false.
func actor(c *gin.Context) (permissions.Actor, bool) {
	a, ok := middleware.ActorFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return permissions.Actor{}, false
	}
	return a, true
}
