package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

type HandlerFunc func(ctx *gin.Context) (any, *Error)

// ResolveEndpoint writes the handler's result as JSON, or its error as
// {"error": message}. A handler that already wrote a response (for example
// a 304) returns nil, nil.
func ResolveEndpoint(h HandlerFunc) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		result, error := h(ctx)
		if error != nil {
			ctx.JSON(error.Code, gin.H{"error": error.Message})
			return
		}
		if ctx.Writer.Written() {
			return
		}

		ctx.JSON(http.StatusOK, result)
	}
}

// Controller is the router group a Module mounts its endpoints on.
type Controller struct {
	Group *gin.RouterGroup
}

func (c *Controller) GET(path string, h HandlerFunc) {
	c.Group.GET(path, ResolveEndpoint(h))
}

func (c *Controller) POST(path string, h HandlerFunc) {
	c.Group.POST(path, ResolveEndpoint(h))
}

func (c *Controller) PUT(path string, h HandlerFunc) {
	c.Group.PUT(path, ResolveEndpoint(h))
}

func (c *Controller) DELETE(path string, h HandlerFunc) {
	c.Group.DELETE(path, ResolveEndpoint(h))
}
