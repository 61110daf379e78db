package middlewares

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bitbucket.org/mmdatafocus/invoice_recon/utils"
)

// Authentication happens in the gateway, which forwards the caller's
// workspace and user name in these headers.
const (
	WorkspaceHeader     = "X-Workspace-Id"
	UserHeader          = "X-User-Name"
	CorrelationIdHeader = "X-Correlation-Id"
)

// CorrelationMiddleware puts the caller's correlation id, or a new one, into
// the request context and echoes it back.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := strings.TrimSpace(c.GetHeader(CorrelationIdHeader))
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header(CorrelationIdHeader, cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	}
}

// WorkspaceMiddleware copies the workspace and user headers into the request
// context. Requests without a workspace pass through; handlers reject them.
func WorkspaceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceId := strings.TrimSpace(c.GetHeader(WorkspaceHeader))
		if workspaceId == "" {
			c.Next()
			return
		}
		ctx := utils.SetWorkspaceIdInContext(c.Request.Context(), workspaceId)
		if name := strings.TrimSpace(c.GetHeader(UserHeader)); name != "" {
			ctx = utils.SetUserNameInContext(ctx, name)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
