package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/invoice_recon/appctx"
)

var (
	ContextKeyWorkspaceId   = appctx.ContextKeyWorkspaceId
	ContextKeyUserName      = appctx.ContextKeyUserName
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId

	ContextKeySkipWorkspaceScope = appctx.ContextKeySkipWorkspaceScope
)

func GetWorkspaceIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyWorkspaceId)
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserName)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetWorkspaceIdInContext(ctx context.Context, workspaceId string) context.Context {
	return appctx.Set(ctx, ContextKeyWorkspaceId, workspaceId)
}

func SetUserNameInContext(ctx context.Context, name string) context.Context {
	return appctx.Set(ctx, ContextKeyUserName, name)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

// SkipWorkspaceScope disables the workspace guard for internal tools.
func SkipWorkspaceScope(ctx context.Context) context.Context {
	return appctx.Set(ctx, ContextKeySkipWorkspaceScope, true)
}
