package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/tradeledger_backend/appctx"
	"github.com/google/uuid"
)

var (
	ContextKeyCorrelationId    = appctx.ContextKeyCorrelationId
	ContextKeyActor            = appctx.ContextKeyActor
	ContextKeySkipBalanceCache = appctx.ContextKeySkipBalanceCache
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

// CorrelationIdFromContextOrNew returns the request correlation id, minting one when absent.
func CorrelationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func GetActorFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyActor)
}

func SetActorInContext(ctx context.Context, actor string) context.Context {
	return appctx.Set(ctx, ContextKeyActor, actor)
}

func SkipBalanceCache(ctx context.Context) bool {
	v, _ := appctx.GetBool(ctx, ContextKeySkipBalanceCache)
	return v
}

func SetSkipBalanceCacheInContext(ctx context.Context, skip bool) context.Context {
	return appctx.Set(ctx, ContextKeySkipBalanceCache, skip)
}
