package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	dbpkg "counterstats/internal/db"
	httpctx "counterstats/internal/http/ctx"
	"counterstats/internal/stats"
)

// MustUser returns the current user from context, or sends 401 and returns (nil, false).
func MustUser(ctx *fasthttp.RequestCtx) (*dbpkg.User, bool) {
	user, ok := httpctx.UserFromCtx(ctx)
	if !ok {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		ctx.SetBodyString("unauthorized")
		return nil, false
	}
	return user, true
}

// RequestLogger returns fasthttp middleware that assigns a request ID and
// logs method, path, status and duration.
func RequestLogger(logger *zap.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			id := string(ctx.Request.Header.Peek("X-Request-ID"))
			if id == "" {
				id = uuid.NewString()
			}
			httpctx.SetRequestID(ctx, id)
			ctx.Response.Header.Set("X-Request-ID", id)

			start := time.Now()
			next(ctx)
			logger.Info("request",
				zap.String("request_id", id),
				zap.ByteString("method", ctx.Method()),
				zap.ByteString("path", ctx.Path()),
				zap.Int("status", ctx.Response.StatusCode()),
				zap.Duration("duration", time.Since(start)),
				zap.String("ip", ctx.RemoteIP().String()),
			)
		}
	}
}

func jsonResponse(ctx *fasthttp.RequestCtx, data any) {
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(data)
	ctx.SetBody(body)
}

func errResponse(ctx *fasthttp.RequestCtx, code int, msg string) {
	ctx.SetStatusCode(code)
	ctx.SetBodyString(msg)
}

// statsErrResponse maps stats errors to a status code: configuration
// errors are the caller's fault, data source errors are upstream failures.
func statsErrResponse(ctx *fasthttp.RequestCtx, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, stats.ErrConfiguration):
		errResponse(ctx, fasthttp.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("stats query timed out", zap.String("request_id", httpctx.RequestIDFromCtx(ctx)), zap.Error(err))
		errResponse(ctx, fasthttp.StatusGatewayTimeout, "query timed out")
	case errors.Is(err, stats.ErrDataSource):
		logger.Error("stats query failed", zap.String("request_id", httpctx.RequestIDFromCtx(ctx)), zap.Error(err))
		errResponse(ctx, fasthttp.StatusBadGateway, "event log unavailable")
	default:
		logger.Error("stats request failed", zap.String("request_id", httpctx.RequestIDFromCtx(ctx)), zap.Error(err))
		errResponse(ctx, fasthttp.StatusInternalServerError, "internal error")
	}
}
