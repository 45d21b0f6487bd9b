package middleware

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"counterstats/internal/config"
	"counterstats/internal/stats"
)

// RequestsCounter is the counter the service records its own traffic on,
// tagged by request path.
var RequestsCounter = stats.Named("http_requests")

// skipSelfReport lists paths that are never recorded.
var skipSelfReport = map[string]bool{
	"/v1/events": true,
	"/metrics":   true,
	"/healthz":   true,
}

// SelfReport records a +1 change on RequestsCounter for every handled
// request when APP_SELF_REPORT is set. Otherwise it does nothing. The
// event is written after the response is handled, off the request path,
// stamped with the time the request finished.
func SelfReport(cfg *config.Config, recorder *stats.Recorder, logger *zap.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if !cfg.SelfReport {
		return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
			return next
		}
	}

	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			next(ctx)

			// ctx is recycled once the handler returns; copy what the
			// goroutine needs.
			path := string(ctx.Path())
			if skipSelfReport[path] {
				return
			}
			at := time.Now()

			go func() {
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if _, err := recorder.Change(rctx, RequestsCounter, 1, stats.Tagged(path), stats.At(at)); err != nil {
					logger.Warn("self report failed", zap.String("path", path), zap.Error(err))
				}
			}()
		}
	}
}
