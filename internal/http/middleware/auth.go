package middleware

import (
	"bytes"
	"errors"
	"strings"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "counterstats/internal/db"
	httpctx "counterstats/internal/http/ctx"
)

func unauthorized(ctx *fasthttp.RequestCtx, msg string) {
	ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	ctx.SetBodyString(msg)
}

// ingestToken reads the API key from "Authorization: Bearer <key>" or, for
// writers that cannot set Authorization, from X-API-Key.
func ingestToken(ctx *fasthttp.RequestCtx) (string, string) {
	if key := strings.TrimSpace(string(ctx.Request.Header.Peek("X-API-Key"))); key != "" {
		return key, ""
	}

	auth := ctx.Request.Header.Peek("Authorization")
	if len(auth) == 0 {
		return "", "missing Authorization header"
	}
	const prefix = "Bearer "
	if !bytes.HasPrefix(auth, []byte(prefix)) {
		return "", "invalid Authorization header"
	}
	token := strings.TrimSpace(string(auth[len(prefix):]))
	if token == "" {
		return "", "empty bearer token"
	}
	return token, ""
}

// BearerAuth admits writers holding an active API key and puts the key and
// its owner on the context.
func BearerAuth(db *gorm.DB) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			token, problem := ingestToken(ctx)
			if problem != "" {
				unauthorized(ctx, problem)
				return
			}

			var apiKey dbpkg.APIKey
			err := db.Where("key = ? AND active = ?", token, true).Preload("User").First(&apiKey).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				unauthorized(ctx, "invalid API key")
				return
			case err != nil:
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetBodyString("database error")
				return
			}

			httpctx.SetAPIKey(ctx, &apiKey)
			httpctx.SetUser(ctx, &apiKey.User)
			next(ctx)
		}
	}
}
