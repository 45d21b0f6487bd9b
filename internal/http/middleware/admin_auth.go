package middleware

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"counterstats/internal/config"
	dbpkg "counterstats/internal/db"
	httpctx "counterstats/internal/http/ctx"
)

const basicRealm = `Basic realm="counterstats"`

func basicCredentials(ctx *fasthttp.RequestCtx) (string, string, bool) {
	auth := ctx.Request.Header.Peek("Authorization")
	const prefix = "Basic "
	if !bytes.HasPrefix(auth, []byte(prefix)) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(auth[len(prefix):])))
	if err != nil {
		return "", "", false
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	return username, password, ok
}

// BasicAuth authenticates users with HTTP Basic credentials checked against
// their bcrypt password hash, and sets the user on the context.
func BasicAuth(db *gorm.DB, cfg *config.Config) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			username, password, ok := basicCredentials(ctx)
			if !ok {
				ctx.Response.Header.Set("WWW-Authenticate", basicRealm)
				unauthorized(ctx, "unauthorized")
				return
			}

			user, err := dbpkg.Authenticate(db, username, password)
			if err != nil {
				ctx.Response.Header.Set("WWW-Authenticate", basicRealm)
				unauthorized(ctx, "invalid credentials")
				return
			}

			if user.Username == cfg.AdminUser {
				user.IsAdmin = true
			}

			httpctx.SetUser(ctx, user)
			next(ctx)
		}
	}
}

// RequireAdmin rejects users that passed BasicAuth without admin rights.
func RequireAdmin(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := httpctx.UserFromCtx(ctx)
		if !ok || !user.IsAdmin {
			ctx.SetStatusCode(fasthttp.StatusForbidden)
			ctx.SetBodyString("forbidden")
			return
		}
		next(ctx)
	}
}
