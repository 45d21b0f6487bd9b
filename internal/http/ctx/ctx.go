package ctx

import (
	"github.com/valyala/fasthttp"

	dbpkg "counterstats/internal/db"
)

const (
	UserKey      = "user"
	APIKeyKey    = "apiKey"
	RequestIDKey = "requestID"
)

func SetUser(ctx *fasthttp.RequestCtx, user *dbpkg.User) {
	ctx.SetUserValue(UserKey, user)
}

func UserFromCtx(ctx *fasthttp.RequestCtx) (*dbpkg.User, bool) {
	u, ok := ctx.UserValue(UserKey).(*dbpkg.User)
	return u, ok && u != nil
}

func SetAPIKey(ctx *fasthttp.RequestCtx, apiKey *dbpkg.APIKey) {
	ctx.SetUserValue(APIKeyKey, apiKey)
}

func APIKeyFromCtx(ctx *fasthttp.RequestCtx) (*dbpkg.APIKey, bool) {
	ak, ok := ctx.UserValue(APIKeyKey).(*dbpkg.APIKey)
	return ak, ok && ak != nil
}

func SetRequestID(ctx *fasthttp.RequestCtx, id string) {
	ctx.SetUserValue(RequestIDKey, id)
}

func RequestIDFromCtx(ctx *fasthttp.RequestCtx) string {
	s, _ := ctx.UserValue(RequestIDKey).(string)
	return s
}
