package handlers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	dbpkg "counterstats/internal/db"
	"counterstats/internal/stats"
)

// EventFinder loads a stored event row by ID.
type EventFinder interface {
	Find(ctx context.Context, id uint64) (*dbpkg.StatsEvent, error)
}

// EventDetail serves GET /v1/events/{id}: the stored row with its
// attributes.
func EventDetail(log EventFinder) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		idStr, ok := ctx.UserValue("id").(string)
		if !ok || idStr == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "id required")
			return
		}
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil || id == 0 {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid id")
			return
		}

		e, err := log.Find(context.Background(), id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				errResponse(ctx, fasthttp.StatusNotFound, "event not found")
				return
			}
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to load event")
			return
		}

		jsonResponse(ctx, map[string]any{
			"id":         e.ID,
			"name":       e.Name,
			"tag":        e.Tag,
			"type":       stats.Kind(e.Type).String(),
			"value":      e.Value,
			"created_at": e.CreatedAt.Format(time.RFC3339Nano),
			"attributes": e.Attributes,
		})
	}
}
