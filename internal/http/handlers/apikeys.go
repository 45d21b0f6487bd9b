package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"counterstats/internal/config"
	dbpkg "counterstats/internal/db"
)

func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "cs_" + base64.RawURLEncoding.EncodeToString(b), nil
}

type apiKeyView struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
	Key    string `json:"key,omitempty"`
}

// ListAPIKeys serves GET /v1/apikeys. Admins see every key, other users
// only their own. Key values are never listed.
func ListAPIKeys(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		q := db.Order("id")
		if !user.IsAdmin {
			q = q.Where("user_id = ?", user.ID)
		}
		var keys []dbpkg.APIKey
		if err := q.Find(&keys).Error; err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to list API keys")
			return
		}
		out := make([]apiKeyView, len(keys))
		for i, k := range keys {
			out[i] = apiKeyView{ID: k.ID, Name: k.Name, Active: k.Active}
		}
		jsonResponse(ctx, map[string]any{"api_keys": out})
	}
}

// CreateAPIKey serves POST /v1/apikeys with body {"name": "..."}. The
// generated key is returned once.
func CreateAPIKey(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var body struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(ctx.PostBody(), &body); err != nil || body.Name == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "name required")
			return
		}

		user, ok := MustUser(ctx)
		if !ok {
			return
		}
		key, err := generateAPIKey()
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to generate API key")
			return
		}

		apiKey := &dbpkg.APIKey{
			UserID: user.ID,
			Name:   body.Name,
			Key:    key,
			Active: true,
		}
		if err := db.Create(apiKey).Error; err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "failed to create API key")
			return
		}

		ctx.SetStatusCode(fasthttp.StatusCreated)
		jsonResponse(ctx, apiKeyView{ID: apiKey.ID, Name: apiKey.Name, Active: true, Key: key})
	}
}

// loadOwnedKey resolves {id} and checks that the current user may manage it.
func loadOwnedKey(ctx *fasthttp.RequestCtx, db *gorm.DB) (*dbpkg.APIKey, bool) {
	user, ok := MustUser(ctx)
	if !ok {
		return nil, false
	}
	idStr, _ := ctx.UserValue("id").(string)
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil || id == 0 {
		errResponse(ctx, fasthttp.StatusBadRequest, "invalid id")
		return nil, false
	}

	var apiKey dbpkg.APIKey
	if err := db.First(&apiKey, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			errResponse(ctx, fasthttp.StatusNotFound, "API key not found")
			return nil, false
		}
		errResponse(ctx, fasthttp.StatusInternalServerError, "failed to load API key")
		return nil, false
	}
	if apiKey.UserID != user.ID && !user.IsAdmin {
		errResponse(ctx, fasthttp.StatusForbidden, "forbidden")
		return nil, false
	}
	return &apiKey, true
}

// SetActiveAPIKey serves POST /v1/apikeys/{id}/active?active=true|false.
func SetActiveAPIKey(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		activeStr := string(ctx.QueryArgs().Peek("active"))
		if activeStr != "true" && activeStr != "false" {
			errResponse(ctx, fasthttp.StatusBadRequest, "active (true|false) required")
			return
		}
		apiKey, ok := loadOwnedKey(ctx, db)
		if !ok {
			return
		}
		if err := db.Model(apiKey).Update("active", activeStr == "true").Error; err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to update API key")
			return
		}
		jsonResponse(ctx, apiKeyView{ID: apiKey.ID, Name: apiKey.Name, Active: activeStr == "true"})
	}
}

// DeleteAPIKey serves DELETE /v1/apikeys/{id}. The configured ingest key
// cannot be deleted; it would be recreated on the next start.
func DeleteAPIKey(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		apiKey, ok := loadOwnedKey(ctx, db)
		if !ok {
			return
		}
		if cfg.IngestAPIKey != "" && apiKey.Key == cfg.IngestAPIKey {
			errResponse(ctx, fasthttp.StatusForbidden, "cannot delete the configured ingest API key")
			return
		}
		if err := db.Delete(apiKey).Error; err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to delete API key")
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	}
}
