package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"counterstats/internal/config"
)

// Connect opens the database named by APP_DATABASE_URL and migrates it.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	return Open(cfg.DatabaseURL)
}

// Open accepts postgres:// and postgresql:// URLs, sqlite://<path> for a
// sqlite file and memory://[name] for a private in-memory sqlite database.
func Open(databaseURL string) (*gorm.DB, error) {
	dsn := strings.TrimSpace(databaseURL)
	if dsn == "" {
		return nil, errors.New("database URL is required")
	}

	var (
		dialector gorm.Dialector
		isSQLite  bool
	)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			return nil, errors.New("sqlite:// URL needs a file path")
		}
		dialector = sqlite.Open(path)
		isSQLite = true
	case strings.HasPrefix(dsn, "memory://"):
		name := strings.TrimPrefix(dsn, "memory://")
		if name == "" {
			name = "counterstats"
		}
		dialector = sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
		isSQLite = true
	default:
		return nil, errors.New("database URL must start with postgres://, postgresql://, sqlite:// or memory://")
	}

	// PrepareStmt: true prevents the GORM postgres migrator from forcing simple protocol
	// for "SELECT * FROM table LIMIT 1", which would otherwise trigger "insufficient arguments".
	db, err := gorm.Open(dialector, &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Warn),
		// Event timestamps are stored in UTC so that range comparisons agree
		// across drivers.
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	if isSQLite {
		// sqlite allows one writer; a single connection also keeps an
		// in-memory database alive for the life of the pool.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&StatsEvent{}, &User{}, &APIKey{}); err != nil {
		return nil, err
	}

	return db, nil
}

// EnsureBootstrapAdmin makes sure there is at least one admin user
// corresponding to the bootstrap credentials in config. If a user with
// that username already exists, it is left as-is.
func EnsureBootstrapAdmin(db *gorm.DB, cfg *config.Config) error {
	if cfg.AdminUser == "" || cfg.AdminPassword == "" {
		return nil
	}

	var count int64
	if err := db.Model(&User{}).Where("username = ?", cfg.AdminUser).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return db.Create(&User{
		Username:     cfg.AdminUser,
		PasswordHash: string(hash),
		IsAdmin:      true,
	}).Error
}

// EnsureBootstrapAPIKey registers the configured ingest key for the admin
// user. An existing key is re-activated and moved to the admin if needed.
func EnsureBootstrapAPIKey(db *gorm.DB, cfg *config.Config) error {
	if cfg.IngestAPIKey == "" {
		return nil
	}

	var admin User
	if err := db.Where("username = ?", cfg.AdminUser).First(&admin).Error; err != nil {
		return err
	}

	// Use Find so "not found" doesn't log as error.
	var existing APIKey
	if err := db.Where("key = ?", cfg.IngestAPIKey).Limit(1).Find(&existing).Error; err != nil {
		return err
	}
	if existing.ID != 0 {
		if existing.UserID == admin.ID && existing.Active {
			return nil
		}
		existing.UserID = admin.ID
		existing.Active = true
		return db.Save(&existing).Error
	}

	return db.Create(&APIKey{
		UserID: admin.ID,
		Name:   "bootstrap",
		Key:    cfg.IngestAPIKey,
		Active: true,
	}).Error
}

// Authenticate returns the user whose bcrypt hash matches password.
func Authenticate(db *gorm.DB, username, password string) (*User, error) {
	var user User
	if err := db.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, err
	}
	return &user, nil
}
