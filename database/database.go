package database

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"reward-engine/models"

	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Models lists every table, in AutoMigrate order.
var Models = []any{
	&models.User{},
	&models.Referral{},
	&models.Task{},
	&models.UserTask{},
	&models.Gift{},
	&models.Purchase{},
	&models.LootBoxPrize{},
	&models.LootBoxDraw{},
	&models.OutboxEvent{},
}

// Open connects to postgres, or to sqlite when dsn starts with "sqlite:".
func Open(dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	if cfg == nil {
		cfg = &gorm.Config{}
	}
	if path, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		if !strings.Contains(path, "?") {
			path += "?_busy_timeout=5000&_foreign_keys=on"
		}
		db, err := gorm.Open(sqlite.Open(path), cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// sqlite has one writer; a single connection serializes transactions
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		return db, nil
	}

	db, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// Migrate creates the tables and, on postgres, applies the SQL migrations
// for what struct tags cannot express.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(Models...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	if db.Dialector.Name() != "postgres" {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}
