package main

// Apply database migrations:
//   go run ./cmd/migrate

import (
	"context"
	"log"

	"cim-backend/internal/shared/config"
	"cim-backend/internal/shared/storage/db"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("migrate: %v", err)
	}
}

func run() error {
	cfg := config.Load()
	ctx := context.Background()

	opts := db.OptionsFromEnv(db.DefaultMigrateOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return db.RunMigrations(ctx, sqlDB)
}
