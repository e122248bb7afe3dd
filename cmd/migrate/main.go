package main

import (
	"context"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"gardenhub/internal/config"
	"gardenhub/internal/database"
	"gardenhub/internal/logging"
)

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	migrationsDir := os.Getenv("MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "./migrations"
	}

	logger, closeLog, err := logging.New(config.Config{Env: os.Getenv("APP_ENV")})
	if err != nil {
		log.Fatalf("log setup error: %v", err)
	}
	defer closeLog()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.Connect(ctx, databaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	applied, err := database.ApplyMigrations(ctx, db, migrationsDir, logger)
	if err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	logger.Info("migrations applied",
		zap.String("dir", migrationsDir),
		zap.Int("applied", len(applied)),
	)
}
