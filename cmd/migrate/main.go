package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/dcayres/campaign-dispatch/internal/config"
	"github.com/dcayres/campaign-dispatch/internal/db"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, relying on OS environment variables")
	}

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	})))

	cfg := config.Load()

	dbConn, err := db.Connect(cfg.DSN())
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbConn.Close()

	files := []string{"migrations/schema.sql"}
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			slog.Error("failed to read migration", slog.String("file", file), slog.Any("error", err))
			os.Exit(1)
		}
		if _, err := dbConn.Exec(string(content)); err != nil {
			slog.Error("failed to apply migration", slog.String("file", file), slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("applied migration", slog.String("file", file))
	}

	slog.Info("database schema up to date")
}
