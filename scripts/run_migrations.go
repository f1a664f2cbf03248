package main

import (
	"context"
	"log"
	"os"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/config"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/database"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/observability"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run scripts/run_migrations.go [up|down]")
	}

	direction := database.Direction(os.Args[1])
	if direction != database.Up && direction != database.Down {
		log.Fatal("Direction must be 'up' or 'down'")
	}

	dbCfg, logCfg, err := config.LoadDatabase()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logger, err := observability.NewLogger(logCfg, "cosmomed-migrations")
	if err != nil {
		log.Fatalf("Create logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.NewConnection(&dbCfg)
	if err != nil {
		logger.Fatal("Connect to database", zap.Error(err))
	}
	defer db.Close()

	n, err := database.Migrate(context.Background(), db, "migrations", direction, func(name string) {
		logger.Info("Running migration", zap.String("file", name))
	})
	if err != nil {
		logger.Fatal("Migration failed", zap.Error(err))
	}

	logger.Info("Migrations complete", zap.Int("count", n), zap.String("direction", string(direction)))
}
