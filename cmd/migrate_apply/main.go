package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"points_ledger/internal/db"
	"points_ledger/internal/jobs"
	"points_ledger/internal/logger"
	"points_ledger/internal/migrations"

	"github.com/joho/godotenv"
)

func main() {
	apply := flag.Bool("apply", false, "apply pending migrations")
	down := flag.Int("down", 0, "roll back N migrations")
	flag.Parse()

	_ = godotenv.Load()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Fatal("DATABASE_URL not set")
	}

	switch {
	case *down > 0:
		if err := migrations.Down(dsn, *down); err != nil {
			logger.Fatal("rollback failed", "error", err)
		}
	case *apply:
		if err := migrations.Up(dsn); err != nil {
			logger.Fatal("migrate failed", "error", err)
		}
		ctx := context.Background()
		pool, err := db.Connect(ctx, dsn)
		if err != nil {
			logger.Fatal("connect database", "error", err)
		}
		defer pool.Close()
		if err := jobs.Migrate(ctx, pool); err != nil {
			logger.Fatal("river migrate failed", "error", err)
		}
	}

	version, dirty, err := migrations.Status(dsn)
	if err != nil {
		logger.Fatal("read status", "error", err)
	}
	fmt.Printf("schema version %d (dirty=%t)\n", version, dirty)
}
