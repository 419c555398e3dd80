package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"points_ledger/internal/db"
	"points_ledger/internal/events"
	"points_ledger/internal/ledger"
	"points_ledger/internal/logger"
	"points_ledger/internal/repository"
	"points_ledger/internal/service"

	"github.com/joho/godotenv"
)

// create_account provisions an account directly in postgres and prints a
// session token for it. Outbox events are only logged.
func main() {
	id := flag.String("id", "test-account", "account id")
	referrer := flag.String("referrer", "", "referrer account id")
	flag.Parse()

	_ = godotenv.Load()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Fatal("DATABASE_URL not set")
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		logger.Fatal("JWT_SECRET not set")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		logger.Fatal("connect database", "error", err)
	}
	defer pool.Close()

	core := ledger.NewCore(repository.NewPostgresStore(pool), events.NewBus())
	referrals := service.NewReferralService(core, service.DefaultRules())

	acct, err := referrals.RegisterAccount(ctx, *id, *referrer)
	if err != nil {
		logger.Fatal("create account failed", "account_id", *id, "error", err)
	}
	logger.Info("account ready", "account_id", acct.ID, "coins", acct.Coins, "created_at", acct.CreatedAt)

	service.InitJWT(secret)
	token, err := service.GenerateJWT(acct.ID)
	if err != nil {
		logger.Fatal("failed to generate token", "error", err)
	}
	fmt.Println(token)
}
