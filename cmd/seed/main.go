package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"dental-backoffice/internal/config"
	pg "dental-backoffice/internal/infra/db/postgres"
	"dental-backoffice/internal/infra/logging"
	"dental-backoffice/internal/infra/security"
	"dental-backoffice/internal/infra/web"
	"dental-backoffice/internal/usecase"
)

// seed stores a portal login for a user and prints a bearer token for them,
// which is all a local front office needs to drive the agent.
func main() {
	userID := flag.Int64("user", 1, "user id that owns the credential")
	siteKey := flag.String("site", "DDMA", "credential site key")
	username := flag.String("username", os.Getenv("SEED_PORTAL_USERNAME"), "portal username")
	password := flag.String("password", os.Getenv("SEED_PORTAL_PASSWORD"), "portal password")

	// ---- Config ----
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.Connect(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	encSvc, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("encryption")
	}

	if *username != "" && *password != "" {
		uc := usecase.NewCredentialUseCase(pg.NewCredentialRepo(pool, encSvc), logger)
		c, err := uc.Save(ctx, *userID, *siteKey, *username, *password)
		if err != nil {
			logger.Fatal().Err(err).Msg("save credential")
		}
		fmt.Printf("seeded credential: user=%d site=%s username=%s\n", c.UserID, c.SiteKey, c.Username)
	} else {
		fmt.Println("no -username/-password given; skipping credential")
	}

	tok, err := web.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).Mint(*userID)
	if err != nil {
		logger.Fatal().Err(err).Msg("mint token")
	}
	fmt.Printf("bearer token for user %d (valid %s):\n%s\n", *userID, cfg.Auth.TokenTTL, tok)
}
