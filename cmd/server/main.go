package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/leadray/backoffice/internal/config"
	"github.com/leadray/backoffice/internal/database"
	"github.com/leadray/backoffice/internal/handler"
	"github.com/leadray/backoffice/internal/queue"
	"github.com/leadray/backoffice/internal/ratelimit"
	"github.com/leadray/backoffice/internal/repository"
	"github.com/leadray/backoffice/internal/router"
)

func main() {
	_ = godotenv.Load() // .env is optional; real env vars win

	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	applied, err := database.Migrate(ctx, db)
	cancel()
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	for _, rev := range applied {
		log.Printf("migrate: applied %s", rev)
	}

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	campaigns := repository.NewCampaignRepo(db)
	applications := repository.NewApplicationRepo(db)
	stats := repository.NewStatsRepo(db)

	seedAdmin(cfg, users)

	limiter := ratelimit.New(cfg.LoginRateLimit, time.Duration(cfg.LoginRateWindowSec)*time.Second)

	h := router.Handlers{
		Auth:         handler.NewAuthHandler(cfg, users, tokens, limiter),
		Users:        handler.NewUserHandler(cfg, users),
		Campaigns:    handler.NewCampaignHandler(campaigns, users),
		Applications: handler.NewApplicationHandler(applications),
		Stats:        handler.NewStatsHandler(stats),
	}

	rdb := config.NewRedisClient()
	cacheCfg := config.LoadCacheConfig()

	if cfg.RabbitURL != "" {
		go queue.StartApplicationConsumer(cfg.RabbitURL, applications)
	}

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e)
	router.RegisterAPI(e, h, cfg, cacheCfg, rdb, users)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}

// seedAdmin creates the bootstrap admin account when configured and absent.
// Failures are fatal only when seeding was explicitly requested.
func seedAdmin(cfg config.Config, users *repository.UserRepo) {
	if cfg.BootstrapAdminLogin == "" || cfg.BootstrapAdminPassword == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := users.ExistsByLogin(ctx, cfg.BootstrapAdminLogin)
	if err != nil {
		log.Fatalf("bootstrap admin: lookup failed: %v", err)
	}
	if exists {
		return
	}
	id, err := users.Create(ctx, cfg.BootstrapAdminLogin, cfg.BootstrapAdminPassword,
		cfg.BootstrapAdminName, repository.RoleAdmin, nil, cfg.BcryptCost)
	if err != nil {
		log.Fatalf("bootstrap admin: create failed: %v", err)
	}
	log.Printf("bootstrap admin: created %q (id=%d)", cfg.BootstrapAdminLogin, id)
}
