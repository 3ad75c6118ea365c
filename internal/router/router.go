// Package router wires HTTP routes to their handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/leadray/backoffice/internal/config"
	"github.com/leadray/backoffice/internal/handler"
	"github.com/leadray/backoffice/internal/middleware"
	"github.com/leadray/backoffice/internal/repository"
)

// Handlers bundles everything the route table needs.
type Handlers struct {
	Auth         *handler.AuthHandler
	Users        *handler.UserHandler
	Campaigns    *handler.CampaignHandler
	Applications *handler.ApplicationHandler
	Stats        *handler.StatsHandler
}

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAPI registers the /v1 API.  Session endpoints live under
// /v1/auth; everything else sits behind the bearer-token middleware, with
// role checks applied per route.  The stats dashboard additionally goes
// through the Redis response cache when one is configured.
func RegisterAPI(e *echo.Echo, h Handlers, cfg config.Config, cacheCfg config.CacheConfig, rdb *redis.Client, users middleware.PrincipalStore) {
	gate := middleware.Auth(cfg.JWTSecret, users)

	g := e.Group("/v1/auth")
	g.POST("/login", h.Auth.Login)
	g.POST("/refresh", h.Auth.Refresh)
	g.POST("/logout", h.Auth.Logout)
	g.GET("/me", h.Auth.Me, gate)

	auth := e.Group("/v1")
	auth.Use(gate)

	admin := middleware.RequireRole(repository.RoleAdmin)
	anyRole := middleware.RequireRole(repository.RoleAdmin, repository.RoleInvestor)

	auth.GET("/users", h.Users.List, admin)
	auth.POST("/users", h.Users.Create, admin)
	auth.PUT("/users/:id", h.Users.Update, admin)
	auth.PATCH("/users/:id/toggle", h.Users.Toggle, admin)

	auth.GET("/campaigns", h.Campaigns.List, anyRole)
	auth.POST("/campaigns", h.Campaigns.Create, anyRole)
	auth.PUT("/campaigns/:id", h.Campaigns.Update, anyRole)
	auth.PATCH("/campaigns/:id/status", h.Campaigns.UpdateStatus, anyRole)
	auth.DELETE("/campaigns/:id", h.Campaigns.Delete, admin)

	auth.GET("/applications", h.Applications.List, anyRole)
	auth.GET("/applications/:id", h.Applications.Get, anyRole)
	auth.PUT("/applications/:id", h.Applications.Update, anyRole)
	auth.DELETE("/applications/:id", h.Applications.Delete, admin)

	cache := middleware.NewRedisCache(cacheCfg, rdb)
	auth.GET("/stats/dashboard", h.Stats.Dashboard, anyRole, cache)
	auth.GET("/stats/campaign/:id", h.Stats.Campaign, anyRole, cache)
}
