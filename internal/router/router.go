// Package router wires HTTP routes to their handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/solderstack/gatehouse/internal/handler"
	"github.com/solderstack/gatehouse/internal/middleware"
	"github.com/solderstack/gatehouse/internal/model"
	"github.com/solderstack/gatehouse/internal/observability"
	"github.com/solderstack/gatehouse/internal/service"
)

// Deps carries everything route registration needs.
type Deps struct {
	Accounts *handler.AccountHandler
	Tokens   *handler.TokenHandler

	TokenService   *service.TokenService
	AccountService *service.AccountService

	Redis          *redis.Client
	TokenRateLimit int
	Log            *zap.Logger
}

// Register mounts all routes on the Echo instance.
//
// Account reads attach optional auth so ownership gating can release the
// email field; mutations require an access-token bearer. POST /tokens
// attaches optional auth because a bearer of either scope is one of the
// accepted credential sources.
func Register(e *echo.Echo, d Deps) {
	e.Use(echomw.Recover())
	e.Use(observability.RequestLogger(d.Log))

	e.GET("/healthz", handler.Health)

	optional := middleware.Auth(d.TokenService, d.AccountService, false)
	requireAccess := middleware.Auth(d.TokenService, d.AccountService, true, model.ScopeAccessToken)

	e.POST("/accounts", d.Accounts.Create)
	e.GET("/accounts", d.Accounts.Search, optional)
	e.GET("/accounts/:id", d.Accounts.Get, optional)
	e.PUT("/accounts/:id", d.Accounts.Update, requireAccess)
	e.DELETE("/accounts/:id", d.Accounts.Remove, requireAccess)

	e.POST("/tokens", d.Tokens.Create, middleware.TokenRateLimit(d.Redis, d.TokenRateLimit, d.Log), optional)
	e.GET("/tokens", d.Tokens.Verify, middleware.Auth(d.TokenService, d.AccountService, true))
}
