package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/solderstack/gatehouse/internal/config"
	"github.com/solderstack/gatehouse/internal/handler"
	"github.com/solderstack/gatehouse/internal/observability"
	"github.com/solderstack/gatehouse/internal/queue"
	"github.com/solderstack/gatehouse/internal/repository"
	"github.com/solderstack/gatehouse/internal/router"
	"github.com/solderstack/gatehouse/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := observability.NewLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Env); err != nil {
		logger.Warn("sentry init failed", zap.Error(err))
	}
	defer observability.FlushSentry()

	var (
		store repository.Store
		rdb   *redis.Client
	)
	switch cfg.StoreBackend {
	case config.BackendRedis:
		client, err := config.NewRedisClient(cfg)
		if err != nil {
			logger.Fatal("redis connect failed", zap.Error(err))
		}
		rdb = client
		store = repository.NewRedisStore(client)
	case config.BackendMySQL:
		db, err := repository.OpenMySQL(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			logger.Fatal("mysql connect failed", zap.Error(err))
		}
		mysqlStore := repository.NewMySQLStore(db)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := mysqlStore.EnsureSchema(ctx); err != nil {
			cancel()
			logger.Fatal("mysql schema bootstrap failed", zap.Error(err))
		}
		cancel()
		store = mysqlStore
	default:
		store = repository.NewMemoryStore()
	}

	// The rate limiter wants Redis even when another backend holds the
	// accounts; run without it when the dial fails.
	if rdb == nil && cfg.TokenRateLimit > 0 {
		client, err := config.NewRedisClient(cfg)
		if err != nil {
			logger.Warn("redis unavailable, token rate limiting disabled", zap.Error(err))
		} else {
			rdb = client
		}
	}

	var (
		events service.EventSink
		mailer service.Mailer
	)
	publisher, err := queue.NewPublisher(cfg.AMQPURL, logger)
	if err != nil {
		logger.Warn("rabbitmq unavailable, events and login email disabled", zap.Error(err))
	} else {
		defer func() { _ = publisher.Close() }()
		events = publisher
		mailer = publisher
		go func() {
			if err := queue.StartLoginEmailConsumer(cfg.AMQPURL, logger); err != nil {
				logger.Error("login email consumer stopped", zap.Error(err))
			}
		}()
	}

	accounts := service.NewAccountService(store, store, events, logger)
	tokens := service.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTTLMin)*time.Minute, nil, logger)
	graph := service.NewGraphClient(cfg.FacebookAppSecret, cfg.FacebookProfileURL)
	facebook := service.NewFacebookExchange(graph, accounts, tokens, logger)
	login := service.NewLoginService(accounts, tokens, mailer, logger)

	e := echo.New()
	e.HideBanner = true
	router.Register(e, router.Deps{
		Accounts:       handler.NewAccountHandler(accounts, tokens),
		Tokens:         handler.NewTokenHandler(tokens, facebook, login),
		TokenService:   tokens,
		AccountService: accounts,
		Redis:          rdb,
		TokenRateLimit: cfg.TokenRateLimit,
		Log:            logger,
	})

	logger.Info("listening",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("store", cfg.StoreBackend),
	)
	if err := e.Start(":" + cfg.Port); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
