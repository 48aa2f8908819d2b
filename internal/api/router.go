package api

import (
	"github.com/ayo6706/payment-ledger/internal/api/handler"
	"github.com/ayo6706/payment-ledger/internal/api/middleware"
	"github.com/ayo6706/payment-ledger/internal/config"
	"github.com/ayo6706/payment-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Services are the application services exposed over HTTP.
type Services struct {
	Engine   *service.TransactionEngine
	Accounts *service.AccountService
	Outbox   *service.OutboxService
}

type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	store  handler.Pinger
	redis  redis.Cmdable
	svc    Services
	auth   *middleware.Authenticator
}

// NewRouter wires handlers to services. redis may be nil.
func NewRouter(cfg *config.Config, logger *zap.Logger, store handler.Pinger, redis redis.Cmdable, svc Services) *Router {
	return &Router{
		cfg:    cfg,
		logger: logger,
		store:  store,
		redis:  redis,
		svc:    svc,
		auth:   middleware.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience),
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.store, api.redis)
	transactionHandler := handler.NewTransactionHandler(api.svc.Engine)
	accountHandler := handler.NewAccountHandler(api.svc.Accounts, api.svc.Engine)
	outboxHandler := handler.NewOutboxHandler(api.svc.Outbox)

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))

			r.Post("/transactions", transactionHandler.CreateTransaction)
			r.Get("/accounts/{id}", accountHandler.GetAccount)
			r.Get("/accounts/{id}/transactions", accountHandler.GetHistory)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(api.auth.Middleware)
			r.Use(middleware.RequireRole(middleware.RoleAdmin))
			r.Use(middleware.AdminRateLimiter(api.cfg.AdminRateLimitRPS))

			r.Post("/accounts", accountHandler.CreateAccount)
			r.Get("/outbox", outboxHandler.ListEvents)
			r.Post("/outbox/replay", outboxHandler.Replay)
		})
	})

	return r
}
