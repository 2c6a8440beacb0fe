package app

import (
	"net/http"

	"github.com/cradoe/walletrecon/internal/handler"
	"github.com/cradoe/walletrecon/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (app *Application) routes() http.Handler {
	mux := http.NewServeMux()

	mid := middleware.New(app.errorHandler, app.Logger, &app.Config)

	healthHandler := handler.NewHealthCheckHandler(app.errorHandler,
		handler.Dependency{Name: "database", Ping: app.DB.Ping},
		handler.Dependency{Name: "redis", Ping: app.Cache.Ping},
	)
	webhookHandler := handler.NewWebhookHandler(&handler.WebhookHandler{
		Registry:   app.Webhooks,
		Reconciler: app.Dispatcher,
		Metrics:    app.Metrics,
		Logger:     app.Logger,
		ErrHandler: app.errorHandler,
	})
	transactionHandler := handler.NewTransactionHandler(&handler.TransactionHandler{
		DB:           app.DB,
		Orchestrator: app.Orchestrator,
		Calls:        app.Providers,
		ErrHandler:   app.errorHandler,
	})
	walletHandler := handler.NewWalletHandler(&handler.WalletHandler{
		DB:         app.DB,
		ErrHandler: app.errorHandler,
	})

	mux.HandleFunc("GET /status", healthHandler.HandleHealthCheck)
	mux.Handle("GET /metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}))

	// providers authenticate with signatures, not bearer tokens
	mux.HandleFunc("POST /webhooks/{provider}", webhookHandler.HandleWebhook)

	authed := func(h http.HandlerFunc) http.Handler {
		return mid.RequireAuthenticatedOwner(h)
	}
	mux.Handle("POST /v1/transactions", authed(transactionHandler.HandleCreateTransaction))
	mux.Handle("GET /v1/transactions", authed(transactionHandler.HandleListTransactions))
	mux.Handle("GET /v1/transactions/{reference}", authed(transactionHandler.HandleGetTransaction))
	mux.Handle("GET /v1/wallets/me", authed(walletHandler.HandleMyWallet))

	return mid.LogAccess(mid.RecoverPanic(mid.Authenticate(mux)))
}
