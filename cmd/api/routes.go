package main

import (
	"log/slog"
	"net/http"

	"github.com/timebank/exchange/internal/auth"
	"github.com/timebank/exchange/internal/handlers"
	"github.com/timebank/exchange/internal/middleware"
	"github.com/timebank/exchange/internal/repository"
	"github.com/timebank/exchange/internal/services"
)

// RegisterV1Routes adds the /v1/ endpoints to the given mux. Task and
// balance endpoints carry actor identifiers in their bodies; the account
// read surface requires a Bearer token.
func RegisterV1Routes(
	mux *http.ServeMux,
	lifecycle *services.LifecycleService,
	ledgerRepo *repository.LedgerRepo,
	authSvc auth.Service,
	authHandler *auth.Handler,
	logger *slog.Logger,
) {
	th := &handlers.TaskHandler{Lifecycle: lifecycle, Logger: logger}
	bh := &handlers.BalanceHandler{Ledger: ledgerRepo, Logger: logger}

	mux.HandleFunc("POST /v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /v1/auth/login", authHandler.Login)

	bearer := middleware.BearerAuth(authSvc)
	mux.Handle("GET /v1/account/me", bearer(http.HandlerFunc(authHandler.Me)))
	mux.Handle("GET /v1/account/ledger", bearer(http.HandlerFunc(authHandler.Ledger)))

	mux.HandleFunc("GET /v1/users/{id}/balance", bh.GetBalance)

	mux.HandleFunc("POST /v1/tasks", th.CreateTask)
	mux.HandleFunc("GET /v1/tasks", th.ListTasks)
	mux.HandleFunc("GET /v1/tasks/{id}", th.GetTask)
	mux.HandleFunc("PATCH /v1/tasks/{id}", th.UpdateTask)
	mux.HandleFunc("POST /v1/tasks/{id}/accept", th.AcceptTask)
	mux.HandleFunc("POST /v1/tasks/{id}/start", th.StartTask)
	mux.HandleFunc("POST /v1/tasks/{id}/complete", th.CompleteTask)
	mux.HandleFunc("POST /v1/tasks/{id}/cancel", th.CancelTask)
}
