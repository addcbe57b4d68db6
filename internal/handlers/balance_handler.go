package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/timebank/exchange/internal/repository"
)

// BalanceReader is the ledger read surface.
type BalanceReader interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)
}

// BalanceHandler serves GET /v1/users/{id}/balance.
type BalanceHandler struct {
	Ledger BalanceReader
	Logger *slog.Logger
}

type balanceResponse struct {
	UserID      string `json:"user_id"`
	TimeCredits int64  `json:"time_credits"`
}

func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid user id"}`, http.StatusBadRequest)
		return
	}
	balance, err := h.Ledger.GetBalance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, `{"error":"user not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("get balance", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{UserID: userID.String(), TimeCredits: balance})
}
