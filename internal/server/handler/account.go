package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/yieldbet/internal/domain"
	"github.com/alanyoungcy/yieldbet/internal/ledger"
)

// AccountHandler serves balances and the dev faucet.
type AccountHandler struct {
	ledger domain.Ledger
	faucet *ledger.Faucet
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler. faucet may be nil, which
// disables the faucet endpoint.
func NewAccountHandler(l domain.Ledger, faucet *ledger.Faucet, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{ledger: l, faucet: faucet, logger: logger.With(slog.String("handler", "account"))}
}

// GetBalance returns the ledger balance of an account.
// GET /api/accounts/{account}
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress(r, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bal, err := h.ledger.Balance(r.Context(), account)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account.Hex(), "balance": bal})
}

// Faucet credits the dev faucet amount.
// POST /api/accounts/{account}/faucet
func (h *AccountHandler) Faucet(w http.ResponseWriter, r *http.Request) {
	if h.faucet == nil {
		writeError(w, http.StatusNotFound, "faucet is disabled")
		return
	}
	account, err := parseAddress(r, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := h.faucet.Drip(r.Context(), account)
	if err != nil {
		h.logger.DebugContext(r.Context(), "faucet rejected", slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}
	bal, err := h.ledger.Balance(r.Context(), account)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account.Hex(), "credited": amount, "balance": bal})
}
