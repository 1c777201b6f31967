package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/yieldbet/internal/domain"
	"github.com/alanyoungcy/yieldbet/internal/service"
)

// PoolDefaults fill in omitted create-pool fields.
type PoolDefaults struct {
	StakeAmount         *uint256.Int
	EarlyExitPenaltyBps uint32
	BettingPeriod       time.Duration
	LockInPeriod        time.Duration
}

// PoolHandler serves the pool, bet and ticket endpoints.
type PoolHandler struct {
	svc      *service.PoolService
	defaults PoolDefaults
	clock    domain.Clock
	logger   *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(svc *service.PoolService, defaults PoolDefaults, clock domain.Clock, logger *slog.Logger) *PoolHandler {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &PoolHandler{svc: svc, defaults: defaults, clock: clock, logger: logger.With(slog.String("handler", "pool"))}
}

type poolView struct {
	domain.PoolSnapshot
	Phase domain.Phase `json:"phase"`
}

type ticketView struct {
	domain.Ticket
	Redeemable *uint256.Int `json:"redeemable,omitempty"`
}

func (h *PoolHandler) view(snap domain.PoolSnapshot) poolView {
	return poolView{
		PoolSnapshot: snap,
		Phase:        snap.Params.PhaseAt(h.clock.Now(), snap.Resolved()),
	}
}

type createPoolRequest struct {
	BettingEndsAt       *time.Time `json:"betting_ends_at"`
	LockInEndsAt        *time.Time `json:"lock_in_ends_at"`
	StakeAmount         string     `json:"stake_amount"`
	EarlyExitPenaltyBps *uint32    `json:"early_exit_penalty_bps"`
}

// CreatePool starts a new pool.
// POST /api/pools
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.clock.Now()
	params := domain.PoolParams{
		StakeAmount:         h.defaults.StakeAmount,
		EarlyExitPenaltyBps: h.defaults.EarlyExitPenaltyBps,
		BettingEndsAt:       now.Add(h.defaults.BettingPeriod),
	}
	if req.BettingEndsAt != nil {
		params.BettingEndsAt = req.BettingEndsAt.UTC()
	}
	params.LockInEndsAt = params.BettingEndsAt.Add(h.defaults.LockInPeriod)
	if req.LockInEndsAt != nil {
		params.LockInEndsAt = req.LockInEndsAt.UTC()
	}
	if req.StakeAmount != "" {
		stake, err := parseAmount(req.StakeAmount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		params.StakeAmount = stake
	}
	if req.EarlyExitPenaltyBps != nil {
		params.EarlyExitPenaltyBps = *req.EarlyExitPenaltyBps
	}

	snap, err := h.svc.CreatePool(r.Context(), params)
	if err != nil {
		h.fail(w, r, "create pool", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.view(snap))
}

// ListPools returns pools in creation order.
// GET /api/pools?limit=&offset=&since=&until=
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	snaps := h.svc.ListPools(parseListOpts(r))
	out := make([]poolView, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, h.view(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPool returns one pool.
// GET /api/pools/{pool}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r, "pool")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := h.svc.GetPool(addr)
	if err != nil {
		h.fail(w, r, "get pool", err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(snap))
}

type placeBetRequest struct {
	Guess *int64 `json:"guess"`
	Stake string `json:"stake"`
}

// PlaceBet stakes on a guess for the calling account.
// POST /api/pools/{pool}/bets
func (h *PoolHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	account, ok := caller(w, r)
	if !ok {
		return
	}
	addr, err := parseAddress(r, "pool")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req placeBetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Guess == nil {
		writeError(w, http.StatusBadRequest, "guess is required")
		return
	}

	var stake *uint256.Int
	if req.Stake == "" {
		snap, err := h.svc.GetPool(addr)
		if err != nil {
			h.fail(w, r, "place bet", err)
			return
		}
		stake = snap.Params.StakeAmount
	} else if stake, err = parseAmount(req.Stake); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.svc.PlaceBet(r.Context(), addr, account, *req.Guess, stake)
	if err != nil {
		h.fail(w, r, "place bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, ticketView{Ticket: t})
}

// Withdraw redeems a ticket for its owner.
// POST /api/pools/{pool}/tickets/{id}/withdraw
func (h *PoolHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	account, addr, id, ok := h.ticketRequest(w, r)
	if !ok {
		return
	}
	amount, err := h.svc.Withdraw(r.Context(), addr, account, id)
	if err != nil {
		h.fail(w, r, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket_id": id, "amount": amount})
}

type transferRequest struct {
	To string `json:"to"`
}

// Transfer moves a ticket to another account.
// POST /api/pools/{pool}/tickets/{id}/transfer
func (h *PoolHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	account, addr, id, ok := h.ticketRequest(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !common.IsHexAddress(req.To) {
		writeError(w, http.StatusBadRequest, "to is not a hex address")
		return
	}
	to := common.HexToAddress(req.To)

	if err := h.svc.Transfer(r.Context(), addr, account, id, to); err != nil {
		h.fail(w, r, "transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket_id": id, "owner": to.Hex()})
}

// GetTicket returns a ticket and, while it is active, its redeemable value.
// GET /api/pools/{pool}/tickets/{id}
func (h *PoolHandler) GetTicket(w http.ResponseWriter, r *http.Request) {
	addr, id, ok := h.ticketPath(w, r)
	if !ok {
		return
	}
	t, err := h.svc.Ticket(addr, id)
	if err != nil {
		h.fail(w, r, "get ticket", err)
		return
	}
	view := ticketView{Ticket: t}
	if !t.Withdrawn {
		if v, err := h.svc.PreviewWithdraw(r.Context(), addr, id); err == nil {
			view.Redeemable = v
		}
	}
	writeJSON(w, http.StatusOK, view)
}

// GetOwner returns the owner of a ticket.
// GET /api/pools/{pool}/tickets/{id}/owner
func (h *PoolHandler) GetOwner(w http.ResponseWriter, r *http.Request) {
	addr, id, ok := h.ticketPath(w, r)
	if !ok {
		return
	}
	owner, err := h.svc.OwnerOf(addr, id)
	if err != nil {
		h.fail(w, r, "get owner", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket_id": id, "owner": owner.Hex()})
}

// ListAccountTickets returns the ticket ids an account holds in a pool.
// GET /api/pools/{pool}/accounts/{account}/tickets
func (h *PoolHandler) ListAccountTickets(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r, "pool")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := parseAddress(r, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids, err := h.svc.TicketsOf(addr, account)
	if err != nil {
		h.fail(w, r, "list account tickets", err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account.Hex(), "tickets": ids})
}

// Resolve runs findWinner on the pool.
// POST /api/pools/{pool}/resolve
func (h *PoolHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r, "pool")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.svc.FindWinner(r.Context(), addr)
	if err != nil {
		h.fail(w, r, "resolve", err)
		return
	}
	writeJSON(w, http.StatusOK, ticketView{Ticket: t})
}

// ListEvents returns the pool's event log in sequence order.
// GET /api/pools/{pool}/events
func (h *PoolHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r, "pool")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.svc.Events(r.Context(), addr, parseListOpts(r))
	if err != nil {
		h.fail(w, r, "list events", err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *PoolHandler) ticketPath(w http.ResponseWriter, r *http.Request) (common.Address, uint64, bool) {
	addr, err := parseAddress(r, "pool")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, 0, false
	}
	id, err := parseTicketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, 0, false
	}
	return addr, id, true
}

func (h *PoolHandler) ticketRequest(w http.ResponseWriter, r *http.Request) (common.Address, common.Address, uint64, bool) {
	account, ok := caller(w, r)
	if !ok {
		return common.Address{}, common.Address{}, 0, false
	}
	addr, id, ok := h.ticketPath(w, r)
	return account, addr, id, ok
}

func (h *PoolHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), op+" failed", slog.String("error", err.Error()))
	} else {
		h.logger.DebugContext(r.Context(), op+" rejected", slog.String("error", err.Error()))
	}
	writeDomainError(w, err)
}
