package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/yieldbet/internal/domain"
	"github.com/alanyoungcy/yieldbet/internal/ledger"
	"github.com/alanyoungcy/yieldbet/internal/server/middleware"
)

const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it with status. A marshal failure
// becomes a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidStakeAmount),
		errors.Is(err, domain.ErrInvalidGuess),
		errors.Is(err, domain.ErrInvalidPoolParameters),
		errors.Is(err, domain.ErrInvalidAccount),
		errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotTicketOwner), errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrUnknownPool),
		errors.Is(err, domain.ErrUnknownTicket),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrWrongPhase),
		errors.Is(err, domain.ErrAlreadyWithdrawn),
		errors.Is(err, domain.ErrAlreadyResolved),
		errors.Is(err, domain.ErrNoParticipants),
		errors.Is(err, domain.ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAdapterFailure):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrRateLimited), errors.Is(err, ledger.ErrFaucetCooldown):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes err with the mapped status. Internal errors are
// not echoed to the client.
func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseListOpts extracts pagination and time filters from the query string.
// Defaults: limit=50 (max 500), offset=0. since and until are RFC 3339.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	if t, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		opts.Since = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		opts.Until = &t
	}
	return opts
}

// parseAddress reads a hex address from the named path parameter.
func parseAddress(r *http.Request, name string) (common.Address, error) {
	raw := r.PathValue(name)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s %q is not a hex address", name, raw)
	}
	return common.HexToAddress(raw), nil
}

// parseTicketID reads the {id} path parameter.
func parseTicketID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("ticket id %q is invalid", r.PathValue("id"))
	}
	return id, nil
}

// parseAmount parses a base-10 token amount.
func parseAmount(raw string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("amount %q is not a base-10 integer", raw)
	}
	return v, nil
}

// caller returns the authenticated account or writes a 401.
func caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	a, ok := middleware.AccountFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing "+middleware.HeaderAccount+" header")
		return common.Address{}, false
	}
	return a, true
}
