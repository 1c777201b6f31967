package handler

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PoolCounter reports how many pools are registered.
type PoolCounter interface {
	Len() int
}

// StatusHandler serves runtime metadata.
type StatusHandler struct {
	mode      string
	factory   common.Address
	operator  common.Address
	pools     PoolCounter
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler. operator is the zero address
// when no operator key is configured.
func NewStatusHandler(mode string, factory, operator common.Address, pools PoolCounter, startedAt time.Time) *StatusHandler {
	return &StatusHandler{mode: mode, factory: factory, operator: operator, pools: pools, startedAt: startedAt}
}

// GetStatus responds with mode, addresses, pool count and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":           h.mode,
		"factory":        h.factory.Hex(),
		"pools":          h.pools.Len(),
		"started_at":     h.startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.operator != (common.Address{}) {
		body["operator"] = h.operator.Hex()
	}
	writeJSON(w, http.StatusOK, body)
}
