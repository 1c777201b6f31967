package domain

import (
	"errors"
	"fmt"
)

// Pool and ticket failures. Every pool operation either succeeds completely
// or returns one of these (possibly wrapped) with state unchanged.
var (
	ErrInvalidStakeAmount    = errors.New("invalid stake amount")
	ErrInvalidGuess          = errors.New("invalid guess")
	ErrWrongPhase            = errors.New("wrong phase")
	ErrNotTicketOwner        = errors.New("not ticket owner")
	ErrAlreadyWithdrawn      = errors.New("already withdrawn")
	ErrAlreadyResolved       = errors.New("already resolved")
	ErrNoParticipants        = errors.New("there are no users")
	ErrUnknownTicket         = errors.New("unknown ticket")
	ErrInvalidPoolParameters = errors.New("invalid pool parameters")
	ErrAdapterFailure        = errors.New("adapter failure")
	ErrUnknownPool           = errors.New("unknown pool")
	ErrReentrantCall         = errors.New("reentrant call")
	ErrInvalidAccount        = errors.New("invalid account")
	ErrInsufficientFunds     = errors.New("insufficient funds")
)

// Infrastructure failures.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrLockHeld     = errors.New("lock already held")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrStale        = errors.New("stale observation")
	ErrReplayed     = errors.New("signature already used")
)

// Phase violation reasons, wrapped around ErrWrongPhase.
const (
	ReasonBettingClosed = "bet staking period has ended"
	ReasonLockedIn      = "cannot withdraw funds in lock-in period"
	ReasonNotYetEnded   = "bet has not ended"
)

// WrongPhase returns ErrWrongPhase annotated with the given reason.
func WrongPhase(reason string) error {
	return fmt.Errorf("%w: %s", ErrWrongPhase, reason)
}

// AdapterError reports a failed call into the oracle or the vault. It matches
// ErrAdapterFailure under errors.Is and unwraps to the underlying cause.
type AdapterError struct {
	Adapter string // "oracle" or "vault"
	Op      string
	Err     error
}

func (e *AdapterError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Adapter, e.Op, ErrAdapterFailure)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Adapter, e.Op, ErrAdapterFailure, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Is reports whether target is ErrAdapterFailure.
func (e *AdapterError) Is(target error) bool { return target == ErrAdapterFailure }
