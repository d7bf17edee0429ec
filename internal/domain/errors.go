package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUnclassifiable    = errors.New("order has no base currency leg")
	ErrNotActionable     = errors.New("offer is not in an actionable state")
	ErrNotOwner          = errors.New("offer is not owned by the current account")
	ErrInsufficientFunds = errors.New("insufficient balance or allowance")
	ErrInvalidOrder      = errors.New("invalid order parameters")
	ErrReverted          = errors.New("transaction had no effect")
	ErrDisconnected      = errors.New("node not connected")
	ErrNoAccount         = errors.New("no account configured")
	ErrLockHeld          = errors.New("lock already held")
	ErrContextDone       = errors.New("context cancelled")
)
