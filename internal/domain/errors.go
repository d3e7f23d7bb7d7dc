package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrNotConnected     = errors.New("not connected")
	ErrNoMarket         = errors.New("no active market")
	ErrThresholdMissing = errors.New("threshold missing")
	ErrResultPending    = errors.New("result pending")
	ErrImplausiblePrice = errors.New("implausible price")
	ErrLockHeld         = errors.New("lock held by another process")
)
