package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidOrder     = errors.New("invalid order parameters")
	ErrInvalidIntent    = errors.New("invalid trade intent")
	ErrNoActivePosition = errors.New("no active position")
	ErrPositionExists   = errors.New("active position already exists")
	ErrTransient        = errors.New("transient network failure")
	ErrQueueCleared     = errors.New("queue cleared before task ran")
	ErrTaskPanicked     = errors.New("task panicked")
)
