package model

import "errors"

var (
	ErrStatusFinal       = errors.New("status already final")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotReachable      = errors.New("host not reachable")
	ErrNotConnected      = errors.New("host not connected")

	ErrMissingUsername = errors.New("username is required")
	ErrMissingPassword = errors.New("password is required")
	ErrInvalidUsername = errors.New("username contains unsupported characters")
	ErrInvalidPassword = errors.New("password must be a single line")
)
