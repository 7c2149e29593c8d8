package service

import "errors"

var (
	ErrAccountExists      = errors.New("account already exists")
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountUnverified  = errors.New("account not verified")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrOTPNotFound        = errors.New("OTP expired or not found")
	ErrOTPMismatch        = errors.New("invalid OTP")
	ErrInvalidInput       = errors.New("invalid input")

	// ErrConflict is the transient loser-of-a-race outcome of a conditional
	// account insert. The orchestrator retries it once internally; it never
	// reaches a caller.
	ErrConflict = errors.New("conflict")
)
