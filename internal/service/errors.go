package service

import "errors"

var (
	ErrGoogleAuthDisabled = errors.New("google auth is disabled")
	ErrLocalAuthDisabled  = errors.New("local auth is disabled")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotVerified   = errors.New("email verification required")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidUsername    = errors.New("username does not meet policy requirements")
	ErrWeakPassword       = errors.New("password does not meet policy requirements")
	ErrThrottleExceeded   = errors.New("too many attempts")
	ErrInvalidVerifyToken = errors.New("invalid or expired verification token")
	ErrDeliveryFailed     = errors.New("notification delivery failed")
	ErrUnauthorized       = errors.New("unauthorized")
)
