// Package auth defines authentication errors.
package auth

import "errors"

var (
	ErrNoSession           = errors.New("no identity session")
	ErrRefreshRejected     = errors.New("refresh rejected by identity provider")
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrInvalidToken        = errors.New("invalid token")
)
