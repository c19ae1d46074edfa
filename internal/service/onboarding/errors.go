package onboarding

import "errors"

var (
	ErrNoActiveShop = errors.New("no active shop")
	ErrUnknownFlag  = errors.New("unknown onboarding flag")
)
