package tenant

import "errors"

var (
	ErrShopNotFound = errors.New("shop not found")
)
