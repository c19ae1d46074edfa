package settings

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPayload = errors.New("invalid payload")
	ErrInvalidVATRate = errors.New("vat rate must be between 0 and 100 with at most two decimals")
)

// CouplingBol holds the marketplace API credentials of a shop.
type CouplingBol struct {
	ClientID     string `json:"clientId" validate:"required,max=128"`
	ClientSecret string `json:"clientSecret,omitempty" validate:"required,max=256"`
	Connected    bool   `json:"connected"`
}

// InvoiceSettings holds the invoice numbering of a shop.
type InvoiceSettings struct {
	Prefix      string `json:"prefix" validate:"required,max=12,alphanum"`
	NextNumber  int    `json:"nextNumber" validate:"min=1"`
	CompanyName string `json:"companyName" validate:"required,max=200"`
	VATNumber   string `json:"vatNumber,omitempty" validate:"omitempty,max=32"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
}

// Product is a catalog entry.
type Product struct {
	ID      string          `json:"id"`
	EAN     string          `json:"ean"`
	Title   string          `json:"title"`
	VATRate decimal.Decimal `json:"vatRate"`
}

type vatUpdate struct {
	VATRate decimal.Decimal `json:"vatRate"`
}

var maxVATRate = decimal.NewFromInt(100)

// ValidateVATRate checks that rate is a percentage with at most two decimals.
func ValidateVATRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(maxVATRate) {
		return ErrInvalidVATRate
	}
	if !rate.Equal(rate.Round(2)) {
		return ErrInvalidVATRate
	}
	return nil
}
