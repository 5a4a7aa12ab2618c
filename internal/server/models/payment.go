package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	PaymentMonthlyRent PaymentType = "monthly_rent"
	PaymentDeposit     PaymentType = "deposit"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentSucceeded, PaymentFailed:
		return true
	}
	return false
}

// Payment is a single charge tracked against a contract. ProviderRef is the
// payment intent or invoice id at the payment processor.
type Payment struct {
	ID            string
	ContractID    string
	Type          PaymentType
	Amount        decimal.Decimal
	Status        PaymentStatus
	ProviderRef   string
	FailureReason *string
	CreatedAt     time.Time
	PaidAt        *time.Time
}
