// Package models defines the records persisted by the rental backend.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ContractStatus string

const (
	ContractPending   ContractStatus = "pending"
	ContractActive    ContractStatus = "active"
	ContractCompleted ContractStatus = "completed"
	ContractCancelled ContractStatus = "cancelled"
)

// SignerRole is the party a signature belongs to.
type SignerRole string

const (
	SignerOwner   SignerRole = "owner"
	SignerStudent SignerRole = "student"
)

func (r SignerRole) Valid() bool {
	return r == SignerOwner || r == SignerStudent
}

// Terms are the financial conditions of a contract.
type Terms struct {
	MonthlyRent   decimal.Decimal
	Charges       decimal.Decimal
	DepositAmount decimal.Decimal
	StartDate     time.Time
	EndDate       time.Time
}

type Contract struct {
	ID         string
	PropertyID string
	OwnerID    string
	StudentID  string

	Terms

	// OwnerSignature and StudentSignature hold object storage keys of the
	// signature images.
	OwnerSignature   *string
	OwnerSignedAt    *time.Time
	StudentSignature *string
	StudentSignedAt  *time.Time

	StripeSubscriptionID *string
	DepositPaymentID     *string
	// UnlinkPendingRef is the subscription that could not be cancelled at
	// the provider when the contract left the active state.
	UnlinkPendingRef *string

	Status     ContractStatus
	IsEditable bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FullySigned reports whether both parties have signed.
func (c *Contract) FullySigned() bool {
	return c.OwnerSignature != nil && c.StudentSignature != nil
}

// SignedBy reports whether the given party has already signed.
func (c *Contract) SignedBy(role SignerRole) bool {
	switch role {
	case SignerOwner:
		return c.OwnerSignature != nil
	case SignerStudent:
		return c.StudentSignature != nil
	}
	return false
}

// IsParty reports whether userID is the owner or the student of c.
func (c *Contract) IsParty(userID string) bool {
	return userID != "" && (c.OwnerID == userID || c.StudentID == userID)
}
