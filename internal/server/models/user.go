package models

import "time"

type Role string

const (
	RoleStudent Role = "student"
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	// RoleSystem is used by scheduled sweeps. It is never persisted.
	RoleSystem Role = "system"
)

// Valid reports whether r is a role a persisted user can hold.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleOwner, RoleAdmin:
		return true
	}
	return false
}

type KYCStatus string

const (
	KYCNone     KYCStatus = "none"
	KYCPending  KYCStatus = "pending"
	KYCVerified KYCStatus = "verified"
	KYCRejected KYCStatus = "rejected"
)

type User struct {
	ID            string
	Email         string
	PasswordHash  []byte
	Role          Role
	EmailVerified bool
	PhoneVerified bool

	IsBanned    bool
	BannedUntil *time.Time
	IsMuted     bool
	MutedUntil  *time.Time

	KYCStatus       KYCStatus
	KYCDocumentKey  string
	KYCRejectReason string

	// StripeCustomerID is set for students once they are billed.
	StripeCustomerID string
	// StripeAccountID is the owner's connected payout account.
	StripeAccountID string
	// PaymentReady mirrors the provider's onboarding state of StripeAccountID.
	PaymentReady bool

	CreatedAt time.Time
}

// BannedAt reports whether the ban is in force at t. A ban without an
// expiry lasts until lifted.
func (u *User) BannedAt(t time.Time) bool {
	return u.IsBanned && (u.BannedUntil == nil || t.Before(*u.BannedUntil))
}

// MutedAt reports whether the mute is in force at t.
func (u *User) MutedAt(t time.Time) bool {
	return u.IsMuted && (u.MutedUntil == nil || t.Before(*u.MutedUntil))
}

// SystemUser is the actor used by background sweeps.
func SystemUser() *User {
	return &User{ID: "system", Role: RoleSystem}
}
