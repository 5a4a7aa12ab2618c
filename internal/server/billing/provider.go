// Package billing abstracts the payment processor. Services only see the
// Provider interface; every implementation reports failures with the
// sentinels from package common:
//
//   - common.ErrorNotFound: the referenced object does not exist at the provider
//   - common.ErrProviderUnavailable: transient, safe to retry
//   - common.ErrProviderRejected: permanent refusal (bad parameters, account state)
package billing

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/shopspring/decimal"
)

type SubscriptionRequest struct {
	ContractID string
	CustomerID string
	// DestinationAccount receives the payouts (the owner's connected account).
	DestinationAccount string
	MonthlyAmount      decimal.Decimal
	Currency           string
	ProductID          string
	// Attempt distinguishes a new subscription for the same contract from a
	// retry of an earlier request.
	Attempt string
}

type DepositRequest struct {
	ContractID         string
	PaymentID          string
	CustomerID         string
	DestinationAccount string
	Amount             decimal.Decimal
	Currency           string
}

type Provider interface {
	// EnsureCustomer creates a billable customer for a user and returns its id.
	EnsureCustomer(ctx context.Context, userID, email string) (string, error)
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (string, error)
	CancelSubscription(ctx context.Context, ref string) error
	CreateDepositIntent(ctx context.Context, req DepositRequest) (string, error)
	// CancelDepositIntent voids a deposit intent that was never handed to
	// the payer.
	CancelDepositIntent(ctx context.Context, ref string) error

	// CreateConnectedAccount opens a payout account for an owner.
	CreateConnectedAccount(ctx context.Context, userID, email string) (string, error)
	// OnboardingLink returns a single-use URL where the owner completes the
	// provider's account setup.
	OnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
}

// ToMinorUnits converts an amount to cents, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts cents back to a decimal amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Unconfigured is used when no processor credentials are set. Every call
// fails as unavailable, so local state transitions keep working in
// development.
type Unconfigured struct{}

func (Unconfigured) EnsureCustomer(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("%w: no payment provider configured", common.ErrProviderUnavailable)
}

func (Unconfigured) CreateSubscription(context.Context, SubscriptionRequest) (string, error) {
	return "", fmt.Errorf("%w: no payment provider configured", common.ErrProviderUnavailable)
}

func (Unconfigured) CancelSubscription(context.Context, string) error {
	return fmt.Errorf("%w: no payment provider configured", common.ErrProviderUnavailable)
}

func (Unconfigured) CreateDepositIntent(context.Context, DepositRequest) (string, error) {
	return "", fmt.Errorf("%w: no payment provider configured", common.ErrProviderUnavailable)
}

func (Unconfigured) CancelDepositIntent(context.Context, string) error {
	return fmt.Errorf("%w: no payment provider configured", common.ErrProviderUnavailable)
}

func (Unconfigured) CreateConnectedAccount(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("%w: no payment provider configured", common.ErrProviderUnavailable)
}

func (Unconfigured) OnboardingLink(context.Context, string, string, string) (string, error) {
	return "", fmt.Errorf("%w: no payment provider configured", common.ErrProviderUnavailable)
}
