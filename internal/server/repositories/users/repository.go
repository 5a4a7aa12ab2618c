// Package users declares the repository contract for platform accounts.
package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/server/models"
)

// Moderation is the full moderation state written by SetModeration.
type Moderation struct {
	IsBanned    bool
	BannedUntil *time.Time
	IsMuted     bool
	MutedUntil  *time.Time
}

type Repository interface {
	// Create inserts u and returns it with ID and CreatedAt filled in.
	// A duplicate email yields common.ErrConflict.
	Create(ctx context.Context, u *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	SetKYC(ctx context.Context, id string, status models.KYCStatus, documentKey, rejectReason string) error
	SetModeration(ctx context.Context, id string, m Moderation) error

	SetStripeCustomerID(ctx context.Context, id, customerID string) error
	SetStripeAccountID(ctx context.Context, id, accountID string) error
	// SetPaymentReadyByAccount updates the onboarding flag of the owner
	// holding accountID and reports whether such an owner exists.
	SetPaymentReadyByAccount(ctx context.Context, accountID string, ready bool) (bool, error)
}
