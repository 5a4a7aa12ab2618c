// Package payments declares persistence for charges tracked against
// contracts.
package payments

import (
	"context"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/server/models"
)

type Repository interface {
	// Create inserts p with its caller-assigned ID. A second succeeded or
	// pending deposit for a contract or a reused provider reference yields
	// common.ErrConflict. UpdateStatus enforces the same deposit rules.
	Create(ctx context.Context, p *models.Payment) (*models.Payment, error)
	GetByProviderRef(ctx context.Context, ref string) (*models.Payment, error)
	GetByProviderRefForUpdate(ctx context.Context, ref string) (*models.Payment, error)
	UpdateStatus(ctx context.Context, id string, status models.PaymentStatus, failureReason *string, paidAt *time.Time) error
	HasSucceededDeposit(ctx context.Context, contractID string) (bool, error)
	HasPendingDeposit(ctx context.Context, contractID string) (bool, error)
	ListByContract(ctx context.Context, contractID string) ([]*models.Payment, error)
}
