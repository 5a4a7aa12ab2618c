// Package contracts declares persistence for rental contracts.
package contracts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/server/models"
)

type Repository interface {
	// Create inserts a pending contract and fills in ID and timestamps.
	Create(ctx context.Context, c *models.Contract) (*models.Contract, error)
	GetByID(ctx context.Context, id string) (*models.Contract, error)
	// GetForUpdate reads the row and locks it until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id string) (*models.Contract, error)
	GetBySubscription(ctx context.Context, subscriptionRef string) (*models.Contract, error)
	ListByParty(ctx context.Context, userID string) ([]*models.Contract, error)

	UpdateTerms(ctx context.Context, id string, t models.Terms) error
	SetEditable(ctx context.Context, id string, editable bool) error

	// SetSignature records a signature only if that party has not signed
	// yet. A second signature yields common.ErrConflict.
	SetSignature(ctx context.Context, id string, role models.SignerRole, ref string, at time.Time) error
	ClearSignatures(ctx context.Context, id string) error
	// ActivateIfFullySigned moves a pending contract with both signatures
	// to active and reports whether this call made the transition.
	ActivateIfFullySigned(ctx context.Context, id string) (bool, error)
	// TransitionStatus changes the status only if it still equals from.
	// Otherwise common.ErrInvalidState is returned.
	TransitionStatus(ctx context.Context, id string, from, to models.ContractStatus) error

	SetSubscription(ctx context.Context, id string, ref *string) error
	SetDepositPayment(ctx context.Context, id, paymentID string) error
	SetUnlinkPending(ctx context.Context, id string, ref *string) error

	ListUnlinkPending(ctx context.Context, limit int) ([]*models.Contract, error)
	// ListExpiredActive returns active contracts whose end date is before
	// the given day.
	ListExpiredActive(ctx context.Context, before time.Time, limit int) ([]*models.Contract, error)
}
