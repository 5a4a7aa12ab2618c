package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
)

type paymentRepo struct{ base }

// depositIn reports whether another deposit of contractID has status.
func depositIn(t *tables, contractID, exceptID string, status models.PaymentStatus) bool {
	for _, p := range t.payments {
		if p.ID != exceptID && p.ContractID == contractID &&
			p.Type == models.PaymentDeposit && p.Status == status {
			return true
		}
	}
	return false
}

// depositClash mirrors the partial unique indexes on payments: at most one
// succeeded and one pending deposit per contract.
func depositClash(t *tables, p models.Payment, status models.PaymentStatus) error {
	if p.Type != models.PaymentDeposit {
		return nil
	}
	switch {
	case status == models.PaymentSucceeded && depositIn(t, p.ContractID, p.ID, models.PaymentSucceeded):
		return fmt.Errorf("deposit already paid: %w", common.ErrConflict)
	case status == models.PaymentPending && depositIn(t, p.ContractID, p.ID, models.PaymentPending):
		return fmt.Errorf("another deposit is in progress: %w", common.ErrConflict)
	}
	return nil
}

func (r *paymentRepo) Create(_ context.Context, p *models.Payment) (*models.Payment, error) {
	err := r.write(func(t *tables) error {
		if _, ok := t.contracts[p.ContractID]; !ok {
			return common.ErrorNotFound
		}
		for _, existing := range t.payments {
			if existing.ID == p.ID || existing.ProviderRef == p.ProviderRef {
				return fmt.Errorf("payment %s: %w", p.ProviderRef, common.ErrConflict)
			}
		}
		if err := depositClash(t, *p, p.Status); err != nil {
			return fmt.Errorf("payment %s: %w", p.ProviderRef, err)
		}
		p.CreatedAt = r.now()
		t.payments[p.ID] = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *paymentRepo) GetByProviderRef(_ context.Context, ref string) (*models.Payment, error) {
	var out models.Payment
	err := r.read(func(t *tables) error {
		for _, p := range t.payments {
			if p.ProviderRef == ref {
				out = p
				return nil
			}
		}
		return common.ErrorNotFound
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *paymentRepo) GetByProviderRefForUpdate(ctx context.Context, ref string) (*models.Payment, error) {
	return r.GetByProviderRef(ctx, ref)
}

func (r *paymentRepo) UpdateStatus(_ context.Context, id string, status models.PaymentStatus, failureReason *string, paidAt *time.Time) error {
	return r.write(func(t *tables) error {
		p, ok := t.payments[id]
		if !ok {
			return common.ErrorNotFound
		}
		if err := depositClash(t, p, status); err != nil {
			return err
		}
		p.Status = status
		p.FailureReason = copyString(failureReason)
		p.PaidAt = copyTime(paidAt)
		t.payments[id] = p
		return nil
	})
}

func (r *paymentRepo) HasSucceededDeposit(_ context.Context, contractID string) (bool, error) {
	return r.hasDeposit(contractID, models.PaymentSucceeded)
}

func (r *paymentRepo) HasPendingDeposit(_ context.Context, contractID string) (bool, error) {
	return r.hasDeposit(contractID, models.PaymentPending)
}

func (r *paymentRepo) hasDeposit(contractID string, status models.PaymentStatus) (bool, error) {
	found := false
	err := r.read(func(t *tables) error {
		found = depositIn(t, contractID, "", status)
		return nil
	})
	return found, err
}

func (r *paymentRepo) ListByContract(_ context.Context, contractID string) ([]*models.Payment, error) {
	var out []*models.Payment
	err := r.read(func(t *tables) error {
		for _, p := range t.payments {
			if p.ContractID == contractID {
				cp := p
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}
