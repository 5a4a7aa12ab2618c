package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
	"github.com/google/uuid"
)

type contractRepo struct{ base }

func (r *contractRepo) Create(_ context.Context, c *models.Contract) (*models.Contract, error) {
	err := r.write(func(t *tables) error {
		if _, ok := t.properties[c.PropertyID]; !ok {
			return common.ErrorNotFound
		}
		c.ID = uuid.NewString()
		c.CreatedAt = r.now()
		c.UpdatedAt = c.CreatedAt
		t.contracts[c.ID] = *c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *contractRepo) get(match func(c *models.Contract) bool) (*models.Contract, error) {
	var out models.Contract
	err := r.read(func(t *tables) error {
		for _, c := range t.contracts {
			if match(&c) {
				out = c
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

func (r *contractRepo) GetByID(_ context.Context, id string) (*models.Contract, error) {
	return r.get(func(c *models.Contract) bool { return c.ID == id })
}

// GetForUpdate needs no row lock: a transaction already owns the store.
func (r *contractRepo) GetForUpdate(ctx context.Context, id string) (*models.Contract, error) {
	return r.GetByID(ctx, id)
}

func (r *contractRepo) GetBySubscription(_ context.Context, ref string) (*models.Contract, error) {
	return r.get(func(c *models.Contract) bool {
		return c.StripeSubscriptionID != nil && *c.StripeSubscriptionID == ref
	})
}

func (r *contractRepo) list(match func(c *models.Contract) bool, less func(a, b *models.Contract) bool, limit int) ([]*models.Contract, error) {
	var out []*models.Contract
	err := r.read(func(t *tables) error {
		for _, c := range t.contracts {
			if match(&c) {
				cp := c
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *contractRepo) ListByParty(_ context.Context, userID string) ([]*models.Contract, error) {
	return r.list(
		func(c *models.Contract) bool { return c.IsParty(userID) },
		func(a, b *models.Contract) bool {
			if a.CreatedAt.Equal(b.CreatedAt) {
				return a.ID < b.ID
			}
			return a.CreatedAt.After(b.CreatedAt)
		}, 0)
}

func (r *contractRepo) update(id string, fn func(c *models.Contract) error) error {
	return r.write(func(t *tables) error {
		c, ok := t.contracts[id]
		if !ok {
			return common.ErrorNotFound
		}
		if err := fn(&c); err != nil {
			return err
		}
		c.UpdatedAt = r.now()
		t.contracts[id] = c
		return nil
	})
}

func (r *contractRepo) UpdateTerms(_ context.Context, id string, terms models.Terms) error {
	return r.update(id, func(c *models.Contract) error {
		c.Terms = terms
		return nil
	})
}

func (r *contractRepo) SetEditable(_ context.Context, id string, editable bool) error {
	return r.update(id, func(c *models.Contract) error {
		c.IsEditable = editable
		return nil
	})
}

func (r *contractRepo) SetSignature(_ context.Context, id string, role models.SignerRole, ref string, at time.Time) error {
	if !role.Valid() {
		return fmt.Errorf("signer role %q: %w", role, common.ErrValidation)
	}
	return r.update(id, func(c *models.Contract) error {
		if c.SignedBy(role) {
			return fmt.Errorf("%s already signed: %w", role, common.ErrConflict)
		}
		key, ts := ref, at
		if role == models.SignerOwner {
			c.OwnerSignature, c.OwnerSignedAt = &key, &ts
		} else {
			c.StudentSignature, c.StudentSignedAt = &key, &ts
		}
		return nil
	})
}

func (r *contractRepo) ClearSignatures(_ context.Context, id string) error {
	return r.update(id, func(c *models.Contract) error {
		if c.Status != models.ContractPending {
			return fmt.Errorf("contract %s is not pending: %w", id, common.ErrInvalidState)
		}
		c.OwnerSignature, c.OwnerSignedAt = nil, nil
		c.StudentSignature, c.StudentSignedAt = nil, nil
		return nil
	})
}

func (r *contractRepo) ActivateIfFullySigned(_ context.Context, id string) (bool, error) {
	activated := false
	err := r.update(id, func(c *models.Contract) error {
		if c.Status == models.ContractPending && c.FullySigned() {
			c.Status = models.ContractActive
			activated = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return activated, nil
}

func (r *contractRepo) TransitionStatus(_ context.Context, id string, from, to models.ContractStatus) error {
	err := r.update(id, func(c *models.Contract) error {
		if c.Status != from {
			return fmt.Errorf("contract %s is no longer %s: %w", id, from, common.ErrInvalidState)
		}
		c.Status = to
		return nil
	})
	if errors.Is(err, common.ErrorNotFound) {
		return fmt.Errorf("contract %s is no longer %s: %w", id, from, common.ErrInvalidState)
	}
	return err
}

func (r *contractRepo) SetSubscription(_ context.Context, id string, ref *string) error {
	return r.write(func(t *tables) error {
		c, ok := t.contracts[id]
		if !ok {
			return common.ErrorNotFound
		}
		if ref != nil {
			for otherID, other := range t.contracts {
				if otherID != id && other.StripeSubscriptionID != nil && *other.StripeSubscriptionID == *ref {
					return fmt.Errorf("subscription already linked: %w", common.ErrConflict)
				}
			}
		}
		c.StripeSubscriptionID = copyString(ref)
		c.UpdatedAt = r.now()
		t.contracts[id] = c
		return nil
	})
}

func (r *contractRepo) SetDepositPayment(_ context.Context, id, paymentID string) error {
	return r.update(id, func(c *models.Contract) error {
		c.DepositPaymentID = &paymentID
		return nil
	})
}

func (r *contractRepo) SetUnlinkPending(_ context.Context, id string, ref *string) error {
	return r.update(id, func(c *models.Contract) error {
		c.UnlinkPendingRef = copyString(ref)
		return nil
	})
}

func (r *contractRepo) ListUnlinkPending(_ context.Context, limit int) ([]*models.Contract, error) {
	return r.list(
		func(c *models.Contract) bool { return c.UnlinkPendingRef != nil },
		func(a, b *models.Contract) bool { return a.UpdatedAt.Before(b.UpdatedAt) },
		limit)
}

func (r *contractRepo) ListExpiredActive(_ context.Context, before time.Time, limit int) ([]*models.Contract, error) {
	return r.list(
		func(c *models.Contract) bool { return c.Status == models.ContractActive && c.EndDate.Before(before) },
		func(a, b *models.Contract) bool { return a.EndDate.Before(b.EndDate) },
		limit)
}
