package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/users"
	"github.com/google/uuid"
)

type userRepo struct{ base }

func (r *userRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	err := r.write(func(t *tables) error {
		for _, existing := range t.users {
			if existing.Email == u.Email {
				return fmt.Errorf("email %q: %w", u.Email, common.ErrConflict)
			}
		}
		u.ID = uuid.NewString()
		u.CreatedAt = r.now()
		if u.KYCStatus == "" {
			u.KYCStatus = models.KYCNone
		}
		t.users[u.ID] = *u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *userRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	var out models.User
	err := r.read(func(t *tables) error {
		u, ok := t.users[id]
		if !ok {
			return common.ErrorNotFound
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	var out models.User
	err := r.read(func(t *tables) error {
		for _, u := range t.users {
			if u.Email == email {
				out = u
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

func (r *userRepo) update(id string, fn func(u *models.User)) error {
	return r.write(func(t *tables) error {
		u, ok := t.users[id]
		if !ok {
			return common.ErrorNotFound
		}
		fn(&u)
		t.users[id] = u
		return nil
	})
}

func (r *userRepo) SetKYC(_ context.Context, id string, status models.KYCStatus, documentKey, rejectReason string) error {
	return r.update(id, func(u *models.User) {
		u.KYCStatus = status
		u.KYCDocumentKey = documentKey
		u.KYCRejectReason = rejectReason
	})
}

func (r *userRepo) SetModeration(_ context.Context, id string, m users.Moderation) error {
	return r.update(id, func(u *models.User) {
		u.IsBanned, u.BannedUntil = m.IsBanned, copyTime(m.BannedUntil)
		u.IsMuted, u.MutedUntil = m.IsMuted, copyTime(m.MutedUntil)
	})
}

func (r *userRepo) SetStripeCustomerID(_ context.Context, id, customerID string) error {
	return r.update(id, func(u *models.User) { u.StripeCustomerID = customerID })
}

func (r *userRepo) SetStripeAccountID(_ context.Context, id, accountID string) error {
	return r.update(id, func(u *models.User) {
		u.StripeAccountID = accountID
		u.PaymentReady = false
	})
}

func (r *userRepo) SetPaymentReadyByAccount(_ context.Context, accountID string, ready bool) (bool, error) {
	found := false
	err := r.write(func(t *tables) error {
		for id, u := range t.users {
			if accountID != "" && u.StripeAccountID == accountID {
				u.PaymentReady = ready
				t.users[id] = u
				found = true
			}
		}
		return nil
	})
	return found, err
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
