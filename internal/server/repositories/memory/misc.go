package memory

import (
	"context"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
	"github.com/google/uuid"
)

type tokenRepo struct{ base }

func (r *tokenRepo) Create(_ context.Context, userID, token string, expiresAt time.Time) error {
	return r.write(func(t *tables) error {
		t.tokens[token] = models.RefreshToken{
			ID: uuid.NewString(), UserID: userID, Token: token,
			ExpiresAt: expiresAt, CreatedAt: r.now(),
		}
		return nil
	})
}

func (r *tokenRepo) Find(_ context.Context, token string) (*models.RefreshToken, error) {
	var out models.RefreshToken
	err := r.read(func(t *tables) error {
		rt, ok := t.tokens[token]
		if !ok {
			return common.ErrorNotFound
		}
		out = rt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *tokenRepo) Delete(_ context.Context, token string) (bool, error) {
	deleted := false
	err := r.write(func(t *tables) error {
		_, deleted = t.tokens[token]
		delete(t.tokens, token)
		return nil
	})
	return deleted, err
}

type propertyRepo struct{ base }

func (r *propertyRepo) Create(_ context.Context, p *models.Property) (*models.Property, error) {
	err := r.write(func(t *tables) error {
		if _, ok := t.users[p.OwnerID]; !ok {
			return common.ErrorNotFound
		}
		p.ID = uuid.NewString()
		p.CreatedAt = r.now()
		t.properties[p.ID] = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *propertyRepo) GetByID(_ context.Context, id string) (*models.Property, error) {
	var out models.Property
	err := r.read(func(t *tables) error {
		p, ok := t.properties[id]
		if !ok {
			return common.ErrorNotFound
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type eventRepo struct{ base }

func (r *eventRepo) Seen(_ context.Context, eventID string) (bool, error) {
	seen := false
	err := r.read(func(t *tables) error {
		_, seen = t.events[eventID]
		return nil
	})
	return seen, err
}

func (r *eventRepo) MarkProcessed(_ context.Context, eventID, eventType string) (bool, error) {
	inserted := false
	err := r.write(func(t *tables) error {
		if _, ok := t.events[eventID]; ok {
			return nil
		}
		t.events[eventID] = eventType
		inserted = true
		return nil
	})
	return inserted, err
}
