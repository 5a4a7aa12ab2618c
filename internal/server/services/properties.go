package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/logging"
	"github.com/dmitrijs2005/studyrent/internal/server/access"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
)

type PropertyService struct {
	store  Store
	gate   *access.Gate
	logger logging.Logger
}

func NewPropertyService(store Store, gate *access.Gate, logger logging.Logger) *PropertyService {
	return &PropertyService{store: store, gate: gate, logger: logger.With("module", "properties")}
}

func (s *PropertyService) Create(ctx context.Context, caller *models.User, title, address string) (*models.Property, error) {
	if err := s.gate.CanPublishProperty(caller).Err("publish property"); err != nil {
		return nil, err
	}
	title, address = strings.TrimSpace(title), strings.TrimSpace(address)
	if title == "" || address == "" {
		return nil, fmt.Errorf("%w: title and address are required", common.ErrValidation)
	}

	p, err := s.store.Repos.Properties(s.store.DB).Create(ctx, &models.Property{
		OwnerID: caller.ID,
		Title:   title,
		Address: address,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating property: %w", err)
	}

	s.logger.Info(ctx, "property created", "property_id", p.ID, "owner_id", caller.ID)
	return p, nil
}

func (s *PropertyService) Get(ctx context.Context, id string) (*models.Property, error) {
	return s.store.Repos.Properties(s.store.DB).GetByID(ctx, id)
}
