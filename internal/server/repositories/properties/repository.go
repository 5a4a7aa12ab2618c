package properties

import (
	"context"

	"github.com/dmitrijs2005/studyrent/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, p *models.Property) (*models.Property, error)
	GetByID(ctx context.Context, id string) (*models.Property, error)
}
