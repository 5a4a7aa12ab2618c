// Package refreshtokens declares the repository contract for refresh tokens
// issued at login.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/server/models"
)

type Repository interface {
	// Create stores token for userID, valid until expiresAt.
	Create(ctx context.Context, userID, token string, expiresAt time.Time) error

	// Find returns common.ErrorNotFound when the token is absent.
	Find(ctx context.Context, token string) (*models.RefreshToken, error)

	// Delete reports whether a row was removed. Rotation relies on that
	// to reject a token presented twice concurrently.
	Delete(ctx context.Context, token string) (bool, error)
}
