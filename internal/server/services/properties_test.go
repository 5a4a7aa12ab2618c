package services

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyService(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.props.Create(ctx, e.student, "Room", "Street 1")
	assert.ErrorIs(t, err, common.ErrForbidden)

	_, err = e.props.Create(ctx, e.owner, "  ", "Street 1")
	assert.ErrorIs(t, err, common.ErrValidation)

	p, err := e.props.Create(ctx, e.owner, " Loft ", "Street 1")
	require.NoError(t, err)
	assert.Equal(t, "Loft", p.Title)

	got, err := e.props.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, e.owner.ID, got.OwnerID)

	_, err = e.props.Get(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
