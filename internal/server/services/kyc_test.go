package services

import (
	"context"
	"strings"
	"testing"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKYC_SubmitAndReview(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner := e.seedUser(t, "new-owner@example.com", models.RoleOwner)

	key, url, err := e.kyc.DocumentUploadURL(ctx, owner)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "kyc/2026/09/01/"+owner.ID+"/"), key)
	assert.Contains(t, url, key)

	// Keys issued to someone else are refused.
	otherKey, _, err := e.kyc.DocumentUploadURL(ctx, e.student)
	require.NoError(t, err)
	_, err = e.kyc.Submit(ctx, owner, otherKey)
	assert.ErrorIs(t, err, common.ErrValidation)

	u, err := e.kyc.Submit(ctx, owner, key)
	require.NoError(t, err)
	assert.Equal(t, models.KYCPending, u.KYCStatus)

	_, err = e.kyc.Submit(ctx, owner, key)
	assert.ErrorIs(t, err, common.ErrInvalidState)

	// Still pending, so the owner cannot publish yet.
	_, err = e.props.Create(ctx, u, "Room", "2 Main St")
	assert.ErrorIs(t, err, common.ErrForbidden)

	_, err = e.kyc.Review(ctx, e.admin, owner.ID, false, "  ")
	assert.ErrorIs(t, err, common.ErrValidation)
	_, err = e.kyc.Review(ctx, owner, owner.ID, true, "")
	assert.ErrorIs(t, err, common.ErrForbidden)

	u, err = e.kyc.Review(ctx, e.admin, owner.ID, false, "document is blurry")
	require.NoError(t, err)
	assert.Equal(t, models.KYCRejected, u.KYCStatus)
	assert.Equal(t, "document is blurry", u.KYCRejectReason)

	// A rejected user may try again.
	key2, _, err := e.kyc.DocumentUploadURL(ctx, u)
	require.NoError(t, err)
	_, err = e.kyc.Submit(ctx, u, key2)
	require.NoError(t, err)

	u, err = e.kyc.Review(ctx, e.admin, owner.ID, true, "ignored")
	require.NoError(t, err)
	assert.Equal(t, models.KYCVerified, u.KYCStatus)
	assert.Empty(t, u.KYCRejectReason)
	assert.Equal(t, key2, u.KYCDocumentKey)

	_, err = e.kyc.Review(ctx, e.admin, owner.ID, true, "")
	assert.ErrorIs(t, err, common.ErrInvalidState)

	p, err := e.props.Create(ctx, u, "Room", "2 Main St")
	require.NoError(t, err)
	assert.Equal(t, owner.ID, p.OwnerID)
}

func TestKYC_DocumentURL(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.kyc.DocumentURL(ctx, e.admin, e.student.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	key, _, err := e.kyc.DocumentUploadURL(ctx, e.student)
	require.NoError(t, err)
	_, err = e.kyc.Submit(ctx, e.student, key)
	require.NoError(t, err)
	require.NoError(t, e.blobs.Put(ctx, key, []byte("scan"), "application/pdf"))

	_, err = e.kyc.DocumentURL(ctx, e.owner, e.student.ID)
	assert.ErrorIs(t, err, common.ErrForbidden)

	url, err := e.kyc.DocumentURL(ctx, e.admin, e.student.ID)
	require.NoError(t, err)
	assert.Contains(t, url, key)
}

func TestKYC_AdminCannotSubmit(t *testing.T) {
	e := newEnv(t)
	_, _, err := e.kyc.DocumentUploadURL(context.Background(), e.admin)
	assert.ErrorIs(t, err, common.ErrForbidden)
}
