package access

import (
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

func fixedGate() *Gate {
	return &Gate{Now: func() time.Time { return now }}
}

func owner() *models.User {
	return &models.User{ID: "owner-1", Role: models.RoleOwner, KYCStatus: models.KYCVerified}
}

func student() *models.User {
	return &models.User{ID: "student-1", Role: models.RoleStudent}
}

func admin() *models.User {
	return &models.User{ID: "admin-1", Role: models.RoleAdmin}
}

func contract() *models.Contract {
	return &models.Contract{ID: "c-1", OwnerID: "owner-1", StudentID: "student-1", Status: models.ContractPending}
}

func TestCanCreateContract(t *testing.T) {
	g := fixedGate()
	prop := &models.Property{ID: "p-1", OwnerID: "owner-1"}

	unverified := owner()
	unverified.KYCStatus = models.KYCPending

	tests := []struct {
		name   string
		user   *models.User
		prop   *models.Property
		reason Reason
	}{
		{"verified owner", owner(), prop, ReasonAllowed},
		{"anonymous", nil, prop, ReasonUnauthenticated},
		{"student", student(), prop, ReasonWrongRole},
		{"kyc pending", unverified, prop, ReasonKYCRequired},
		{"someone else's property", owner(), &models.Property{ID: "p-2", OwnerID: "other"}, ReasonNotOwner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.CanCreateContract(tt.user, tt.prop)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.reason == ReasonAllowed, d.Allowed)
		})
	}
}

func TestCanSign(t *testing.T) {
	g := fixedGate()
	c := contract()

	assert.True(t, g.CanSign(owner(), c, models.SignerOwner).Allowed)
	assert.True(t, g.CanSign(student(), c, models.SignerStudent).Allowed)
	assert.Equal(t, ReasonNotParty, g.CanSign(student(), c, models.SignerOwner).Reason)
	assert.Equal(t, ReasonNotParty, g.CanSign(admin(), c, models.SignerOwner).Reason)
	assert.Equal(t, ReasonWrongRole, g.CanSign(owner(), c, "witness").Reason)
}

func TestBannedAndMutedUsersCannotMutate(t *testing.T) {
	g := fixedGate()
	c := contract()
	until := now.Add(24 * time.Hour)

	banned := student()
	banned.IsBanned = true
	banned.BannedUntil = &until

	muted := owner()
	muted.IsMuted = true

	assert.Equal(t, ReasonBanned, g.CanSign(banned, c, models.SignerStudent).Reason)
	assert.Equal(t, ReasonBanned, g.CanCancel(banned, c).Reason)
	assert.Equal(t, ReasonMuted, g.CanEditTerms(muted, c).Reason)
	assert.Equal(t, ReasonMuted, g.CanSendMessage(muted).Reason)
	assert.Equal(t, ReasonMuted, g.CanManagePayments(muted, c).Reason)

	// viewing is not a mutation
	assert.True(t, g.CanView(banned, c).Allowed)
}

func TestExpiredBanNoLongerApplies(t *testing.T) {
	g := fixedGate()
	expired := now.Add(-time.Minute)

	u := student()
	u.IsBanned = true
	u.BannedUntil = &expired

	assert.True(t, g.CanSign(u, contract(), models.SignerStudent).Allowed)
	assert.True(t, g.CanSendMessage(u).Allowed)
}

func TestCanCancelAndComplete(t *testing.T) {
	g := fixedGate()
	c := contract()
	stranger := &models.User{ID: "x", Role: models.RoleStudent}

	assert.True(t, g.CanCancel(student(), c).Allowed)
	assert.True(t, g.CanCancel(owner(), c).Allowed)
	assert.True(t, g.CanCancel(admin(), c).Allowed)
	assert.True(t, g.CanCancel(models.SystemUser(), c).Allowed)
	assert.Equal(t, ReasonNotParty, g.CanCancel(stranger, c).Reason)

	assert.True(t, g.CanComplete(owner(), c).Allowed)
	assert.True(t, g.CanComplete(models.SystemUser(), c).Allowed)
	assert.Equal(t, ReasonNotOwner, g.CanComplete(student(), c).Reason)
}

func TestCanEditTermsAndView(t *testing.T) {
	g := fixedGate()
	c := contract()

	assert.True(t, g.CanEditTerms(owner(), c).Allowed)
	assert.Equal(t, ReasonNotOwner, g.CanEditTerms(student(), c).Reason)
	assert.Equal(t, ReasonNotOwner, g.CanEditTerms(admin(), c).Reason)

	assert.True(t, g.CanView(admin(), c).Allowed)
	assert.Equal(t, ReasonNotParty, g.CanView(&models.User{ID: "x"}, c).Reason)
	assert.Equal(t, ReasonUnauthenticated, g.CanView(nil, c).Reason)
}

func TestCanModerate(t *testing.T) {
	g := fixedGate()
	assert.True(t, g.CanModerate(admin()).Allowed)
	assert.Equal(t, ReasonWrongRole, g.CanModerate(owner()).Reason)
}

func TestDecisionErr(t *testing.T) {
	assert.NoError(t, allow().Err("sign"))

	err := deny(ReasonNotParty).Err("sign")
	require.ErrorIs(t, err, common.ErrForbidden)

	var de *DenyError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, ReasonNotParty, de.Reason)
	assert.Equal(t, "sign denied: not_party", err.Error())

	require.ErrorIs(t, deny(ReasonUnauthenticated).Err("view"), common.ErrorUnauthorized)
}

func TestCanSubmitKYCAndReceivePayments(t *testing.T) {
	g := fixedGate()

	assert.True(t, g.CanSubmitKYC(student()).Allowed)
	assert.True(t, g.CanSubmitKYC(owner()).Allowed)
	assert.Equal(t, ReasonWrongRole, g.CanSubmitKYC(admin()).Reason)

	assert.True(t, g.CanReceivePayments(owner()).Allowed)
	assert.Equal(t, ReasonWrongRole, g.CanReceivePayments(student()).Reason)

	pending := owner()
	pending.KYCStatus = models.KYCPending
	assert.Equal(t, ReasonKYCRequired, g.CanReceivePayments(pending).Reason)
}
