package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUser_BannedAndMutedExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	tests := []struct {
		name   string
		user   User
		banned bool
		muted  bool
	}{
		{name: "clean", user: User{}},
		{name: "permanent ban", user: User{IsBanned: true}, banned: true},
		{name: "ban running", user: User{IsBanned: true, BannedUntil: &later}, banned: true},
		{name: "ban expired", user: User{IsBanned: true, BannedUntil: &earlier}},
		{name: "mute running", user: User{IsMuted: true, MutedUntil: &later}, muted: true},
		{name: "mute expired", user: User{IsMuted: true, MutedUntil: &earlier}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.banned, tt.user.BannedAt(now))
			assert.Equal(t, tt.muted, tt.user.MutedAt(now))
		})
	}
}

func TestContract_Signatures(t *testing.T) {
	key := "contracts/c/owner.png"
	c := Contract{OwnerID: "o", StudentID: "s", OwnerSignature: &key}

	assert.True(t, c.SignedBy(SignerOwner))
	assert.False(t, c.SignedBy(SignerStudent))
	assert.False(t, c.FullySigned())

	c.StudentSignature = &key
	assert.True(t, c.FullySigned())

	assert.True(t, c.IsParty("o"))
	assert.True(t, c.IsParty("s"))
	assert.False(t, c.IsParty("x"))
	assert.False(t, c.IsParty(""))
}

func TestRefreshToken_ExpiredAt(t *testing.T) {
	exp := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	rt := &RefreshToken{ExpiresAt: exp}

	assert.False(t, rt.ExpiredAt(exp.Add(-time.Second)))
	assert.True(t, rt.ExpiredAt(exp))
	assert.True(t, rt.ExpiredAt(exp.Add(time.Hour)))
}
