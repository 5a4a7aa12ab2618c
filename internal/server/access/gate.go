// Package access implements the authorization predicates for contract,
// payment and moderation actions. The predicates have no side effects; each
// returns a Decision carrying a reason code the HTTP layer turns into a
// 401 or 403.
package access

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
)

type Reason string

const (
	ReasonAllowed         Reason = "allowed"
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonBanned          Reason = "banned"
	ReasonMuted           Reason = "muted"
	ReasonWrongRole       Reason = "wrong_role"
	ReasonNotParty        Reason = "not_party"
	ReasonNotOwner        Reason = "not_owner"
	ReasonKYCRequired     Reason = "kyc_required"
)

type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow() Decision           { return Decision{Allowed: true, Reason: ReasonAllowed} }
func deny(r Reason) Decision    { return Decision{Reason: r} }
func (d Decision) Denied() bool { return !d.Allowed }

// Err converts a denial into an error. It returns nil when the decision allows.
func (d Decision) Err(action string) error {
	if d.Allowed {
		return nil
	}
	return &DenyError{Action: action, Reason: d.Reason}
}

// DenyError is returned by services when the gate refuses an action.
// It matches common.ErrorUnauthorized for unauthenticated callers and
// common.ErrForbidden otherwise.
type DenyError struct {
	Action string
	Reason Reason
}

func (e *DenyError) Error() string {
	return fmt.Sprintf("%s denied: %s", e.Action, e.Reason)
}

func (e *DenyError) Unwrap() error {
	if e.Reason == ReasonUnauthenticated {
		return common.ErrorUnauthorized
	}
	return common.ErrForbidden
}

// Gate evaluates predicates against the clock given by Now, which decides
// whether time-limited bans and mutes are still running.
type Gate struct {
	Now func() time.Time
}

func NewGate() *Gate {
	return &Gate{Now: time.Now}
}

// mutating is the common prefix of every write predicate.
func (g *Gate) mutating(u *models.User) (Decision, bool) {
	if u == nil || u.ID == "" {
		return deny(ReasonUnauthenticated), false
	}
	if u.Role == models.RoleSystem {
		return allow(), true
	}
	now := g.Now()
	if u.BannedAt(now) {
		return deny(ReasonBanned), false
	}
	if u.MutedAt(now) {
		return deny(ReasonMuted), false
	}
	return allow(), true
}

// CanPublishProperty: KYC-verified owners only.
func (g *Gate) CanPublishProperty(u *models.User) Decision {
	if d, ok := g.mutating(u); !ok {
		return d
	}
	if u.Role != models.RoleOwner {
		return deny(ReasonWrongRole)
	}
	if u.KYCStatus != models.KYCVerified {
		return deny(ReasonKYCRequired)
	}
	return allow()
}

// CanCreateContract requires a KYC-verified owner acting on their own property.
func (g *Gate) CanCreateContract(u *models.User, p *models.Property) Decision {
	if d := g.CanPublishProperty(u); d.Denied() {
		return d
	}
	if p == nil || p.OwnerID != u.ID {
		return deny(ReasonNotOwner)
	}
	return allow()
}

// CanSign checks that u is the party the signature role belongs to.
func (g *Gate) CanSign(u *models.User, c *models.Contract, role models.SignerRole) Decision {
	if d, ok := g.mutating(u); !ok {
		return d
	}
	switch role {
	case models.SignerOwner:
		if c.OwnerID != u.ID {
			return deny(ReasonNotParty)
		}
	case models.SignerStudent:
		if c.StudentID != u.ID {
			return deny(ReasonNotParty)
		}
	default:
		return deny(ReasonWrongRole)
	}
	return allow()
}

// CanEditTerms: only the contract owner edits terms or the editable flag.
func (g *Gate) CanEditTerms(u *models.User, c *models.Contract) Decision {
	if d, ok := g.mutating(u); !ok {
		return d
	}
	if c.OwnerID != u.ID {
		return deny(ReasonNotOwner)
	}
	return allow()
}

// CanCancel: either party, an admin, or the system.
func (g *Gate) CanCancel(u *models.User, c *models.Contract) Decision {
	if d, ok := g.mutating(u); !ok {
		return d
	}
	if u.Role == models.RoleSystem || u.Role == models.RoleAdmin || c.IsParty(u.ID) {
		return allow()
	}
	return deny(ReasonNotParty)
}

// CanComplete: the owner, an admin, or the expiry sweep.
func (g *Gate) CanComplete(u *models.User, c *models.Contract) Decision {
	if d, ok := g.mutating(u); !ok {
		return d
	}
	if u.Role == models.RoleSystem || u.Role == models.RoleAdmin || c.OwnerID == u.ID {
		return allow()
	}
	return deny(ReasonNotOwner)
}

// CanView is read-only, so bans and mutes do not apply.
func (g *Gate) CanView(u *models.User, c *models.Contract) Decision {
	if u == nil || u.ID == "" {
		return deny(ReasonUnauthenticated)
	}
	if u.Role == models.RoleAdmin || u.Role == models.RoleSystem || c.IsParty(u.ID) {
		return allow()
	}
	return deny(ReasonNotParty)
}

// CanManagePayments covers subscription and deposit requests.
func (g *Gate) CanManagePayments(u *models.User, c *models.Contract) Decision {
	if d, ok := g.mutating(u); !ok {
		return d
	}
	if u.Role == models.RoleAdmin || u.Role == models.RoleSystem || c.IsParty(u.ID) {
		return allow()
	}
	return deny(ReasonNotParty)
}

// CanModerate covers bans, mutes and KYC review.
func (g *Gate) CanModerate(u *models.User) Decision {
	if d, ok := g.mutating(u); !ok {
		return d
	}
	if u.Role != models.RoleAdmin {
		return deny(ReasonWrongRole)
	}
	return allow()
}

// CanSendMessage shares the ban and mute rules with contract actions.
func (g *Gate) CanSendMessage(u *models.User) Decision {
	d, _ := g.mutating(u)
	return d
}

// CanSubmitKYC: students and owners submit their own identity documents.
func (g *Gate) CanSubmitKYC(u *models.User) Decision {
	if d, ok := g.mutating(u); !ok {
		return d
	}
	if u.Role != models.RoleStudent && u.Role != models.RoleOwner {
		return deny(ReasonWrongRole)
	}
	return allow()
}

// CanReceivePayments gates payout onboarding with the same rule as listing.
func (g *Gate) CanReceivePayments(u *models.User) Decision {
	return g.CanPublishProperty(u)
}
