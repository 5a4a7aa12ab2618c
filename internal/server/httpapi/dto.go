package httpapi

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
	"github.com/dmitrijs2005/studyrent/internal/server/services"
	"github.com/shopspring/decimal"
)

type userJSON struct {
	ID              string           `json:"id"`
	Email           string           `json:"email"`
	Role            models.Role      `json:"role"`
	KYCStatus       models.KYCStatus `json:"kyc_status"`
	KYCRejectReason string           `json:"kyc_reject_reason,omitempty"`
	IsBanned        bool             `json:"is_banned"`
	BannedUntil     *time.Time       `json:"banned_until,omitempty"`
	IsMuted         bool             `json:"is_muted"`
	MutedUntil      *time.Time       `json:"muted_until,omitempty"`
	PaymentReady    bool             `json:"payment_ready"`
	CreatedAt       time.Time        `json:"created_at"`
}

func toUserJSON(u *models.User) userJSON {
	return userJSON{
		ID:              u.ID,
		Email:           u.Email,
		Role:            u.Role,
		KYCStatus:       u.KYCStatus,
		KYCRejectReason: u.KYCRejectReason,
		IsBanned:        u.IsBanned,
		BannedUntil:     u.BannedUntil,
		IsMuted:         u.IsMuted,
		MutedUntil:      u.MutedUntil,
		PaymentReady:    u.PaymentReady,
		CreatedAt:       u.CreatedAt,
	}
}

type propertyJSON struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

func toPropertyJSON(p *models.Property) propertyJSON {
	return propertyJSON{ID: p.ID, OwnerID: p.OwnerID, Title: p.Title, Address: p.Address, CreatedAt: p.CreatedAt}
}

// termsJSON carries dates as YYYY-MM-DD and amounts as decimal strings.
type termsJSON struct {
	MonthlyRent   decimal.Decimal `json:"monthly_rent"`
	Charges       decimal.Decimal `json:"charges"`
	DepositAmount decimal.Decimal `json:"deposit_amount"`
	StartDate     string          `json:"start_date"`
	EndDate       string          `json:"end_date"`
}

func (t termsJSON) toTerms() (models.Terms, error) {
	start, err := time.Parse(time.DateOnly, t.StartDate)
	if err != nil {
		return models.Terms{}, fmt.Errorf("%w: start_date must be YYYY-MM-DD", common.ErrValidation)
	}
	end, err := time.Parse(time.DateOnly, t.EndDate)
	if err != nil {
		return models.Terms{}, fmt.Errorf("%w: end_date must be YYYY-MM-DD", common.ErrValidation)
	}
	return models.Terms{
		MonthlyRent:   t.MonthlyRent,
		Charges:       t.Charges,
		DepositAmount: t.DepositAmount,
		StartDate:     start,
		EndDate:       end,
	}, nil
}

func toTermsJSON(t models.Terms) termsJSON {
	return termsJSON{
		MonthlyRent:   t.MonthlyRent,
		Charges:       t.Charges,
		DepositAmount: t.DepositAmount,
		StartDate:     t.StartDate.Format(time.DateOnly),
		EndDate:       t.EndDate.Format(time.DateOnly),
	}
}

type signatureJSON struct {
	Signed   bool       `json:"signed"`
	SignedAt *time.Time `json:"signed_at,omitempty"`
}

type contractJSON struct {
	ID               string                `json:"id"`
	PropertyID       string                `json:"property_id"`
	OwnerID          string                `json:"owner_id"`
	StudentID        string                `json:"student_id"`
	Terms            termsJSON             `json:"terms"`
	Status           models.ContractStatus `json:"status"`
	IsEditable       bool                  `json:"is_editable"`
	OwnerSignature   signatureJSON         `json:"owner_signature"`
	StudentSignature signatureJSON         `json:"student_signature"`
	SubscriptionRef  *string               `json:"subscription_ref,omitempty"`
	DepositPaymentID *string               `json:"deposit_payment_id,omitempty"`
	UnlinkPending    bool                  `json:"unlink_pending"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

func toContractJSON(c *models.Contract) contractJSON {
	return contractJSON{
		ID:               c.ID,
		PropertyID:       c.PropertyID,
		OwnerID:          c.OwnerID,
		StudentID:        c.StudentID,
		Terms:            toTermsJSON(c.Terms),
		Status:           c.Status,
		IsEditable:       c.IsEditable,
		OwnerSignature:   signatureJSON{Signed: c.OwnerSignature != nil, SignedAt: c.OwnerSignedAt},
		StudentSignature: signatureJSON{Signed: c.StudentSignature != nil, SignedAt: c.StudentSignedAt},
		SubscriptionRef:  c.StripeSubscriptionID,
		DepositPaymentID: c.DepositPaymentID,
		UnlinkPending:    c.UnlinkPendingRef != nil,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

type paymentJSON struct {
	ID            string               `json:"id"`
	ContractID    string               `json:"contract_id"`
	Type          models.PaymentType   `json:"type"`
	Amount        decimal.Decimal      `json:"amount"`
	Status        models.PaymentStatus `json:"status"`
	ProviderRef   string               `json:"provider_ref"`
	FailureReason *string              `json:"failure_reason,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	PaidAt        *time.Time           `json:"paid_at,omitempty"`
}

func toPaymentJSON(p *models.Payment) paymentJSON {
	return paymentJSON{
		ID:            p.ID,
		ContractID:    p.ContractID,
		Type:          p.Type,
		Amount:        p.Amount,
		Status:        p.Status,
		ProviderRef:   p.ProviderRef,
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt,
		PaidAt:        p.PaidAt,
	}
}

type paymentSummaryJSON struct {
	ContractID        string                `json:"contract_id"`
	State             services.PaymentState `json:"state"`
	OwnerPaymentReady bool                  `json:"owner_payment_ready"`
	SubscriptionRef   *string               `json:"subscription_ref,omitempty"`
	UnlinkPending     bool                  `json:"unlink_pending"`
	DepositStatus     *models.PaymentStatus `json:"deposit_status,omitempty"`
	Payments          []paymentJSON         `json:"payments"`
}

func toPaymentSummaryJSON(s *services.PaymentSummary) paymentSummaryJSON {
	out := paymentSummaryJSON{
		ContractID:        s.ContractID,
		State:             s.State,
		OwnerPaymentReady: s.OwnerPaymentReady,
		SubscriptionRef:   s.SubscriptionRef,
		UnlinkPending:     s.UnlinkPending,
		DepositStatus:     s.DepositStatus,
		Payments:          make([]paymentJSON, 0, len(s.Payments)),
	}
	for _, p := range s.Payments {
		out.Payments = append(out.Payments, toPaymentJSON(p))
	}
	return out
}
