package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/dbx"
	"github.com/dmitrijs2005/studyrent/internal/logging"
	"github.com/dmitrijs2005/studyrent/internal/server/access"
	"github.com/dmitrijs2005/studyrent/internal/server/billing"
	"github.com/dmitrijs2005/studyrent/internal/server/config"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/payments"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const reconcileBatchSize = 100

// PaymentState is the derived payment situation of a contract.
type PaymentState string

const (
	PaymentNotApplicable      PaymentState = "not_applicable"
	PaymentOwnerSetupRequired PaymentState = "owner_setup_required"
	PaymentRequired           PaymentState = "payment_required"
	PaymentActive             PaymentState = "active"
)

type PaymentSummary struct {
	ContractID        string
	State             PaymentState
	OwnerPaymentReady bool
	SubscriptionRef   *string
	UnlinkPending     bool
	DepositStatus     *models.PaymentStatus
	Payments          []*models.Payment
}

// PaymentService links contracts to rent subscriptions and deposit payments
// at the provider and applies the provider's status callbacks.
type PaymentService struct {
	store     Store
	gate      *access.Gate
	provider  billing.Provider
	logger    logging.Logger
	currency  string
	productID string
	timeout   time.Duration
	now       func() time.Time
}

func NewPaymentService(store Store, gate *access.Gate, provider billing.Provider, logger logging.Logger, cfg *config.Config) *PaymentService {
	return &PaymentService{
		store:     store,
		gate:      gate,
		provider:  provider,
		logger:    logger.With("module", "payments"),
		currency:  cfg.Currency,
		productID: cfg.RentProductID,
		timeout:   cfg.ProviderTimeout,
		now:       time.Now,
	}
}

// providerCtx bounds a provider call. It is detached from the caller's
// cancellation so an aborted request cannot leave a half-made remote call
// unrecorded.
func (s *PaymentService) providerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

// payoutAccount returns the owner's connected account if onboarding is done.
func (s *PaymentService) payoutAccount(ctx context.Context, c *models.Contract) (string, error) {
	owner, err := s.store.Repos.Users(s.store.DB).GetByID(ctx, c.OwnerID)
	if err != nil {
		return "", err
	}
	if !owner.PaymentReady || owner.StripeAccountID == "" {
		return "", fmt.Errorf("%w: owner %s has not finished payout onboarding", common.ErrOwnerSetupRequired, owner.ID)
	}
	return owner.StripeAccountID, nil
}

// studentCustomer returns the student's billing customer, creating it at
// the provider on first use.
func (s *PaymentService) studentCustomer(ctx context.Context, c *models.Contract) (string, error) {
	repo := s.store.Repos.Users(s.store.DB)
	student, err := repo.GetByID(ctx, c.StudentID)
	if err != nil {
		return "", err
	}
	if student.StripeCustomerID != "" {
		return student.StripeCustomerID, nil
	}

	pctx, cancel := s.providerCtx(ctx)
	defer cancel()
	id, err := s.provider.EnsureCustomer(pctx, student.ID, student.Email)
	if err != nil {
		return "", err
	}
	if err := repo.SetStripeCustomerID(ctx, student.ID, id); err != nil {
		return "", err
	}
	return id, nil
}

// AttachSubscription starts monthly rent billing for an active contract.
// Nothing is created at the provider unless the owner can receive payouts.
func (s *PaymentService) AttachSubscription(ctx context.Context, caller *models.User, contractID string) (*models.Contract, error) {
	c, err := s.store.Repos.Contracts(s.store.DB).GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CanManagePayments(caller, c).Err("attach subscription"); err != nil {
		return nil, err
	}
	if c.Status != models.ContractActive {
		return nil, fmt.Errorf("%w: subscriptions need an active contract, got %s", common.ErrInvalidState, c.Status)
	}
	if c.StripeSubscriptionID != nil {
		return nil, fmt.Errorf("subscription %s already attached: %w", *c.StripeSubscriptionID, common.ErrConflict)
	}

	account, err := s.payoutAccount(ctx, c)
	if err != nil {
		return nil, err
	}
	customer, err := s.studentCustomer(ctx, c)
	if err != nil {
		return nil, err
	}

	pctx, cancel := s.providerCtx(ctx)
	defer cancel()
	ref, err := s.provider.CreateSubscription(pctx, billing.SubscriptionRequest{
		ContractID:         c.ID,
		CustomerID:         customer,
		DestinationAccount: account,
		MonthlyAmount:      c.MonthlyRent.Add(c.Charges),
		Currency:           s.currency,
		ProductID:          s.productID,
		Attempt:            strconv.FormatInt(c.UpdatedAt.UnixNano(), 10),
	})
	if err != nil {
		return nil, err
	}

	var attached *models.Contract
	err = s.store.Tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.store.Repos.Contracts(tx)
		cur, err := repo.GetForUpdate(ctx, contractID)
		if err != nil {
			return err
		}
		if cur.StripeSubscriptionID != nil {
			if *cur.StripeSubscriptionID == ref {
				attached = cur
				return nil
			}
			return fmt.Errorf("subscription %s already attached: %w", *cur.StripeSubscriptionID, common.ErrConflict)
		}
		if cur.Status != models.ContractActive {
			return fmt.Errorf("%w: contract became %s", common.ErrInvalidState, cur.Status)
		}
		if err := repo.SetSubscription(ctx, contractID, &ref); err != nil {
			return err
		}
		attached, err = repo.GetByID(ctx, contractID)
		return err
	})
	if err != nil {
		s.discardSubscription(ctx, contractID, ref)
		return nil, err
	}

	s.logger.Info(ctx, "subscription attached", "contract_id", contractID, "subscription_id", ref)
	return attached, nil
}

// discardSubscription cancels a subscription that could not be linked.
func (s *PaymentService) discardSubscription(ctx context.Context, contractID, ref string) {
	pctx, cancel := s.providerCtx(ctx)
	defer cancel()
	if err := s.provider.CancelSubscription(pctx, ref); err != nil && !errors.Is(err, common.ErrorNotFound) {
		s.logger.Warn(ctx, "orphan subscription left at provider", "contract_id", contractID, "subscription_id", ref, "error", err)
	}
}

// depositOpen returns ErrConflict when the contract's deposit is paid or a
// deposit payment is still in flight.
func depositOpen(ctx context.Context, repo payments.Repository, contractID string) error {
	paid, err := repo.HasSucceededDeposit(ctx, contractID)
	if err != nil {
		return err
	}
	if paid {
		return fmt.Errorf("deposit already paid: %w", common.ErrConflict)
	}
	pending, err := repo.HasPendingDeposit(ctx, contractID)
	if err != nil {
		return err
	}
	if pending {
		return fmt.Errorf("another deposit is in progress: %w", common.ErrConflict)
	}
	return nil
}

// discardDepositIntent cancels a deposit intent that could not be recorded.
func (s *PaymentService) discardDepositIntent(ctx context.Context, contractID, ref string) {
	pctx, cancel := s.providerCtx(ctx)
	defer cancel()
	if err := s.provider.CancelDepositIntent(pctx, ref); err != nil && !errors.Is(err, common.ErrorNotFound) {
		s.logger.Warn(ctx, "orphan deposit intent left at provider", "contract_id", contractID, "provider_ref", ref, "error", err)
	}
}

// RecordDepositIntent opens a deposit payment at the provider and tracks it
// as pending. A zero amount means the deposit stated in the contract. While
// one deposit is pending no second one can be opened, so a contract never
// has two payable deposit intents at the provider.
func (s *PaymentService) RecordDepositIntent(ctx context.Context, caller *models.User, contractID string, amount decimal.Decimal) (*models.Payment, error) {
	c, err := s.store.Repos.Contracts(s.store.DB).GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CanManagePayments(caller, c).Err("request deposit"); err != nil {
		return nil, err
	}
	if c.Status != models.ContractPending && c.Status != models.ContractActive {
		return nil, fmt.Errorf("%w: contract is %s", common.ErrInvalidState, c.Status)
	}
	if amount.IsZero() {
		amount = c.DepositAmount
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: deposit amount must be positive", common.ErrValidation)
	}

	if err := depositOpen(ctx, s.store.Repos.Payments(s.store.DB), c.ID); err != nil {
		return nil, err
	}

	account, err := s.payoutAccount(ctx, c)
	if err != nil {
		return nil, err
	}
	customer, err := s.studentCustomer(ctx, c)
	if err != nil {
		return nil, err
	}

	paymentID := uuid.NewString()
	pctx, cancel := s.providerCtx(ctx)
	defer cancel()
	ref, err := s.provider.CreateDepositIntent(pctx, billing.DepositRequest{
		ContractID:         c.ID,
		PaymentID:          paymentID,
		CustomerID:         customer,
		DestinationAccount: account,
		Amount:             amount,
		Currency:           s.currency,
	})
	if err != nil {
		return nil, err
	}

	var payment *models.Payment
	err = s.store.Tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.store.Repos.Payments(tx)
		if err := depositOpen(ctx, repo, c.ID); err != nil {
			return err
		}
		var err error
		payment, err = repo.Create(ctx, &models.Payment{
			ID:          paymentID,
			ContractID:  c.ID,
			Type:        models.PaymentDeposit,
			Amount:      amount,
			Status:      models.PaymentPending,
			ProviderRef: ref,
		})
		return err
	})
	if err != nil {
		// Lost a race with a concurrent request: the intent was never handed
		// to the payer, so void it.
		s.discardDepositIntent(ctx, c.ID, ref)
		return nil, err
	}

	s.logger.Info(ctx, "deposit intent recorded", "contract_id", c.ID, "payment_id", paymentID, "provider_ref", ref)
	return payment, nil
}

// ApplyPaymentStatusEvent moves the payment with providerRef to status.
// Repeated events are no-ops and a succeeded payment never goes back to
// pending or failed, whatever order the provider delivers events in.
func (s *PaymentService) ApplyPaymentStatusEvent(ctx context.Context, providerRef string, status models.PaymentStatus, failureReason *string) (*models.Payment, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown payment status %q", common.ErrValidation, status)
	}

	var (
		result  *models.Payment
		changed bool
	)
	err := s.store.Tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.store.Repos.Payments(tx)
		p, err := repo.GetByProviderRefForUpdate(ctx, providerRef)
		if err != nil {
			return err
		}
		result = p
		if p.Status == models.PaymentSucceeded || p.Status == status {
			return nil
		}

		var paidAt *time.Time
		reason := failureReason
		if status == models.PaymentSucceeded {
			now := s.now()
			paidAt = &now
		}
		if status != models.PaymentFailed {
			reason = nil
		}
		if err := repo.UpdateStatus(ctx, p.ID, status, reason, paidAt); err != nil {
			return err
		}
		if p.Type == models.PaymentDeposit && status == models.PaymentSucceeded {
			if err := s.store.Repos.Contracts(tx).SetDepositPayment(ctx, p.ContractID, p.ID); err != nil {
				return err
			}
		}
		changed = true
		result, err = repo.GetByProviderRef(ctx, providerRef)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.Info(ctx, "payment status changed", "payment_id", result.ID, "contract_id", result.ContractID, "status", result.Status)
	} else if result.Status != status {
		s.logger.Debug(ctx, "stale payment event ignored", "payment_id", result.ID, "status", result.Status, "event_status", status)
	}
	return result, nil
}

// DetachSubscription cancels the contract's subscription at the provider.
// A subscription the provider no longer knows counts as cancelled. On any
// other failure the reference is parked in unlink_pending_ref for
// ReconcileDetachments and the error is returned.
func (s *PaymentService) DetachSubscription(ctx context.Context, contractID string) error {
	c, err := s.store.Repos.Contracts(s.store.DB).GetByID(ctx, contractID)
	if err != nil {
		return err
	}
	ref := c.StripeSubscriptionID
	if ref == nil {
		ref = c.UnlinkPendingRef
	}
	if ref == nil {
		return nil
	}

	pctx, cancel := s.providerCtx(ctx)
	defer cancel()
	cancelErr := s.provider.CancelSubscription(pctx, *ref)
	if errors.Is(cancelErr, common.ErrorNotFound) {
		cancelErr = nil
	}

	err = s.store.Tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.store.Repos.Contracts(tx)
		cur, err := repo.GetForUpdate(ctx, contractID)
		if err != nil {
			return err
		}
		if cur.StripeSubscriptionID != nil && *cur.StripeSubscriptionID == *ref {
			if err := repo.SetSubscription(ctx, contractID, nil); err != nil {
				return err
			}
		}
		pending := ref
		if cancelErr == nil {
			pending = nil
		}
		return repo.SetUnlinkPending(ctx, contractID, pending)
	})
	if err != nil {
		return err
	}
	if cancelErr != nil {
		return fmt.Errorf("detach subscription %s: %w", *ref, cancelErr)
	}

	s.logger.Info(ctx, "subscription detached", "contract_id", contractID, "subscription_id", *ref)
	return nil
}

// ReconcileDetachments retries unlinks that failed earlier and returns how
// many were resolved.
func (s *PaymentService) ReconcileDetachments(ctx context.Context) (int, error) {
	pending, err := s.store.Repos.Contracts(s.store.DB).ListUnlinkPending(ctx, reconcileBatchSize)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, c := range pending {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if err := s.DetachSubscription(ctx, c.ID); err != nil {
			s.logger.Warn(ctx, "subscription unlink still failing", "contract_id", c.ID, "error", err)
			continue
		}
		done++
	}
	return done, nil
}

// RecordRentInvoice tracks a rent invoice of a linked subscription as a
// monthly_rent payment. Replays return the existing record.
func (s *PaymentService) RecordRentInvoice(ctx context.Context, subscriptionRef, invoiceRef string, amount decimal.Decimal) (*models.Payment, error) {
	if invoiceRef == "" || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: invoice reference and positive amount are required", common.ErrValidation)
	}
	repo := s.store.Repos.Payments(s.store.DB)
	if p, err := repo.GetByProviderRef(ctx, invoiceRef); err == nil {
		return p, nil
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	c, err := s.store.Repos.Contracts(s.store.DB).GetBySubscription(ctx, subscriptionRef)
	if err != nil {
		return nil, fmt.Errorf("subscription %s: %w", subscriptionRef, err)
	}

	p, err := repo.Create(ctx, &models.Payment{
		ID:          uuid.NewString(),
		ContractID:  c.ID,
		Type:        models.PaymentMonthlyRent,
		Amount:      amount,
		Status:      models.PaymentPending,
		ProviderRef: invoiceRef,
	})
	if errors.Is(err, common.ErrConflict) {
		return repo.GetByProviderRef(ctx, invoiceRef)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "rent invoice recorded", "contract_id", c.ID, "payment_id", p.ID, "invoice", invoiceRef)
	return p, nil
}

// MarkSubscriptionGone clears the link to a subscription the provider has
// ended on its own.
func (s *PaymentService) MarkSubscriptionGone(ctx context.Context, subscriptionRef string) error {
	var c *models.Contract
	err := s.store.Tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.store.Repos.Contracts(tx)
		var err error
		c, err = repo.GetBySubscription(ctx, subscriptionRef)
		if err != nil {
			return err
		}
		return repo.SetSubscription(ctx, c.ID, nil)
	})
	if err != nil {
		return err
	}

	if c.Status == models.ContractActive {
		s.logger.Warn(ctx, "subscription ended at provider while contract is active",
			"contract_id", c.ID, "subscription_id", subscriptionRef)
	}
	return nil
}

// UpdateOwnerOnboarding mirrors the provider's account state. It reports
// whether an owner holds accountID.
func (s *PaymentService) UpdateOwnerOnboarding(ctx context.Context, accountID string, ready bool) (bool, error) {
	return s.store.Repos.Users(s.store.DB).SetPaymentReadyByAccount(ctx, accountID, ready)
}

// StartOnboarding returns the provider link where the owner sets up
// payouts, opening the payout account on first use.
func (s *PaymentService) StartOnboarding(ctx context.Context, caller *models.User, refreshURL, returnURL string) (string, error) {
	if err := s.gate.CanReceivePayments(caller).Err("start payout onboarding"); err != nil {
		return "", err
	}
	for _, raw := range []string{refreshURL, returnURL} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return "", fmt.Errorf("%w: invalid redirect url %q", common.ErrValidation, raw)
		}
	}

	pctx, cancel := s.providerCtx(ctx)
	defer cancel()

	account := caller.StripeAccountID
	if account == "" {
		var err error
		account, err = s.provider.CreateConnectedAccount(pctx, caller.ID, caller.Email)
		if err != nil {
			return "", err
		}
		if err := s.store.Repos.Users(s.store.DB).SetStripeAccountID(ctx, caller.ID, account); err != nil {
			return "", err
		}
		s.logger.Info(ctx, "payout account created", "user_id", caller.ID, "account_id", account)
	}

	return s.provider.OnboardingLink(pctx, account, refreshURL, returnURL)
}

func (s *PaymentService) PaymentSummary(ctx context.Context, caller *models.User, contractID string) (*PaymentSummary, error) {
	c, err := s.store.Repos.Contracts(s.store.DB).GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CanView(caller, c).Err("view payments"); err != nil {
		return nil, err
	}
	owner, err := s.store.Repos.Users(s.store.DB).GetByID(ctx, c.OwnerID)
	if err != nil {
		return nil, err
	}
	list, err := s.store.Repos.Payments(s.store.DB).ListByContract(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	sum := &PaymentSummary{
		ContractID:        c.ID,
		OwnerPaymentReady: owner.PaymentReady && owner.StripeAccountID != "",
		SubscriptionRef:   c.StripeSubscriptionID,
		UnlinkPending:     c.UnlinkPendingRef != nil,
		Payments:          list,
	}
	switch {
	case c.Status != models.ContractActive:
		sum.State = PaymentNotApplicable
	case !sum.OwnerPaymentReady:
		sum.State = PaymentOwnerSetupRequired
	case c.StripeSubscriptionID == nil:
		sum.State = PaymentRequired
	default:
		sum.State = PaymentActive
	}

	// The deposit that counts is the succeeded one, otherwise the latest.
	for _, p := range list {
		if p.Type != models.PaymentDeposit {
			continue
		}
		st := p.Status
		if sum.DepositStatus == nil || *sum.DepositStatus != models.PaymentSucceeded {
			sum.DepositStatus = &st
		}
	}
	return sum, nil
}
