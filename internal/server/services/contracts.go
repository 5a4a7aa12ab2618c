package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/dbx"
	"github.com/dmitrijs2005/studyrent/internal/logging"
	"github.com/dmitrijs2005/studyrent/internal/server/access"
	"github.com/dmitrijs2005/studyrent/internal/server/lifecycle"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
	"github.com/dmitrijs2005/studyrent/internal/server/storage"
)

// expiredBatchSize bounds the work of one CompleteExpired run.
const expiredBatchSize = 200

// SubscriptionDetacher unlinks a contract from its payment subscription.
// Failures are recorded on the contract by the implementation.
type SubscriptionDetacher interface {
	DetachSubscription(ctx context.Context, contractID string) error
}

type CreateContractInput struct {
	PropertyID string
	StudentID  string
	Terms      models.Terms
}

// ContractService owns the contract state machine. Every status change goes
// through lifecycle.Next and a conditional update in one transaction.
type ContractService struct {
	store    Store
	gate     *access.Gate
	blobs    storage.BlobStore
	detacher SubscriptionDetacher
	logger   logging.Logger
	now      func() time.Time
}

func NewContractService(store Store, gate *access.Gate, blobs storage.BlobStore, detacher SubscriptionDetacher, logger logging.Logger) *ContractService {
	return &ContractService{
		store:    store,
		gate:     gate,
		blobs:    blobs,
		detacher: detacher,
		logger:   logger.With("module", "contracts"),
		now:      time.Now,
	}
}

func validateTerms(t models.Terms) error {
	switch {
	case !t.MonthlyRent.IsPositive():
		return fmt.Errorf("%w: monthly rent must be positive", common.ErrValidation)
	case !t.DepositAmount.IsPositive():
		return fmt.Errorf("%w: deposit must be positive", common.ErrValidation)
	case t.Charges.IsNegative():
		return fmt.Errorf("%w: charges must not be negative", common.ErrValidation)
	case t.StartDate.IsZero() || t.EndDate.IsZero():
		return fmt.Errorf("%w: start and end dates are required", common.ErrValidation)
	case !t.EndDate.After(t.StartDate):
		return fmt.Errorf("%w: end date must be after start date", common.ErrValidation)
	}
	return nil
}

func (s *ContractService) Create(ctx context.Context, caller *models.User, in CreateContractInput) (*models.Contract, error) {
	if caller == nil {
		return nil, common.ErrorUnauthorized
	}
	db := s.store.DB
	prop, err := s.store.Repos.Properties(db).GetByID(ctx, in.PropertyID)
	if err != nil {
		return nil, fmt.Errorf("property %s: %w", in.PropertyID, err)
	}
	if err := s.gate.CanCreateContract(caller, prop).Err("create contract"); err != nil {
		return nil, err
	}
	if err := validateTerms(in.Terms); err != nil {
		return nil, err
	}

	student, err := s.store.Repos.Users(db).GetByID(ctx, in.StudentID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: student %s does not exist", common.ErrValidation, in.StudentID)
		}
		return nil, err
	}
	if student.Role != models.RoleStudent {
		return nil, fmt.Errorf("%w: user %s is not a student", common.ErrValidation, in.StudentID)
	}

	c, err := s.store.Repos.Contracts(db).Create(ctx, &models.Contract{
		PropertyID: prop.ID,
		OwnerID:    caller.ID,
		StudentID:  student.ID,
		Terms:      in.Terms,
		Status:     models.ContractPending,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating contract: %w", err)
	}

	s.logger.Info(ctx, "contract created", "contract_id", c.ID, "owner_id", c.OwnerID, "student_id", c.StudentID)
	return c, nil
}

func (s *ContractService) Get(ctx context.Context, caller *models.User, id string) (*models.Contract, error) {
	c, err := s.store.Repos.Contracts(s.store.DB).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CanView(caller, c).Err("view contract"); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *ContractService) ListMine(ctx context.Context, caller *models.User) ([]*models.Contract, error) {
	if caller == nil {
		return nil, common.ErrorUnauthorized
	}
	return s.store.Repos.Contracts(s.store.DB).ListByParty(ctx, caller.ID)
}

// Sign stores the signature image and records it for role. The second
// signature activates the contract in the same transaction; the activation
// update re-checks both signature columns, so concurrent signers cannot
// both miss it.
func (s *ContractService) Sign(ctx context.Context, caller *models.User, id string, role models.SignerRole, image []byte, contentType string) (*models.Contract, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown signer role %q", common.ErrValidation, role)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: signature image is empty", common.ErrValidation)
	}

	c, err := s.store.Repos.Contracts(s.store.DB).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CanSign(caller, c, role).Err("sign contract"); err != nil {
		return nil, err
	}
	if c.SignedBy(role) {
		return nil, fmt.Errorf("%s already signed: %w", role, common.ErrConflict)
	}
	if c.Status != models.ContractPending {
		return nil, fmt.Errorf("%w: cannot sign a %s contract", common.ErrInvalidState, c.Status)
	}

	key := storage.SignatureKey(c.ID, string(role))
	if err := s.blobs.Put(ctx, key, image, contentType); err != nil {
		return nil, fmt.Errorf("store signature: %w", err)
	}

	var (
		signed    *models.Contract
		activated bool
	)
	err = s.store.Tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.store.Repos.Contracts(tx)
		cur, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cur.SignedBy(role) {
			return fmt.Errorf("%s already signed: %w", role, common.ErrConflict)
		}
		if cur.Status != models.ContractPending {
			return fmt.Errorf("%w: cannot sign a %s contract", common.ErrInvalidState, cur.Status)
		}
		if err := repo.SetSignature(ctx, id, role, key, s.now()); err != nil {
			return err
		}
		if activated, err = repo.ActivateIfFullySigned(ctx, id); err != nil {
			return err
		}
		signed, err = repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		// The image was uploaded for a signature that was not recorded.
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), key); derr != nil {
			s.logger.Warn(ctx, "orphan signature image left in storage", "contract_id", id, "key", key, "error", derr)
		}
		return nil, err
	}

	s.logger.Info(ctx, "contract signed", "contract_id", id, "role", role)
	if activated {
		s.logger.Info(ctx, "contract activated", "contract_id", id)
	}
	return signed, nil
}

// UpdateTerms replaces the financial terms. Changing the terms of a pending
// contract voids signatures collected so far.
func (s *ContractService) UpdateTerms(ctx context.Context, caller *models.User, id string, terms models.Terms) (*models.Contract, error) {
	if err := validateTerms(terms); err != nil {
		return nil, err
	}

	var updated *models.Contract
	err := s.store.Tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.store.Repos.Contracts(tx)
		c, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.gate.CanEditTerms(caller, c).Err("edit contract terms"); err != nil {
			return err
		}
		if !lifecycle.TermsEditable(c.Status, c.IsEditable) {
			return fmt.Errorf("%w: terms of a %s contract are locked", common.ErrInvalidState, c.Status)
		}
		if c.StripeSubscriptionID != nil && rentChanged(c.Terms, terms) {
			return fmt.Errorf("%w: rent of a contract with an attached subscription cannot change", common.ErrInvalidState)
		}
		if err := repo.UpdateTerms(ctx, id, terms); err != nil {
			return err
		}
		if c.Status == models.ContractPending && (c.OwnerSignature != nil || c.StudentSignature != nil) {
			if err := repo.ClearSignatures(ctx, id); err != nil {
				return err
			}
		}
		updated, err = repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "contract terms updated", "contract_id", id)
	return updated, nil
}

// rentChanged reports whether the amount billed by a subscription differs.
func rentChanged(old, next models.Terms) bool {
	return !old.MonthlyRent.Equal(next.MonthlyRent) || !old.Charges.Equal(next.Charges)
}

// SetEditable toggles the owner's override that unlocks terms of an active
// contract.
func (s *ContractService) SetEditable(ctx context.Context, caller *models.User, id string, editable bool) (*models.Contract, error) {
	var updated *models.Contract
	err := s.store.Tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.store.Repos.Contracts(tx)
		c, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.gate.CanEditTerms(caller, c).Err("change editable flag"); err != nil {
			return err
		}
		if lifecycle.IsTerminal(c.Status) {
			return fmt.Errorf("%w: contract is %s", common.ErrInvalidState, c.Status)
		}
		if err := repo.SetEditable(ctx, id, editable); err != nil {
			return err
		}
		updated, err = repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

type gateFunc func(u *models.User, c *models.Contract) access.Decision

// transition applies event under a row lock and returns the contract
// before and after the change. Leaving active with a linked subscription
// parks the subscription in unlink_pending_ref in the same transaction, so
// the unlink is owed even if the process stops before it is attempted.
func (s *ContractService) transition(ctx context.Context, caller *models.User, id string, event lifecycle.Event, check gateFunc) (before, after *models.Contract, err error) {
	err = s.store.Tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.store.Repos.Contracts(tx)
		c, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := check(caller, c).Err(string(event) + " contract"); err != nil {
			return err
		}
		next, err := lifecycle.Next(c.Status, event)
		if err != nil {
			return err
		}
		if err := repo.TransitionStatus(ctx, id, c.Status, next); err != nil {
			return err
		}
		if c.Status == models.ContractActive && c.StripeSubscriptionID != nil {
			if err := repo.SetUnlinkPending(ctx, id, c.StripeSubscriptionID); err != nil {
				return err
			}
		}
		before = c
		after, err = repo.GetByID(ctx, id)
		return err
	})
	return before, after, err
}

// leaveActive runs the best-effort subscription unlink once a contract is
// no longer active. The contract keeps its new status whatever happens. The
// unlink outlives the caller's request; if it still fails, the ref parked by
// transition stays for ReconcileDetachments.
func (s *ContractService) leaveActive(ctx context.Context, before *models.Contract) *models.Contract {
	if before.Status != models.ContractActive || before.StripeSubscriptionID == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.detacher.DetachSubscription(ctx, before.ID); err != nil {
		s.logger.Warn(ctx, "subscription unlink failed, queued for reconciliation",
			"contract_id", before.ID, "subscription_id", *before.StripeSubscriptionID, "error", err)
	}
	c, err := s.store.Repos.Contracts(s.store.DB).GetByID(ctx, before.ID)
	if err != nil {
		s.logger.Error(ctx, "reload contract", "contract_id", before.ID, "error", err)
		return nil
	}
	return c
}

// Cancel ends a pending or active contract. Cancelling an active contract
// also tries to cancel its rent subscription; a provider failure is logged
// and does not undo the cancellation.
func (s *ContractService) Cancel(ctx context.Context, caller *models.User, id string) (*models.Contract, error) {
	before, after, err := s.transition(ctx, caller, id, lifecycle.EventCancel, s.gate.CanCancel)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "contract cancelled", "contract_id", id, "from", before.Status, "by", caller.ID)

	if c := s.leaveActive(ctx, before); c != nil {
		after = c
	}
	return after, nil
}

// Complete ends an active contract. Completing an already completed
// contract returns it unchanged.
func (s *ContractService) Complete(ctx context.Context, caller *models.User, id string) (*models.Contract, error) {
	c, err := s.store.Repos.Contracts(s.store.DB).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CanComplete(caller, c).Err("complete contract"); err != nil {
		return nil, err
	}
	if c.Status == models.ContractCompleted {
		return c, nil
	}

	before, after, err := s.transition(ctx, caller, id, lifecycle.EventComplete, s.gate.CanComplete)
	if err != nil {
		// Lost a race with another completion.
		if errors.Is(err, common.ErrInvalidState) {
			if cur, gerr := s.store.Repos.Contracts(s.store.DB).GetByID(ctx, id); gerr == nil && cur.Status == models.ContractCompleted {
				return cur, nil
			}
		}
		return nil, err
	}
	s.logger.Info(ctx, "contract completed", "contract_id", id, "by", caller.ID)

	if c := s.leaveActive(ctx, before); c != nil {
		after = c
	}
	return after, nil
}

// CompleteExpired completes active contracts whose end date lies before the
// day of now. It returns how many were completed.
func (s *ContractService) CompleteExpired(ctx context.Context, now time.Time) (int, error) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	expired, err := s.store.Repos.Contracts(s.store.DB).ListExpiredActive(ctx, day, expiredBatchSize)
	if err != nil {
		return 0, err
	}

	system := models.SystemUser()
	done := 0
	for _, c := range expired {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if _, err := s.Complete(ctx, system, c.ID); err != nil {
			s.logger.Warn(ctx, "complete expired contract", "contract_id", c.ID, "error", err)
			continue
		}
		done++
	}
	if done > 0 {
		s.logger.Info(ctx, "expired contracts completed", "count", done)
	}
	return done, nil
}

// SignatureURL returns a short-lived download link for a signature image.
func (s *ContractService) SignatureURL(ctx context.Context, caller *models.User, id string, role models.SignerRole) (string, error) {
	c, err := s.Get(ctx, caller, id)
	if err != nil {
		return "", err
	}
	var key *string
	switch role {
	case models.SignerOwner:
		key = c.OwnerSignature
	case models.SignerStudent:
		key = c.StudentSignature
	default:
		return "", fmt.Errorf("%w: unknown signer role %q", common.ErrValidation, role)
	}
	if key == nil {
		return "", common.ErrorNotFound
	}
	return s.blobs.PresignGet(ctx, *key)
}
