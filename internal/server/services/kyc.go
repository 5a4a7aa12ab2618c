package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/dbx"
	"github.com/dmitrijs2005/studyrent/internal/logging"
	"github.com/dmitrijs2005/studyrent/internal/server/access"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
	"github.com/dmitrijs2005/studyrent/internal/server/storage"
)

// KYCService runs identity verification: users upload a document straight
// to object storage, submit its key, and an admin approves or rejects it.
type KYCService struct {
	store  Store
	gate   *access.Gate
	blobs  storage.BlobStore
	logger logging.Logger
	now    func() time.Time
}

func NewKYCService(store Store, gate *access.Gate, blobs storage.BlobStore, logger logging.Logger) *KYCService {
	return &KYCService{
		store:  store,
		gate:   gate,
		blobs:  blobs,
		logger: logger.With("module", "kyc"),
		now:    time.Now,
	}
}

// DocumentUploadURL issues a storage key and a presigned PUT URL for it.
func (s *KYCService) DocumentUploadURL(ctx context.Context, caller *models.User) (string, string, error) {
	if err := s.gate.CanSubmitKYC(caller).Err("upload kyc document"); err != nil {
		return "", "", err
	}

	key := storage.KYCDocumentKey(caller.ID, s.now())
	url, err := s.blobs.PresignPut(ctx, key)
	if err != nil {
		return "", "", fmt.Errorf("presign kyc upload: %w", err)
	}
	return key, url, nil
}

// Submit moves the caller to pending review. Only a fresh or rejected
// verification can be submitted.
func (s *KYCService) Submit(ctx context.Context, caller *models.User, documentKey string) (*models.User, error) {
	if err := s.gate.CanSubmitKYC(caller).Err("submit kyc"); err != nil {
		return nil, err
	}
	if !storage.OwnsKYCKey(caller.ID, documentKey) {
		return nil, fmt.Errorf("%w: document key was not issued to this user", common.ErrValidation)
	}

	var updated *models.User
	err := s.store.Tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.store.Repos.Users(tx)
		u, err := repo.GetByID(ctx, caller.ID)
		if err != nil {
			return err
		}
		if u.KYCStatus != models.KYCNone && u.KYCStatus != models.KYCRejected {
			return fmt.Errorf("%w: kyc is %s", common.ErrInvalidState, u.KYCStatus)
		}
		if err := repo.SetKYC(ctx, u.ID, models.KYCPending, documentKey, ""); err != nil {
			return err
		}
		updated, err = repo.GetByID(ctx, u.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "kyc submitted", "user_id", caller.ID)
	return updated, nil
}

// Review decides a pending verification. A rejection needs a reason.
func (s *KYCService) Review(ctx context.Context, caller *models.User, userID string, approve bool, reason string) (*models.User, error) {
	if err := s.gate.CanModerate(caller).Err("review kyc"); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if !approve && reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", common.ErrValidation)
	}

	var updated *models.User
	err := s.store.Tx.InTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.store.Repos.Users(tx)
		u, err := repo.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if u.KYCStatus != models.KYCPending {
			return fmt.Errorf("%w: kyc is %s", common.ErrInvalidState, u.KYCStatus)
		}

		status := models.KYCVerified
		if !approve {
			status = models.KYCRejected
		} else {
			reason = ""
		}
		if err := repo.SetKYC(ctx, u.ID, status, u.KYCDocumentKey, reason); err != nil {
			return err
		}
		updated, err = repo.GetByID(ctx, u.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "kyc reviewed", "user_id", userID, "status", updated.KYCStatus, "admin_id", caller.ID)
	return updated, nil
}

// DocumentURL lets an admin fetch the submitted document of userID.
func (s *KYCService) DocumentURL(ctx context.Context, caller *models.User, userID string) (string, error) {
	if err := s.gate.CanModerate(caller).Err("view kyc document"); err != nil {
		return "", err
	}
	u, err := s.store.Repos.Users(s.store.DB).GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.KYCDocumentKey == "" {
		return "", common.ErrorNotFound
	}
	return s.blobs.PresignGet(ctx, u.KYCDocumentKey)
}
