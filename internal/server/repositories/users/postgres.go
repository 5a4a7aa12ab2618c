// Package users provides a PostgreSQL-backed repository for platform accounts.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/dbx"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
)

const userColumns = `id, email, password_hash, role, email_verified, phone_verified,
	is_banned, banned_until, is_muted, muted_until,
	kyc_status, kyc_document_key, kyc_reject_reason,
	stripe_customer_id, stripe_account_id, payment_ready, created_at`

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	var role, kyc string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &u.EmailVerified, &u.PhoneVerified,
		&u.IsBanned, &u.BannedUntil, &u.IsMuted, &u.MutedUntil,
		&kyc, &u.KYCDocumentKey, &u.KYCRejectReason,
		&u.StripeCustomerID, &u.StripeAccountID, &u.PaymentReady, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	u.Role = models.Role(role)
	u.KYCStatus = models.KYCStatus(kyc)
	return u, nil
}

func (r *PostgresRepository) Create(ctx context.Context, u *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (email, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, u.Email, u.PasswordHash, string(u.Role)).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err, "users_email_key") {
			return nil, fmt.Errorf("email %q: %w", u.Email, common.ErrConflict)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	u.KYCStatus = models.KYCNone
	return u, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// execOne runs an UPDATE that must touch exactly one user row.
func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) SetKYC(ctx context.Context, id string, status models.KYCStatus, documentKey, rejectReason string) error {
	query := `
		UPDATE users
		SET kyc_status = $2, kyc_document_key = $3, kyc_reject_reason = $4
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, string(status), documentKey, rejectReason)
}

func (r *PostgresRepository) SetModeration(ctx context.Context, id string, m Moderation) error {
	query := `
		UPDATE users
		SET is_banned = $2, banned_until = $3, is_muted = $4, muted_until = $5
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, m.IsBanned, m.BannedUntil, m.IsMuted, m.MutedUntil)
}

func (r *PostgresRepository) SetStripeCustomerID(ctx context.Context, id, customerID string) error {
	return r.execOne(ctx, `UPDATE users SET stripe_customer_id = $2 WHERE id = $1`, id, customerID)
}

func (r *PostgresRepository) SetStripeAccountID(ctx context.Context, id, accountID string) error {
	return r.execOne(ctx, `UPDATE users SET stripe_account_id = $2, payment_ready = FALSE WHERE id = $1`, id, accountID)
}

func (r *PostgresRepository) SetPaymentReadyByAccount(ctx context.Context, accountID string, ready bool) (bool, error) {
	err := r.execOne(ctx, `UPDATE users SET payment_ready = $2 WHERE stripe_account_id = $1`, accountID, ready)
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
