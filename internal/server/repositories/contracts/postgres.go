package contracts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/dbx"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
)

const contractColumns = `id, property_id, owner_id, student_id,
	monthly_rent, charges, deposit_amount, start_date, end_date,
	owner_signature, owner_signed_at, student_signature, student_signed_at,
	stripe_subscription_id, deposit_payment_id, unlink_pending_ref,
	status, is_editable, created_at, updated_at`

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface{ Scan(...any) error }

func scanContract(row scanner) (*models.Contract, error) {
	c := &models.Contract{}
	var status string
	err := row.Scan(&c.ID, &c.PropertyID, &c.OwnerID, &c.StudentID,
		&c.MonthlyRent, &c.Charges, &c.DepositAmount, &c.StartDate, &c.EndDate,
		&c.OwnerSignature, &c.OwnerSignedAt, &c.StudentSignature, &c.StudentSignedAt,
		&c.StripeSubscriptionID, &c.DepositPaymentID, &c.UnlinkPendingRef,
		&status, &c.IsEditable, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = models.ContractStatus(status)
	return c, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*models.Contract, error) {
	c, err := scanContract(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.Contract, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	n, err := r.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, c *models.Contract) (*models.Contract, error) {
	query := `
		INSERT INTO contracts (property_id, owner_id, student_id,
			monthly_rent, charges, deposit_amount, start_date, end_date, status, is_editable)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, c.PropertyID, c.OwnerID, c.StudentID,
		c.MonthlyRent, c.Charges, c.DepositAmount, c.StartDate, c.EndDate,
		string(c.Status), c.IsEditable).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Contract, error) {
	return r.getOne(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.Contract, error) {
	return r.getOne(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) GetBySubscription(ctx context.Context, subscriptionRef string) (*models.Contract, error) {
	return r.getOne(ctx, `SELECT `+contractColumns+` FROM contracts WHERE stripe_subscription_id = $1`, subscriptionRef)
}

func (r *PostgresRepository) ListByParty(ctx context.Context, userID string) ([]*models.Contract, error) {
	return r.list(ctx, `SELECT `+contractColumns+` FROM contracts
		WHERE owner_id = $1 OR student_id = $1
		ORDER BY created_at DESC`, userID)
}

func (r *PostgresRepository) UpdateTerms(ctx context.Context, id string, t models.Terms) error {
	query := `
		UPDATE contracts
		SET monthly_rent = $2, charges = $3, deposit_amount = $4, start_date = $5, end_date = $6, updated_at = now()
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, t.MonthlyRent, t.Charges, t.DepositAmount, t.StartDate, t.EndDate)
}

func (r *PostgresRepository) SetEditable(ctx context.Context, id string, editable bool) error {
	return r.execOne(ctx, `UPDATE contracts SET is_editable = $2, updated_at = now() WHERE id = $1`, id, editable)
}

func (r *PostgresRepository) SetSignature(ctx context.Context, id string, role models.SignerRole, ref string, at time.Time) error {
	var query string
	switch role {
	case models.SignerOwner:
		query = `UPDATE contracts SET owner_signature = $2, owner_signed_at = $3, updated_at = now()
			WHERE id = $1 AND owner_signature IS NULL`
	case models.SignerStudent:
		query = `UPDATE contracts SET student_signature = $2, student_signed_at = $3, updated_at = now()
			WHERE id = $1 AND student_signature IS NULL`
	default:
		return fmt.Errorf("signer role %q: %w", role, common.ErrValidation)
	}
	n, err := r.exec(ctx, query, id, ref, at)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s already signed: %w", role, common.ErrConflict)
	}
	return nil
}

func (r *PostgresRepository) ClearSignatures(ctx context.Context, id string) error {
	query := `
		UPDATE contracts
		SET owner_signature = NULL, owner_signed_at = NULL,
			student_signature = NULL, student_signed_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`
	n, err := r.exec(ctx, query, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("contract %s is not pending: %w", id, common.ErrInvalidState)
	}
	return nil
}

func (r *PostgresRepository) ActivateIfFullySigned(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE contracts SET status = 'active', updated_at = now()
		WHERE id = $1 AND status = 'pending'
			AND owner_signature IS NOT NULL AND student_signature IS NOT NULL
	`
	n, err := r.exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepository) TransitionStatus(ctx context.Context, id string, from, to models.ContractStatus) error {
	query := `UPDATE contracts SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`
	n, err := r.exec(ctx, query, id, string(from), string(to))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("contract %s is no longer %s: %w", id, from, common.ErrInvalidState)
	}
	return nil
}

func (r *PostgresRepository) SetSubscription(ctx context.Context, id string, ref *string) error {
	err := r.execOne(ctx, `UPDATE contracts SET stripe_subscription_id = $2, updated_at = now() WHERE id = $1`, id, ref)
	if dbx.IsUniqueViolation(err, "contracts_subscription_idx") {
		return fmt.Errorf("subscription already linked: %w", common.ErrConflict)
	}
	return err
}

func (r *PostgresRepository) SetDepositPayment(ctx context.Context, id, paymentID string) error {
	return r.execOne(ctx, `UPDATE contracts SET deposit_payment_id = $2, updated_at = now() WHERE id = $1`, id, paymentID)
}

func (r *PostgresRepository) SetUnlinkPending(ctx context.Context, id string, ref *string) error {
	return r.execOne(ctx, `UPDATE contracts SET unlink_pending_ref = $2, updated_at = now() WHERE id = $1`, id, ref)
}

func (r *PostgresRepository) ListUnlinkPending(ctx context.Context, limit int) ([]*models.Contract, error) {
	return r.list(ctx, `SELECT `+contractColumns+` FROM contracts
		WHERE unlink_pending_ref IS NOT NULL
		ORDER BY updated_at
		LIMIT $1`, limit)
}

func (r *PostgresRepository) ListExpiredActive(ctx context.Context, before time.Time, limit int) ([]*models.Contract, error) {
	return r.list(ctx, `SELECT `+contractColumns+` FROM contracts
		WHERE status = 'active' AND end_date < $1
		ORDER BY end_date
		LIMIT $2`, before, limit)
}
