package payments

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

const paymentColumns = `id, contract_id, payment_type, amount, payment_status,
	provider_ref, failure_reason, created_at, paid_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanPayment(row interface{ Scan(...any) error }) (*models.Payment, error) {
	p := &models.Payment{}
	var typ, status string
	if err := row.Scan(&p.ID, &p.ContractID, &typ, &p.Amount, &status,
		&p.ProviderRef, &p.FailureReason, &p.CreatedAt, &p.PaidAt); err != nil {
		return nil, err
	}
	p.Type = models.PaymentType(typ)
	p.Status = models.PaymentStatus(status)
	return p, nil
}

func (r *PostgresRepository) Create(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	query := `
		INSERT INTO payments (id, contract_id, payment_type, amount, payment_status, provider_ref, failure_reason, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query, p.ID, p.ContractID, string(p.Type), p.Amount,
		string(p.Status), p.ProviderRef, p.FailureReason, p.PaidAt).Scan(&p.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err, "") {
			return nil, fmt.Errorf("payment %s: %w", p.ProviderRef, common.ErrConflict)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, args ...any) (*models.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) GetByProviderRef(ctx context.Context, ref string) (*models.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE provider_ref = $1`, ref)
}

func (r *PostgresRepository) GetByProviderRefForUpdate(ctx context.Context, ref string) (*models.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE provider_ref = $1 FOR UPDATE`, ref)
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status models.PaymentStatus, failureReason *string, paidAt *time.Time) error {
	query := `
		UPDATE payments
		SET payment_status = $2, failure_reason = $3, paid_at = $4
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, string(status), failureReason, paidAt)
	if err != nil {
		if dbx.IsUniqueViolation(err, "payments_one_deposit_success") {
			return fmt.Errorf("deposit already paid: %w", common.ErrConflict)
		}
		if dbx.IsUniqueViolation(err, "payments_one_deposit_pending") {
			return fmt.Errorf("another deposit is in progress: %w", common.ErrConflict)
		}
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

func (r *PostgresRepository) HasSucceededDeposit(ctx context.Context, contractID string) (bool, error) {
	return r.depositExists(ctx, contractID, models.PaymentSucceeded)
}

func (r *PostgresRepository) HasPendingDeposit(ctx context.Context, contractID string) (bool, error) {
	return r.depositExists(ctx, contractID, models.PaymentPending)
}

func (r *PostgresRepository) depositExists(ctx context.Context, contractID string, status models.PaymentStatus) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM payments
			WHERE contract_id = $1 AND payment_type = 'deposit' AND payment_status = $2
		)
	`
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, contractID, string(status)).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

func (r *PostgresRepository) ListByContract(ctx context.Context, contractID string) ([]*models.Payment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE contract_id = $1
		ORDER BY created_at`, contractID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
