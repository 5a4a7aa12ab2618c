package payments

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/studyrent/internal/common"
	"github.com/dmitrijs2005/studyrent/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

var cols = []string{"id", "contract_id", "payment_type", "amount", "payment_status",
	"provider_ref", "failure_reason", "created_at", "paid_at"}

func TestCreate(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now()
	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+payments\s*\(id,\s*contract_id.*RETURNING\s+created_at$`).
		WithArgs("pay1", "c1", "deposit", sqlmock.AnyArg(), "pending", "pi_1", nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	p, err := repo.Create(context.Background(), &models.Payment{
		ID: "pay1", ContractID: "c1", Type: models.PaymentDeposit,
		Amount: decimal.NewFromInt(1500), Status: models.PaymentPending, ProviderRef: "pi_1",
	})
	require.NoError(t, err)
	assert.Equal(t, now, p.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DuplicateRef(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`INSERT\s+INTO\s+payments`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "payments_provider_ref_key"})

	_, err := repo.Create(context.Background(), &models.Payment{ID: "p", ProviderRef: "pi_1"})
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestGetByProviderRefForUpdate(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	paid := time.Now()
	mock.ExpectQuery(`(?s)FROM\s+payments\s+WHERE\s+provider_ref\s*=\s*\$1\s+FOR\s+UPDATE$`).
		WithArgs("pi_1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("pay1", "c1", "deposit", "1500.00", "succeeded", "pi_1", nil, time.Now(), paid))

	p, err := repo.GetByProviderRefForUpdate(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSucceeded, p.Status)
	assert.Equal(t, models.PaymentDeposit, p.Type)
	require.NotNil(t, p.PaidAt)
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(1500)))
}

func TestGetByProviderRef_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`FROM\s+payments`).WillReturnRows(sqlmock.NewRows(cols))

	_, err := repo.GetByProviderRef(context.Background(), "pi_x")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestUpdateStatus_SecondSucceededDeposit(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`UPDATE\s+payments\s+SET\s+payment_status`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "payments_one_deposit_success"})

	now := time.Now()
	err := repo.UpdateStatus(context.Background(), "pay2", models.PaymentSucceeded, nil, &now)
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestHasSucceededDeposit(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`(?s)SELECT\s+EXISTS.*payment_type\s*=\s*'deposit'\s+AND\s+payment_status\s*=\s*\$2`).
		WithArgs("c1", "succeeded").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.HasSucceededDeposit(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHasPendingDeposit(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`(?s)SELECT\s+EXISTS.*payment_type\s*=\s*'deposit'`).
		WithArgs("c1", "pending").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := repo.HasPendingDeposit(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_PendingDepositConflict(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`UPDATE\s+payments`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "payments_one_deposit_pending"})

	err := repo.UpdateStatus(context.Background(), "pay1", models.PaymentPending, nil, nil)
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestListByContract(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`(?s)WHERE\s+contract_id\s*=\s*\$1\s+ORDER\s+BY\s+created_at`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("a", "c1", "deposit", "1500", "pending", "pi_1", nil, time.Now(), nil).
			AddRow("b", "c1", "monthly_rent", "800", "failed", "in_1", "card_declined", time.Now(), nil))

	list, err := repo.ListByContract(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NotNil(t, list[1].FailureReason)
	assert.Equal(t, "card_declined", *list[1].FailureReason)
}
