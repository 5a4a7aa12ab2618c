package webhookevents

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkProcessed_Dedup(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepository(db)

	q := `(?s)^INSERT\s+INTO\s+webhook_events.*ON\s+CONFLICT\s*\(event_id\)\s+DO\s+NOTHING$`
	mock.ExpectExec(q).WithArgs("evt_1", "invoice.paid").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("evt_1", "invoice.paid").WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := repo.MarkProcessed(context.Background(), "evt_1", "invoice.paid")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := repo.MarkProcessed(context.Background(), "evt_1", "invoice.paid")
	require.NoError(t, err)
	assert.False(t, again)
}

func TestSeen(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepository(db)

	mock.ExpectQuery(`SELECT\s+EXISTS`).WithArgs("evt_1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT\s+EXISTS`).WithArgs("evt_2").
		WillReturnError(errors.New("db down"))

	seen, err := repo.Seen(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	_, err = repo.Seen(context.Background(), "evt_2")
	assert.ErrorContains(t, err, "db down")
}
