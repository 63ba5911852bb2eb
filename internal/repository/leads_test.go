package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestMarkContacted(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	mock.ExpectExec("UPDATE leads\\s+SET status = 'contacted'").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewLeadsRepository(db).MarkContacted(context.Background(), 5))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkUnsubscribed(t *testing.T) {
	t.Parallel()

	db, mock := newMock(t)
	mock.ExpectExec("UPDATE leads\\s+SET status = 'unsubscribed'").
		WithArgs(int64(6)).
		WillReturnError(errors.New("deadlock"))

	err := NewLeadsRepository(db).MarkUnsubscribed(context.Background(), 6)
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "mark lead unsubscribed", pe.Op)
	require.NoError(t, mock.ExpectationsWereMet())
}
