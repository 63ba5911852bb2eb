package jobs

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmehdipour/outreach-mailer/internal/model"
	"github.com/jmehdipour/outreach-mailer/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time                       { return c.t }
func (c fixedClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

func newService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	db := sqlx.NewDb(raw, "mysql")
	s := New(db, repository.NewOutboxRepository(db), "")
	s.clock = fixedClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return s, mock
}

func validJob(lead int64) model.SendJob {
	return model.SendJob{
		LeadID:         lead,
		CampaignLeadID: lead * 10,
		CampaignStepID: 3,
		Email:          model.EmailPayload{Recipient: "a@example.com", Subject: "s", Body: "b"},
	}
}

// payloadOf checks the outbox payload is the job stamped with the service clock.
type payloadOf struct{ lead int64 }

func (p payloadOf) Match(v driver.Value) bool {
	b, ok := v.([]byte)
	if !ok {
		return false
	}
	var j model.SendJob
	if err := json.Unmarshal(b, &j); err != nil {
		return false
	}
	return j.LeadID == p.lead && j.EnqueuedAt.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
}

func TestEnqueueWritesOutboxInOneTransaction(t *testing.T) {
	t.Parallel()

	s, mock := newService(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs("send_job", sqlmock.AnyArg(), DefaultSendTopic, payloadOf{lead: 1}).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs("send_job", sqlmock.AnyArg(), DefaultSendTopic, payloadOf{lead: 2}).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	ids, err := s.Enqueue(context.Background(), validJob(1), validJob(2))
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.NotEqual(t, ids[0], ids[1])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueRejectsInvalidJobWithoutTouchingDB(t *testing.T) {
	t.Parallel()

	s, mock := newService(t)
	bad := validJob(1)
	bad.Email.Recipient = " "

	_, err := s.Enqueue(context.Background(), validJob(2), bad)
	require.ErrorIs(t, err, model.ErrInvalidJob)

	_, err = s.Enqueue(context.Background())
	require.ErrorIs(t, err, model.ErrInvalidJob)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueRollsBackOnInsertError(t *testing.T) {
	t.Parallel()

	s, mock := newService(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox").WillReturnError(errors.New("table is read only"))
	mock.ExpectRollback()

	_, err := s.Enqueue(context.Background(), validJob(1))
	var pe *repository.PersistenceError
	require.ErrorAs(t, err, &pe)
	require.NoError(t, mock.ExpectationsWereMet())
}
