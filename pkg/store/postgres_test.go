package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GHOSTCODERRRRAHAHA/edon-gateway/pkg/contracts"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := &Store{
		db:     db,
		driver: DriverPostgres,
		nowFn:  func() time.Time { return time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC) },
	}
	return s, mock
}

func TestPostgresPlaceholdersRewritten(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"value"}).AddRow(int64(41))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM counters WHERE key = $1`)).
		WithArgs("rate_limit:agent-1:minute:202506101000").
		WillReturnRows(rows)

	v, err := s.GetCounter(ctx, "rate_limit:agent-1:minute:202506101000")
	assert.NoError(t, err)
	assert.Equal(t, int64(41), v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIncrementCounter(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"value"}).AddRow(int64(3))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO counters`)).
		WithArgs("rate_limit:agent-1:hour:2025061010", int64(1), "2025-06-10T10:00:00Z").
		WillReturnRows(rows)

	v, err := s.IncrementCounter(ctx, "rate_limit:agent-1:hour:2025061010", 1)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A failed audit insert rolls the transaction back and surfaces the
// error so callers can report the decision as unpersisted.
func TestSaveAuditEventInsertFailureRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO audit_events`)).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	ts := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	_, err := s.SaveAuditEvent(ctx, testEvent("act-1", ts, contracts.VerdictAllow, contracts.ReasonApproved))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert audit event")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAuditEventDecisionFailureRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO audit_events`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO decisions`)).
		WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	ts := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	_, err := s.SaveAuditEvent(ctx, testEvent("act-1", ts, contracts.VerdictAllow, contracts.ReasonApproved))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert decision row")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAuditEventCommitsBothRows(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO audit_events`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO decisions`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ts := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	decisionID, err := s.SaveAuditEvent(ctx, testEvent("act-1", ts, contracts.VerdictAllow, contracts.ReasonApproved))
	require.NoError(t, err)
	assert.Equal(t, contracts.DecisionID("act-1", ts), decisionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
