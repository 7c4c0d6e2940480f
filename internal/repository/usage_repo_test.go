package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"quotaledger/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordUsage_MessageIncrementsInStorage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(`messages_sent = messages_sent \+ 1`).
		WithArgs("u1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO usage_events").
		WithArgs(sqlmock.AnyArg(), "u1", "message_sent", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = NewUsageRepo(db).RecordUsage(context.Background(), "u1", model.ActionMessage, at)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordUsage_DocumentUsesDocumentCounter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(`documents_uploaded = documents_uploaded \+ 1`).
		WithArgs("u1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO usage_events").
		WithArgs(sqlmock.AnyArg(), "u1", "document_uploaded", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = NewUsageRepo(db).RecordUsage(context.Background(), "u1", model.ActionDocument, at)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordUsage_MissingAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(`messages_sent = messages_sent \+ 1`).
		WithArgs("ghost", at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = NewUsageRepo(db).RecordUsage(context.Background(), "ghost", model.ActionMessage, at)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordUsage_EventInsertFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(`messages_sent = messages_sent \+ 1`).
		WithArgs("u1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO usage_events").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err = NewUsageRepo(db).RecordUsage(context.Background(), "u1", model.ActionMessage, at)
	assert.ErrorContains(t, err, "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsageEvents_Since(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	since := time.Now().UTC().Add(-7 * 24 * time.Hour)
	ts := since.Add(time.Hour)
	mock.ExpectQuery("SELECT (.+) FROM usage_events WHERE occurred_at").
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "event_type", "occurred_at"}).
			AddRow("e1", "u1", "message_sent", ts))

	events, err := NewUsageRepo(db).ListUsageEvents(context.Background(), &since)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventMessageSent, events[0].EventType)
	assert.NoError(t, mock.ExpectationsWereMet())
}
