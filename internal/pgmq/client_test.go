package pgmq

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendJSON(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT pgmq.send`).
		WithArgs("usage_retry_queue", `{"user_id":"u1"}`, 0).
		WillReturnRows(sqlmock.NewRows([]string{"send"}).AddRow(int64(42)))

	id, err := New(db).SendJSON(context.Background(), "usage_retry_queue", map[string]string{"user_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadWithPoll(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Now().UTC()
	mock.ExpectQuery(`FROM pgmq.read_with_poll`).
		WithArgs("q", 60, 10, 30).
		WillReturnRows(sqlmock.NewRows([]string{"msg_id", "read_ct", "enqueued_at", "message"}).
			AddRow(int64(1), 2, at, []byte(`{"a":1}`)))

	msgs, err := New(db).ReadWithPoll(context.Background(), "q", time.Minute, 30*time.Second, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 2, msgs[0].ReadCount)
	assert.JSONEq(t, `{"a":1}`, string(msgs[0].Data))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`SELECT pgmq.delete`).
		WithArgs("q", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, New(db).Delete(context.Background(), "q", 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}
