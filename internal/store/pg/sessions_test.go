package pg

import (
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osahq/osa/internal/providers"
)

func newMockStore(t *testing.T) (*SessionStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestAppend(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO session_messages").
		WithArgs(sqlmock.AnyArg(), "s1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.Append("s1", providers.Message{Role: "user", Content: "hello"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecallOrdersAndDecodes(t *testing.T) {
	st, mock := newMockStore(t)

	first, _ := json.Marshal(providers.Message{Role: "user", Content: "hi"})
	second, _ := json.Marshal(providers.Message{Role: "assistant", Content: "hey"})
	rows := sqlmock.NewRows([]string{"payload"}).AddRow(first).AddRow(second)
	mock.ExpectQuery("SELECT payload FROM session_messages").
		WithArgs("s1").
		WillReturnRows(rows)

	msgs, err := st.Recall("s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "hey", msgs[1].Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecallSkipsCorruptPayload(t *testing.T) {
	st, mock := newMockStore(t)

	good, _ := json.Marshal(providers.Message{Role: "user", Content: "kept"})
	rows := sqlmock.NewRows([]string{"payload"}).
		AddRow([]byte("not json")).
		AddRow(good)
	mock.ExpectQuery("SELECT payload FROM session_messages").
		WithArgs("s1").
		WillReturnRows(rows)

	msgs, err := st.Recall("s1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "kept", msgs[0].Content)
}

func TestRewriteReplacesLogInTransaction(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM session_messages").
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO session_messages").
		WithArgs(sqlmock.AnyArg(), "s1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.Rewrite("s1", []providers.Message{{Role: "system", Content: "summary"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRewriteRollsBackOnInsertFailure(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM session_messages").
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO session_messages").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := st.Rewrite("s1", []providers.Message{{Role: "user", Content: "x"}})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
