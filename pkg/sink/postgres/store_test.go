package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/msgbridge/pkg/sink"
)

const (
	pgTestSession = "tenant-1"
	pgTestDBError = "db error"
)

var pgTestNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := New(db)
	store.now = func() time.Time { return pgTestNow }
	return store, mock
}

func TestExternalID_Stable(t *testing.T) {
	a := ExternalID(pgTestSession)
	b := ExternalID(pgTestSession)
	c := ExternalID("tenant-2")

	assert.Equal(t, a, b, "same session id derives the same external id")
	assert.NotEqual(t, a, c)
}

func TestStore_Upsert(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("INSERT INTO session_status").
		WithArgs(
			ExternalID(pgTestSession), pgTestSession, "connected",
			[]byte(nil), "15551234", pgTestNow,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Upsert(context.Background(), pgTestSession, sink.Update{
		Status:   "connected",
		Identity: "15551234",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertWithArtifact(t *testing.T) {
	store, mock := newTestStore(t)
	artifact := []byte{0x89, 'P', 'N', 'G'}

	mock.ExpectExec("INSERT INTO session_status").
		WithArgs(
			ExternalID(pgTestSession), pgTestSession, "qr",
			artifact, "", pgTestNow,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Upsert(context.Background(), pgTestSession, sink.Update{
		Status:   "qr",
		Artifact: artifact,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertError(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("INSERT INTO session_status").
		WillReturnError(errors.New(pgTestDBError))

	err := store.Upsert(context.Background(), pgTestSession, sink.Update{Status: "ready"})
	assert.ErrorContains(t, err, pgTestDBError)
}

func TestStore_Get(t *testing.T) {
	store, mock := newTestStore(t)

	rows := sqlmock.NewRows([]string{"external_id", "session_id", "status", "artifact", "identity", "updated_at"}).
		AddRow(ExternalID(pgTestSession), pgTestSession, "ready", nil, "15551234", pgTestNow)

	mock.ExpectQuery("SELECT external_id, session_id, status, artifact, identity, updated_at FROM session_status").
		WithArgs(pgTestSession).
		WillReturnRows(rows)

	row, err := store.Get(context.Background(), pgTestSession)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "ready", row.Status)
	assert.Equal(t, ExternalID(pgTestSession), row.ExternalID)
	assert.Equal(t, "15551234", row.Identity)
}

func TestStore_GetNotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT external_id, session_id, status, artifact, identity, updated_at FROM session_status").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"external_id", "session_id", "status", "artifact", "identity", "updated_at"}))

	row, err := store.Get(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestStore_Delete(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("DELETE FROM session_status").
		WithArgs(pgTestSession).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), pgTestSession))
	assert.NoError(t, mock.ExpectationsWereMet())
}
