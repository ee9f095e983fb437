package session

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perimeterlabs/shibgate/pkg/identity"
)

func testSession() *Session {
	now := time.Now()
	return &Session{
		ID:        "sess-1",
		UserID:    7,
		Username:  "alice",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestSQLStore_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewSQLStore(db, "postgres")

	sess := testSession()
	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(sess.ID, sess.UserID, sess.Username, sess.CreatedAt, sess.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Create(context.Background(), sess))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewSQLStore(db, "postgres")

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM sessions").
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "username", "created_at", "expires_at"}).
			AddRow("sess-1", int64(7), "alice", now, now.Add(time.Hour)))

	sess, err := store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, int64(7), sess.UserID)
	assert.Equal(t, "alice", sess.Username)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Get_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewSQLStore(db, "postgres")

	mock.ExpectQuery("SELECT (.+) FROM sessions").
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	sess, err := store.Get(context.Background(), "gone")
	require.NoError(t, err)
	assert.Nil(t, sess)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DeleteExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewSQLStore(db, "postgres")

	mock.ExpectExec("DELETE FROM sessions WHERE expires_at").
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := store.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Rebind(t *testing.T) {
	store := NewSQLStore(nil, "sqlite3")
	assert.Equal(t, "DELETE FROM sessions WHERE id = ?", store.rebind("DELETE FROM sessions WHERE id = $1"))
	assert.Equal(t, "VALUES (?, ?, ?)", store.rebind("VALUES ($1, $2, $3)"))

	pg := NewSQLStore(nil, "postgres")
	assert.Equal(t, "DELETE FROM sessions WHERE id = $1", pg.rebind("DELETE FROM sessions WHERE id = $1"))
}

// Exercises the full round trip against real SQLite, including expiry.
func TestSQLStore_SQLite(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:?_fk=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, identity.InitSchema(ctx, db, "sqlite3"))

	idStore := identity.NewSQLiteStore(db)
	user, err := idStore.CreateUser(ctx, &identity.User{Username: "alice"})
	require.NoError(t, err)

	store := NewSQLStore(db, "sqlite3")

	now := time.Now().UTC()
	live := &Session{ID: "live", UserID: user.ID, Username: "alice", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	expired := &Session{ID: "expired", UserID: user.ID, Username: "alice", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	require.NoError(t, store.Create(ctx, live))
	require.NoError(t, store.Create(ctx, expired))

	sess, err := store.Get(ctx, "live")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, user.ID, sess.UserID)

	sess, err = store.Get(ctx, "expired")
	require.NoError(t, err)
	assert.Nil(t, sess)

	removed, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	require.NoError(t, store.Delete(ctx, "live"))
	sess, err = store.Get(ctx, "live")
	require.NoError(t, err)
	assert.Nil(t, sess)
}
