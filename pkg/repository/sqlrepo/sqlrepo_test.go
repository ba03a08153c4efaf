package sqlrepo

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ledger/pkg/entity"
	"github.com/platinummonkey/ledger/pkg/sentinel"
)

var added = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newUser() *entity.User { return &entity.User{} }

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func newMockRepo(t *testing.T) (*Repository[*entity.User], sqlmock.Sqlmock) {
	db, mock := setupMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnResult(sqlmock.NewResult(0, 0))
	repo, err := New(context.Background(), db, "users", newUser)
	require.NoError(t, err)
	return repo, mock
}

func TestNew(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		_, mock := newMockRepo(t)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		_, err := New(context.Background(), nil, "users", newUser)
		assert.True(t, errors.Is(err, sentinel.ErrConfiguration))
	})

	t.Run("invalid table", func(t *testing.T) {
		db, _ := setupMockDB(t)
		_, err := New(context.Background(), db, "users; DROP TABLE x", newUser)
		assert.True(t, errors.Is(err, sentinel.ErrConfiguration))
	})

	t.Run("table creation error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnError(errors.New("permission denied"))
		_, err := New(context.Background(), db, "users", newUser)
		assert.ErrorContains(t, err, "failed to ensure table users")
	})
}

func TestRepository_Save(t *testing.T) {
	repo, mock := newMockRepo(t)
	u := &entity.User{Base: entity.Base{ID: "u1", Added: added}, Username: "alice"}

	mock.ExpectExec(`INSERT INTO users \(id, added, deleted, body\) VALUES`).
		WithArgs("u1", added, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	saved, err := repo.Save(context.Background(), "u1", u, true)
	require.NoError(t, err)
	assert.Equal(t, "alice", saved.Username)
	assert.NotSame(t, u, saved)

	t.Run("update upserts", func(t *testing.T) {
		mock.ExpectExec("ON CONFLICT \\(id\\) DO UPDATE").
			WithArgs("u1", added, nil, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := repo.Save(context.Background(), "u1", u, false)
		require.NoError(t, err)
	})

	t.Run("postgres duplicate", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO users").WillReturnError(&pq.Error{Code: "23505"})

		_, err := repo.Save(context.Background(), "u1", u, true)
		assert.True(t, errors.Is(err, sentinel.ErrDuplicate))
	})

	t.Run("sqlite duplicate", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO users").WillReturnError(errors.New("UNIQUE constraint failed: users.id"))

		_, err := repo.Save(context.Background(), "u1", u, true)
		assert.True(t, errors.Is(err, sentinel.ErrDuplicate))
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO users").WillReturnError(errors.New("connection reset"))

		_, err := repo.Save(context.Background(), "u1", u, true)
		assert.True(t, errors.Is(err, sentinel.ErrDatabase))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_FindByID(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT body FROM users WHERE id = \\$1").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(`{"id":"u1","username":"alice"}`))

	u, ok, err := repo.FindByID(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", u.Username)

	mock.ExpectQuery("SELECT body FROM users").WithArgs("missing").WillReturnError(sql.ErrNoRows)
	_, ok, err = repo.FindByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectQuery("SELECT body FROM users").WithArgs("bad").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(`not json`))
	_, _, err = repo.FindByID(context.Background(), "bad")
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_QueryPage(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"body"}).
			AddRow(`{"id":"u1","username":"a"}`).
			AddRow(`{"id":"u2","username":"b","deleted":"2024-01-03T00:00:00Z"}`).
			AddRow(`{"id":"u3","username":"c"}`)
	}

	mock.ExpectQuery("SELECT body FROM users ORDER BY added ASC").WillReturnRows(rows())
	active, err := repo.Query(context.Background(), func(u *entity.User) bool { return !u.IsSoftDeleted() })
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "u3", active[1].ID)

	mock.ExpectQuery("SELECT body FROM users ORDER BY added ASC").WillReturnRows(rows())
	page, err := repo.QueryPage(context.Background(), nil, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "u3", page[0].ID)

	mock.ExpectQuery("SELECT body FROM users").WillReturnError(errors.New("timeout"))
	_, err = repo.FindAll(context.Background())
	assert.True(t, errors.Is(err, sentinel.ErrDatabase))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_DeleteByID(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("DELETE FROM users WHERE id = \\$1").WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 1))
	ts, err := repo.DeleteByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotNil(t, ts)

	mock.ExpectExec("DELETE FROM users").WithArgs("u2").WillReturnResult(sqlmock.NewResult(0, 0))
	ts, err = repo.DeleteByID(context.Background(), "u2")
	require.NoError(t, err)
	assert.Nil(t, ts)

	mock.ExpectExec("DELETE FROM users").WithArgs("u3").WillReturnError(errors.New("locked"))
	_, err = repo.DeleteByID(context.Background(), "u3")
	assert.True(t, errors.Is(err, sentinel.ErrDatabase))

	assert.NoError(t, mock.ExpectationsWereMet())
}
