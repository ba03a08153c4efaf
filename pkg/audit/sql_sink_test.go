package audit

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ledger/pkg/sentinel"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func newMockSQLSink(t *testing.T) (*SQLSink, sqlmock.Sqlmock) {
	db, mock := setupMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").WillReturnResult(sqlmock.NewResult(0, 0))
	sink, err := NewSQLSink(context.Background(), db)
	require.NoError(t, err)
	return sink, mock
}

func TestNewSQLSink(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		_, mock := newMockSQLSink(t)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		sink, err := NewSQLSink(context.Background(), nil)
		assert.Nil(t, sink)
		assert.True(t, errors.Is(err, sentinel.ErrConfiguration))
	})

	t.Run("table creation error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").WillReturnError(errors.New("table creation failed"))

		sink, err := NewSQLSink(context.Background(), db)
		assert.Nil(t, sink)
		assert.Contains(t, err.Error(), "failed to ensure audit tables")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSQLSink_PersistEvent(t *testing.T) {
	sink, mock := newMockSQLSink(t)
	event := &Event{ID: "e1", Timestamp: sinkTime, Message: "hello", UserID: sp("u1"), CallerContext: "x.go:1 f"}

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs("e1", sinkTime, "hello", sqlmock.AnyArg(), sqlmock.AnyArg(), "x.go:1 f").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, sink.PersistEvent(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSink_PersistChanges(t *testing.T) {
	sink, mock := newMockSQLSink(t)
	record := textRecord("r1", "u1", FieldChange{FieldName: "username", OldValue: sp("a"), NewValue: sp("b")})

	mock.ExpectExec("INSERT INTO audit_changes").
		WithArgs("r1", "Edited", "AUser", "u1", sinkTime, "admin", false,
			`["username"]`, `[{"fieldName":"username","oldValue":"a","newValue":"b"}]`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, sink.PersistChanges(context.Background(), record))
	assert.NoError(t, mock.ExpectationsWereMet())

	t.Run("database error", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO audit_changes").WillReturnError(errors.New("connection reset"))
		err := sink.PersistChanges(context.Background(), record)
		assert.True(t, errors.Is(err, sentinel.ErrDatabase))
		assert.False(t, errors.Is(err, sentinel.ErrLogging))
	})
}

func TestSQLSink_QueryChanges(t *testing.T) {
	sink, mock := newMockSQLSink(t)

	rows := sqlmock.NewRows([]string{"id", "operation", "item_type", "item_id", "timestamp", "editor_id", "automated", "fields_updated", "changes", "comment"}).
		AddRow("r1", "Edited", "AUser", "u1", sinkTime, "admin", true, `["username"]`, `[{"fieldName":"username","oldValue":"a","newValue":null}]`, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_changes WHERE item_id = $1 AND operation = $2 ORDER BY timestamp ASC LIMIT $3 OFFSET $4")).
		WithArgs("u1", "Edited", 10, 5).
		WillReturnRows(rows)

	records, err := sink.QueryChanges(context.Background(), Query{ItemID: "u1", Operation: OperationEdited, Limit: 10, Offset: 5})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "r1", records[0].ID)
	assert.True(t, records[0].Automated)
	assert.Equal(t, []string{"username"}, records[0].FieldsUpdated)
	assert.Nil(t, records[0].Changes[0].NewValue)
	assert.Nil(t, records[0].Comment)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSink_QueryEvents(t *testing.T) {
	sink, mock := newMockSQLSink(t)

	rows := sqlmock.NewRows([]string{"id", "timestamp", "message", "user_id", "item_id", "caller_context"}).
		AddRow("e1", sinkTime, "one", "u1", nil, "a").
		AddRow("e2", sinkTime, "two", "u1", nil, "b")

	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_events WHERE user_id = $1 AND timestamp >= $2 ORDER BY timestamp ASC")).
		WithArgs("u1", sinkTime).
		WillReturnRows(rows)

	since := sinkTime
	events, err := sink.QueryEvents(context.Background(), Query{UserID: "u1", Since: &since, Offset: 1})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e2", events[0].ID)
	assert.Equal(t, "u1", *events[0].UserID)
	assert.Nil(t, events[0].ItemID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSink_Censor(t *testing.T) {
	sink, mock := newMockSQLSink(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, changes FROM audit_changes WHERE item_id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "changes"}).
			AddRow("r1", `[{"fieldName":"email","oldValue":null,"newValue":"a@example.com"}]`).
			AddRow("r2", `[{"fieldName":"username","oldValue":"a","newValue":"b"}]`).
			AddRow("r3", `[{"fieldName":"email","oldValue":"<redacted>","newValue":"<redacted>"}]`))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE audit_changes SET changes = $1 WHERE id = $2")).
		WithArgs(`[{"fieldName":"email","oldValue":null,"newValue":"<redacted>"}]`, "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ids, err := sink.Censor(context.Background(), []string{"email"}, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r3"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
