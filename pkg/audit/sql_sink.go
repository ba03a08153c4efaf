package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/platinummonkey/ledger/pkg/sentinel"
)

// SQLSink persists events and audit records to a SQL database. Column types
// are kept portable so the same schema works on PostgreSQL and SQLite.
type SQLSink struct {
	db *sql.DB
}

// NewSQLSink creates a SQL sink and ensures its tables exist
func NewSQLSink(ctx context.Context, db *sql.DB) (*SQLSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required: %w", sentinel.ErrConfiguration)
	}

	sink := &SQLSink{db: db}
	if err := sink.ensureTables(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure audit tables: %w", err)
	}

	return sink, nil
}

func (s *SQLSink) ensureTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id VARCHAR(36) PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		message TEXT NOT NULL,
		user_id VARCHAR(255),
		item_id VARCHAR(255),
		caller_context TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_changes (
		id VARCHAR(36) PRIMARY KEY,
		operation VARCHAR(20) NOT NULL,
		item_type VARCHAR(50) NOT NULL,
		item_id VARCHAR(255) NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		editor_id VARCHAR(255) NOT NULL,
		automated BOOLEAN NOT NULL,
		fields_updated TEXT NOT NULL,
		changes TEXT NOT NULL,
		comment TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_changes_timestamp ON audit_changes(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_changes_item ON audit_changes(item_type, item_id);
	`

	_, err := s.db.ExecContext(ctx, query)
	return err
}

// PersistEvent inserts an event row
func (s *SQLSink) PersistEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO audit_events (id, timestamp, message, user_id, item_id, caller_context)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.Timestamp.UTC(), event.Message,
		event.UserID, event.ItemID, event.CallerContext,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w: %w", sentinel.ErrDatabase, err)
	}

	return nil
}

// PersistChanges inserts an audit record row
func (s *SQLSink) PersistChanges(ctx context.Context, record *AuditRecord) error {
	fieldsJSON, err := encodeJSON(nonNil(record.FieldsUpdated), "")
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}
	changesJSON, err := encodeJSON(nonNil(record.Changes), "")
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}

	query := `
		INSERT INTO audit_changes (
			id, operation, item_type, item_id, timestamp,
			editor_id, automated, fields_updated, changes, comment
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ID, string(record.Operation), string(record.ItemType), record.ItemID, record.Timestamp.UTC(),
		record.EditorID, record.Automated, string(fieldsJSON), string(changesJSON), record.Comment,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w: %w", sentinel.ErrDatabase, err)
	}

	return nil
}

// QueryEvents selects events matching q in time order
func (s *SQLSink) QueryEvents(ctx context.Context, q Query) ([]*Event, error) {
	w := &whereBuilder{}
	w.eq("id", q.ID)
	w.eq("item_id", q.ItemID)
	w.eq("user_id", q.UserID)
	w.timeRange(q)

	query := "SELECT id, timestamp, message, user_id, item_id, caller_context FROM audit_events" + w.clause()
	query, args := w.paginate(query, q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w: %w", sentinel.ErrDatabase, err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event := &Event{}
		if err := rows.Scan(&event.ID, &event.Timestamp, &event.Message, &event.UserID, &event.ItemID, &event.CallerContext); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.Timestamp = event.Timestamp.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return offsetOnly(events, q), nil
}

// QueryChanges selects audit records matching q in time order
func (s *SQLSink) QueryChanges(ctx context.Context, q Query) ([]*AuditRecord, error) {
	w := &whereBuilder{}
	w.eq("id", q.ID)
	w.eq("item_id", q.ItemID)
	w.eq("editor_id", q.UserID)
	w.eq("item_type", string(q.ItemType))
	w.eq("operation", string(q.Operation))
	w.timeRange(q)

	query := `SELECT id, operation, item_type, item_id, timestamp, editor_id, automated, fields_updated, changes, comment
		FROM audit_changes` + w.clause()
	query, args := w.paginate(query, q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w: %w", sentinel.ErrDatabase, err)
	}
	defer rows.Close()

	records := make([]*AuditRecord, 0)
	for rows.Next() {
		record, changesJSON := &AuditRecord{}, ""
		var fieldsJSON string
		err := rows.Scan(
			&record.ID, &record.Operation, &record.ItemType, &record.ItemID, &record.Timestamp,
			&record.EditorID, &record.Automated, &fieldsJSON, &changesJSON, &record.Comment,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &record.FieldsUpdated); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
		}
		if err := json.Unmarshal([]byte(changesJSON), &record.Changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
		}
		record.Timestamp = record.Timestamp.UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}

	return offsetOnly(records, q), nil
}

// Censor redacts fieldNames in every stored record of itemID inside one transaction
func (s *SQLSink) Censor(ctx context.Context, fieldNames []string, itemID string) ([]string, error) {
	fields := fieldSet(fieldNames)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin censor transaction: %w: %w", sentinel.ErrDatabase, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT id, changes FROM audit_changes WHERE item_id = $1 ORDER BY timestamp ASC", itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to select records to censor: %w: %w", sentinel.ErrDatabase, err)
	}

	type pending struct {
		id      string
		changes []FieldChange
		dirty   bool
	}
	var hits []pending
	for rows.Next() {
		var id, changesJSON string
		if err := rows.Scan(&id, &changesJSON); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		var changes []FieldChange
		if err := json.Unmarshal([]byte(changesJSON), &changes); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to unmarshal changes of %s: %w", id, err)
		}

		p := pending{id: id, changes: changes}
		hit, dirty := censorChanges(p.changes, fields)
		p.dirty = dirty
		if hit {
			hits = append(hits, p)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}
	rows.Close()

	ids := make([]string, 0, len(hits))
	for _, p := range hits {
		ids = append(ids, p.id)
		if !p.dirty {
			continue
		}
		changesJSON, err := encodeJSON(p.changes, "")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal changes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE audit_changes SET changes = $1 WHERE id = $2", string(changesJSON), p.id); err != nil {
			return nil, fmt.Errorf("failed to update audit record %s: %w: %w", p.id, sentinel.ErrDatabase, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit censor transaction: %w: %w", sentinel.ErrDatabase, err)
	}

	return ids, nil
}

// whereBuilder accumulates positional predicates
type whereBuilder struct {
	conds []string
	args  []interface{}
}

func (w *whereBuilder) add(cond string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *whereBuilder) eq(column, value string) {
	if value != "" {
		w.add(column+" = $%d", value)
	}
}

func (w *whereBuilder) timeRange(q Query) {
	if q.Since != nil {
		w.add("timestamp >= $%d", q.Since.UTC())
	}
	if q.Until != nil {
		w.add("timestamp <= $%d", q.Until.UTC())
	}
}

func (w *whereBuilder) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// paginate orders by time and pushes Limit/Offset into SQL when a limit is set.
// An offset without a limit is applied after the scan.
func (w *whereBuilder) paginate(query string, q Query) (string, []interface{}) {
	query += " ORDER BY timestamp ASC"
	if q.Limit > 0 {
		w.args = append(w.args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(w.args))
		if q.Offset > 0 {
			w.args = append(w.args, q.Offset)
			query += fmt.Sprintf(" OFFSET $%d", len(w.args))
		}
	}
	return query, w.args
}

// offsetOnly applies the offset that paginate left out of the query
func offsetOnly[T any](items []T, q Query) []T {
	if q.Limit > 0 {
		return items
	}
	return window(items, q)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
