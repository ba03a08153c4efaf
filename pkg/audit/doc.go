// Package audit records field-level change sets and free-form events for
// audited entities and routes them to a pluggable sink.
//
// # Overview
//
// A Recorder diffs the before and after state of an Auditable value, classifies
// the change as Added, Edited or Removed, redacts sensitive fields and hands the
// resulting AuditRecord to exactly one Sink. Recording is gated by a level
// threshold; a gated call returns nil without error.
//
// # Sinks
//
//   - TextFileSink: human readable lines, not queryable; failures surface as ErrLogging
//   - JSONFileSink: one {"logEvents": [...], "logHeads": [...]} document per file
//   - CallbackSink: delegates to caller supplied strategies
//   - SQLSink: audit_events and audit_changes tables
//   - MultiSink: concurrent fan-out
//
// File sinks write through a RotationManager, which names files
// {prefix}_{timestamp}.{ext} and starts a new file once the active one is older
// than the rotation period.
//
// # Usage Example
//
//	rotation, err := audit.NewRotationManager(audit.RotationConfig{
//		Directory: "/var/log/ledger",
//		Prefix:    "audit",
//		Extension: "json",
//		Rotate:    true,
//		Period:    24 * time.Hour,
//	})
//	sink, err := audit.NewJSONFileSink(rotation)
//	recorder, err := audit.NewRecorder(audit.RecorderConfig{Threshold: audit.LevelInfo, Sink: sink})
//
//	record, err := recorder.LogChanges(ctx, audit.ChangeRequest{
//		Level:    audit.LevelInfo,
//		Before:   oldUser,
//		After:    newUser,
//		ItemID:   newUser.ID,
//		EditorID: editorID,
//	})
//
// # Censorship
//
// CensorshipService rewrites already persisted values of named fields to
// "<redacted>". It is idempotent.
//
// # Retention Policy
//
// Default: 90 days. Rotated files past retention are optionally uploaded to S3
// and then removed, on demand or on a cron schedule through RetentionJanitor.
// Export: JSON, CSV, NDJSON formats for external analysis.
package audit
