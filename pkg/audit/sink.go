package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/samber/lo"
)

// Sink persists audit artifacts and, where supported, queries and censors them
type Sink interface {
	// PersistEvent stores a free-form event
	PersistEvent(ctx context.Context, event *Event) error

	// PersistChanges stores an audit record
	PersistChanges(ctx context.Context, record *AuditRecord) error

	// QueryEvents returns the events matching q
	QueryEvents(ctx context.Context, q Query) ([]*Event, error)

	// QueryChanges returns the audit records matching q
	QueryChanges(ctx context.Context, q Query) ([]*AuditRecord, error)

	// Censor redacts fieldNames in every record of itemID and returns the ids
	// of the records it touched
	Censor(ctx context.Context, fieldNames []string, itemID string) ([]string, error)
}

// FileCensor is implemented by sinks that store records in rotation-managed
// files. The caller holds the lock for path.
type FileCensor interface {
	CensorFile(ctx context.Context, path string, fieldNames []string, itemID string) ([]string, error)
}

// FileSink is a file-backed sink that exposes its rotation manager
type FileSink interface {
	Sink
	FileCensor
	Rotation() *RotationManager
}

// censorFiles runs CensorFile over every rotation-managed file, one file lock at a time
func censorFiles(ctx context.Context, rotation *RotationManager, censor FileCensor, fieldNames []string, itemID string) ([]string, error) {
	files, err := rotation.ListAllFiles()
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		err := rotation.WithFile(path, func(path string) error {
			found, err := censor.CensorFile(ctx, path, fieldNames, itemID)
			if err != nil {
				return fmt.Errorf("failed to censor %s: %w", filepath.Base(path), err)
			}
			ids = append(ids, found...)
			return nil
		})
		if err != nil {
			return ids, err
		}
	}

	return lo.Uniq(ids), nil
}

// replaceFile atomically swaps the contents of path
func replaceFile(path string, data []byte) error {
	perm := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	return renameio.WriteFile(path, data, perm)
}

// censorChanges redacts in place the changes named in fields. hit reports a
// matching field, dirty reports that a value was actually rewritten.
func censorChanges(changes []FieldChange, fields map[string]bool) (hit, dirty bool) {
	for i := range changes {
		c := &changes[i]
		if !fields[c.FieldName] {
			continue
		}
		hit = true
		if c.OldValue != nil && *c.OldValue != Redacted {
			c.OldValue = strPtr(Redacted)
			dirty = true
		}
		if c.NewValue != nil && *c.NewValue != Redacted {
			c.NewValue = strPtr(Redacted)
			dirty = true
		}
	}
	return hit, dirty
}

func fieldSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

// encodeJSON marshals without HTML escaping so the redaction sentinel stays readable
func encodeJSON(v interface{}, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
