package audit

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/platinummonkey/ledger/pkg/sentinel"
)

const lineBreak = "\r\n"

// headerPattern picks the record id and item id out of a change record header
var headerPattern = regexp.MustCompile(`^\S+ id:(\S+) operation:\S+ itemType:\S+ itemId:(.*?) editorId:`)

// TextFileSink appends one human readable line per artifact to the active
// rotation-managed file. It cannot be queried. Every failure wraps
// sentinel.ErrLogging so the recorder surfaces it.
type TextFileSink struct {
	rotation *RotationManager
}

// NewTextFileSink creates a text sink writing through rotation
func NewTextFileSink(rotation *RotationManager) *TextFileSink {
	return &TextFileSink{rotation: rotation}
}

// Rotation returns the rotation manager of the sink
func (s *TextFileSink) Rotation() *RotationManager {
	return s.rotation
}

// PersistEvent appends an event line
func (s *TextFileSink) PersistEvent(ctx context.Context, event *Event) error {
	line := fmt.Sprintf("%s%s id:%s caller:%s event:%s (userId:%s, itemId:%s)",
		lineBreak,
		formatTimestamp(event.Timestamp),
		event.ID,
		oneLine(event.CallerContext),
		oneLine(event.Message),
		orNull(event.UserID),
		orNull(event.ItemID),
	)
	return s.append(line)
}

// PersistChanges appends a record header followed by one line per change
func (s *TextFileSink) PersistChanges(ctx context.Context, record *AuditRecord) error {
	automated := "manual"
	if record.Automated {
		automated = "automated"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s%s id:%s operation:%s itemType:%s itemId:%s editorId:%s automated:%s fields changed:[%s], comment:%s",
		lineBreak,
		formatTimestamp(record.Timestamp),
		record.ID,
		record.Operation,
		record.ItemType,
		oneLine(record.ItemID),
		oneLine(record.EditorID),
		automated,
		strings.Join(record.FieldsUpdated, ", "),
		orNull(record.Comment),
	)
	for _, change := range record.Changes {
		fmt.Fprintf(&b, "%s\t%s: %s -> %s", lineBreak, change.FieldName, orNull(change.OldValue), orNull(change.NewValue))
	}

	return s.append(b.String())
}

// QueryEvents is not supported by the line format
func (s *TextFileSink) QueryEvents(ctx context.Context, q Query) ([]*Event, error) {
	return nil, fmt.Errorf("text sink cannot query events: %w", sentinel.ErrNotImplemented)
}

// QueryChanges is not supported by the line format
func (s *TextFileSink) QueryChanges(ctx context.Context, q Query) ([]*AuditRecord, error) {
	return nil, fmt.Errorf("text sink cannot query changes: %w", sentinel.ErrNotImplemented)
}

// Censor redacts fieldNames across every file
func (s *TextFileSink) Censor(ctx context.Context, fieldNames []string, itemID string) ([]string, error) {
	return censorFiles(ctx, s.rotation, s, fieldNames, itemID)
}

// CensorFile rewrites the change lines of fieldNames that directly follow each
// header of itemID. Only the first contiguous block after a header is touched.
func (s *TextFileSink) CensorFile(ctx context.Context, path string, fieldNames []string, itemID string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read text log: %w", err)
	}

	fields := fieldSet(fieldNames)

	lines := strings.Split(string(data), lineBreak)
	var ids []string
	changed := false

	for i := 0; i < len(lines); i++ {
		match := headerPattern.FindStringSubmatch(lines[i])
		if match == nil || match[2] != itemID {
			continue
		}

		hit := false
		j := i + 1
		for ; j < len(lines) && strings.HasPrefix(lines[j], "\t"); j++ {
			name, rest, ok := strings.Cut(lines[j][1:], ": ")
			if !ok || !fields[name] {
				continue
			}
			redacted := redactLine(name, rest)
			if redacted != lines[j] {
				lines[j] = redacted
				changed = true
			}
			hit = true
		}
		if hit {
			ids = append(ids, match[1])
		}
		i = j - 1
	}

	if changed {
		if err := replaceFile(path, []byte(strings.Join(lines, lineBreak))); err != nil {
			return nil, fmt.Errorf("failed to rewrite text log: %w", err)
		}
	}

	return ids, nil
}

func (s *TextFileSink) append(text string) error {
	err := s.rotation.WithActiveFile(func(path string) error {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		if _, err := file.WriteString(text); err != nil {
			file.Close()
			return err
		}
		return file.Close()
	})
	if err != nil {
		return fmt.Errorf("failed to write text log: %w: %w", sentinel.ErrLogging, err)
	}
	return nil
}

// redactLine keeps absent values absent
func redactLine(name, rest string) string {
	oldValue, newValue, _ := strings.Cut(rest, " -> ")
	if oldValue != absent {
		oldValue = Redacted
	}
	if newValue != absent {
		newValue = Redacted
	}
	return fmt.Sprintf("\t%s: %s -> %s", name, oldValue, newValue)
}

func formatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

// absent marks a missing value. A stored value spelling "null" is written
// quoted so it stays distinguishable from absent.
const absent = "null"

func orNull(s *string) string {
	if s == nil {
		return absent
	}
	if *s == absent {
		return `"` + absent + `"`
	}
	return oneLine(*s)
}

// oneLine keeps values from breaking the line grammar
func oneLine(s string) string {
	return strings.NewReplacer("\r", `\r`, "\n", `\n`).Replace(s)
}
