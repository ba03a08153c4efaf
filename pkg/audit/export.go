package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/ledger/pkg/sentinel"
)

// ExportFormat names an export encoding
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatNDJSON ExportFormat = "ndjson"
	ExportFormatCSV    ExportFormat = "csv"
)

// ParseExportFormat resolves a format name
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(s)); f {
	case ExportFormatJSON, ExportFormatNDJSON, ExportFormatCSV:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q: %w", s, sentinel.ErrArgument)
}

// ExportRecords encodes audit records in the given format
func ExportRecords(records []*AuditRecord, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatJSON:
		return exportJSON(nonNil(records))
	case ExportFormatNDJSON:
		return exportNDJSON(records)
	case ExportFormatCSV:
		return exportRecordsCSV(records)
	}
	return nil, fmt.Errorf("unknown export format %q: %w", format, sentinel.ErrArgument)
}

// ExportEvents encodes events in the given format
func ExportEvents(events []*Event, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatJSON:
		return exportJSON(nonNil(events))
	case ExportFormatNDJSON:
		return exportNDJSON(events)
	case ExportFormatCSV:
		return exportEventsCSV(events)
	}
	return nil, fmt.Errorf("unknown export format %q: %w", format, sentinel.ErrArgument)
}

func exportJSON[T any](items []T) ([]byte, error) {
	return encodeJSON(items, "  ")
}

func exportNDJSON[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)

	for _, item := range items {
		if err := encoder.Encode(item); err != nil {
			return nil, fmt.Errorf("failed to encode item: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// exportRecordsCSV writes one row per field change so that each value has its
// own cell. Records without changes still get a row.
func exportRecordsCSV(records []*AuditRecord) ([]byte, error) {
	header := []string{
		"ID",
		"Timestamp",
		"Operation",
		"ItemType",
		"ItemID",
		"EditorID",
		"Automated",
		"Comment",
		"Field",
		"OldValue",
		"NewValue",
	}

	return writeCSV(header, func(write func([]string) error) error {
		for _, r := range records {
			base := []string{
				r.ID,
				r.Timestamp.UTC().Format(time.RFC3339Nano),
				string(r.Operation),
				string(r.ItemType),
				r.ItemID,
				r.EditorID,
				strconv.FormatBool(r.Automated),
				deref(r.Comment),
			}
			if len(r.Changes) == 0 {
				if err := write(append(base, "", "", "")); err != nil {
					return err
				}
				continue
			}
			for _, c := range r.Changes {
				row := append(append([]string(nil), base...), c.FieldName, formatValue(c.OldValue), formatValue(c.NewValue))
				if err := write(row); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func exportEventsCSV(events []*Event) ([]byte, error) {
	header := []string{"ID", "Timestamp", "Message", "UserID", "ItemID", "CallerContext"}

	return writeCSV(header, func(write func([]string) error) error {
		for _, e := range events {
			row := []string{
				e.ID,
				e.Timestamp.UTC().Format(time.RFC3339Nano),
				e.Message,
				deref(e.UserID),
				deref(e.ItemID),
				e.CallerContext,
			}
			if err := write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeCSV(header []string, rows func(write func([]string) error) error) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	err := rows(func(row []string) error {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// formatValue renders an absent value as "null", like the text sink
func formatValue(s *string) string {
	if s == nil {
		return "null"
	}
	return *s
}
