package audit

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ledger/pkg/sentinel"
)

func exportFixture() []*AuditRecord {
	return []*AuditRecord{
		textRecord("r1", "u1",
			FieldChange{FieldName: "username", OldValue: sp("a"), NewValue: sp("b")},
			FieldChange{FieldName: "password", OldValue: nil, NewValue: sp(Redacted)},
		),
		textRecord("r2", "u2"),
	}
}

func TestParseExportFormat(t *testing.T) {
	for _, name := range []string{"json", "NDJSON", "csv"} {
		_, err := ParseExportFormat(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseExportFormat("xml")
	assert.True(t, errors.Is(err, sentinel.ErrArgument))
}

func TestExportRecords_JSON(t *testing.T) {
	data, err := ExportRecords(exportFixture(), ExportFormatJSON)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"<redacted>"`)

	var parsed []*AuditRecord
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Len(t, parsed, 2)

	empty, err := ExportRecords(nil, ExportFormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))
}

func TestExportRecords_NDJSON(t *testing.T) {
	data, err := ExportRecords(exportFixture(), ExportFormatNDJSON)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var record AuditRecord
		assert.NoError(t, json.Unmarshal([]byte(line), &record))
	}
}

func TestExportRecords_CSV(t *testing.T) {
	data, err := ExportRecords(exportFixture(), ExportFormatCSV)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	// header, two change rows for r1, one bare row for r2
	require.Len(t, rows, 4)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, []string{"password", "null", Redacted}, rows[2][8:])
	assert.Equal(t, "r2", rows[3][0])
	assert.Equal(t, "", rows[3][8])
}

func TestExportEvents(t *testing.T) {
	events := []*Event{{ID: "e1", Timestamp: sinkTime, Message: "hello, world", UserID: sp("u1")}}

	data, err := ExportEvents(events, ExportFormatCSV)
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "hello, world", rows[1][2])
	assert.Equal(t, "", rows[1][4])

	_, err = ExportEvents(events, ExportFormat("xml"))
	assert.True(t, errors.Is(err, sentinel.ErrArgument))
}
