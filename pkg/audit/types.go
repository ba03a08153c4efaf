package audit

import (
	"fmt"
	"strings"
	"time"
)

// Redacted replaces sensitive or censored values
const Redacted = "<redacted>"

// Level is the numeric severity of an audit artifact
type Level int

const (
	LevelTrace Level = iota + 1
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
)

var (
	levelNames = map[Level]string{
		LevelTrace:    "trace",
		LevelDebug:    "debug",
		LevelInfo:     "info",
		LevelWarn:     "warn",
		LevelError:    "error",
		LevelCritical: "critical",
	}
	levelsByName = invert(levelNames)
)

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel resolves a level by name ("info") or number ("3")
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if l, ok := levelsByName[s]; ok {
		return l, nil
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil {
		if _, ok := levelNames[Level(n)]; ok {
			return Level(n), nil
		}
	}
	return 0, fmt.Errorf("unknown audit level %q", s)
}

// Operation classifies an audit record
type Operation string

const (
	OperationAdded   Operation = "Added"
	OperationEdited  Operation = "Edited"
	OperationRemoved Operation = "Removed"
)

var operations = map[Operation]struct{}{
	OperationAdded:   {},
	OperationEdited:  {},
	OperationRemoved: {},
}

// Valid reports whether o is one of the three known operations
func (o Operation) Valid() bool {
	_, ok := operations[o]
	return ok
}

// ItemType is the closed set of audited entity tags
type ItemType string

const (
	ItemTypeUser     ItemType = "AUser"
	ItemTypeGroup    ItemType = "AGroup"
	ItemTypeAPIToken ItemType = "AAPIToken"
)

// itemTypeCodes gives every tag a stable numeric code for compact storage
var (
	itemTypeCodes = map[ItemType]int{
		ItemTypeUser:     1,
		ItemTypeGroup:    2,
		ItemTypeAPIToken: 3,
	}
	itemTypesByCode = invert(itemTypeCodes)
)

// Registered reports whether t belongs to the closed registry
func (t ItemType) Registered() bool {
	_, ok := itemTypeCodes[t]
	return ok
}

// Code returns the numeric code of t, or 0 when unregistered
func (t ItemType) Code() int {
	return itemTypeCodes[t]
}

// ItemTypeByCode is the reverse of ItemType.Code
func ItemTypeByCode(code int) (ItemType, bool) {
	t, ok := itemTypesByCode[code]
	return t, ok
}

// FieldChange is a single field difference
type FieldChange struct {
	FieldName string  `json:"fieldName"`
	OldValue  *string `json:"oldValue"`
	NewValue  *string `json:"newValue"`
}

// AuditRecord captures what changed on an entity, by whom and when
type AuditRecord struct {
	ID            string        `json:"id"`
	Operation     Operation     `json:"operation"`
	ItemType      ItemType      `json:"itemType"`
	ItemID        string        `json:"itemId"`
	Timestamp     time.Time     `json:"timestamp"`
	EditorID      string        `json:"editorId"`
	Automated     bool          `json:"automated"`
	FieldsUpdated []string      `json:"fieldsUpdated"`
	Changes       []FieldChange `json:"changes"`
	Comment       *string       `json:"comment"`
}

// Event is a free-form log entry independent of entity diffing
type Event struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Message       string    `json:"message"`
	UserID        *string   `json:"userId"`
	ItemID        *string   `json:"itemId"`
	CallerContext string    `json:"callerContext"`
}

// Field is one audited property of an entity, as exposed by AuditFields
type Field struct {
	Name      string
	Value     *string
	Sensitive bool
	NotLogged bool
}

// Auditable is implemented by every entity type that the recorder can diff
type Auditable interface {
	ItemType() ItemType
	AuditFields() []Field
}

// Unlogged marks a type whose instances are never diffed
type Unlogged interface {
	AuditDisabled() bool
}

// Query selects events and records. Zero-valued fields match everything;
// ItemType and Operation only apply to records.
type Query struct {
	ID        string
	ItemID    string
	UserID    string // event userId or record editorId
	ItemType  ItemType
	Operation Operation
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// MatchEvent reports whether e satisfies q
func (q Query) MatchEvent(e *Event) bool {
	if q.ID != "" && e.ID != q.ID {
		return false
	}
	if q.ItemID != "" && deref(e.ItemID) != q.ItemID {
		return false
	}
	if q.UserID != "" && deref(e.UserID) != q.UserID {
		return false
	}
	return q.inRange(e.Timestamp)
}

// MatchRecord reports whether r satisfies q
func (q Query) MatchRecord(r *AuditRecord) bool {
	if q.ID != "" && r.ID != q.ID {
		return false
	}
	if q.ItemID != "" && r.ItemID != q.ItemID {
		return false
	}
	if q.UserID != "" && r.EditorID != q.UserID {
		return false
	}
	if q.ItemType != "" && r.ItemType != q.ItemType {
		return false
	}
	if q.Operation != "" && r.Operation != q.Operation {
		return false
	}
	return q.inRange(r.Timestamp)
}

func (q Query) inRange(ts time.Time) bool {
	if q.Since != nil && ts.Before(*q.Since) {
		return false
	}
	if q.Until != nil && ts.After(*q.Until) {
		return false
	}
	return true
}

// window applies Offset and Limit to an already filtered result
func window[T any](items []T, q Query) []T {
	if q.Offset > 0 {
		if q.Offset >= len(items) {
			return []T{}
		}
		items = items[q.Offset:]
	}
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items
}

// RetentionPolicy defines how long rotated log files are kept
type RetentionPolicy struct {
	// RetentionDays is the number of days to keep rotated files; 0 keeps everything
	RetentionDays int

	// ArchiveEnabled uploads files through an Archiver before removal
	ArchiveEnabled bool
}

// DefaultRetentionPolicy returns a default retention policy (90 days)
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RetentionDays:  90,
		ArchiveEnabled: false,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string {
	return &s
}

func invert[K comparable, V comparable](m map[K]V) map[V]K {
	out := make(map[V]K, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}
