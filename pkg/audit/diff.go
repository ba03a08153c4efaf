package audit

import (
	"fmt"
	"reflect"

	"github.com/platinummonkey/ledger/pkg/sentinel"
)

// Diff compares the audited fields of before and after and returns one change
// per field whose stringified value differs. Fields flagged NotLogged on either
// side are skipped. Field order follows after, then fields only before has.
// Values are returned as stored; redaction happens in the recorder.
func Diff(before, after Auditable) ([]FieldChange, error) {
	before, after = normalize(before), normalize(after)

	if before == nil && after == nil {
		return nil, fmt.Errorf("nothing to diff, before and after are both nil: %w", sentinel.ErrArgument)
	}
	for _, a := range []Auditable{before, after} {
		if a != nil && unlogged(a) {
			return nil, fmt.Errorf("type %T is not logged: %w", a, sentinel.ErrArgument)
		}
	}
	if before != nil && after != nil && reflect.TypeOf(before) != reflect.TypeOf(after) {
		return nil, fmt.Errorf("cannot diff %T against %T: %w", before, after, sentinel.ErrArgument)
	}

	oldFields := indexFields(before)
	newFields := indexFields(after)

	names := make([]string, 0, len(oldFields.order)+len(newFields.order))
	names = append(names, newFields.order...)
	for _, name := range oldFields.order {
		if _, ok := newFields.byName[name]; !ok {
			names = append(names, name)
		}
	}

	var changes []FieldChange
	for _, name := range names {
		oldField, hasOld := oldFields.byName[name]
		newField, hasNew := newFields.byName[name]
		if (hasOld && oldField.NotLogged) || (hasNew && newField.NotLogged) {
			continue
		}

		var oldValue, newValue *string
		if hasOld {
			oldValue = oldField.Value
		}
		if hasNew {
			newValue = newField.Value
		}
		if equalValues(oldValue, newValue) {
			continue
		}
		changes = append(changes, FieldChange{
			FieldName: name,
			OldValue:  copyValue(oldValue),
			NewValue:  copyValue(newValue),
		})
	}

	return changes, nil
}

// SensitiveFields returns the names flagged Sensitive on either side
func SensitiveFields(before, after Auditable) map[string]bool {
	sensitive := make(map[string]bool)
	for _, a := range []Auditable{normalize(before), normalize(after)} {
		if a == nil {
			continue
		}
		for _, f := range a.AuditFields() {
			if f.Sensitive {
				sensitive[f.Name] = true
			}
		}
	}
	return sensitive
}

// Redact replaces both values of every sensitive change with Redacted.
// Absent values stay absent so that additions and removals remain visible.
func Redact(changes []FieldChange, sensitive map[string]bool) []FieldChange {
	out := make([]FieldChange, len(changes))
	for i, c := range changes {
		if sensitive[c.FieldName] {
			if c.OldValue != nil {
				c.OldValue = strPtr(Redacted)
			}
			if c.NewValue != nil {
				c.NewValue = strPtr(Redacted)
			}
		}
		out[i] = c
	}
	return out
}

// FieldNames lists the names of changes in order
func FieldNames(changes []FieldChange) []string {
	names := make([]string, len(changes))
	for i, c := range changes {
		names[i] = c.FieldName
	}
	return names
}

type fieldIndex struct {
	order  []string
	byName map[string]Field
}

func indexFields(a Auditable) fieldIndex {
	idx := fieldIndex{byName: make(map[string]Field)}
	if a == nil {
		return idx
	}
	for _, f := range a.AuditFields() {
		if _, dup := idx.byName[f.Name]; dup {
			continue
		}
		idx.order = append(idx.order, f.Name)
		idx.byName[f.Name] = f
	}
	return idx
}

func unlogged(a Auditable) bool {
	u, ok := a.(Unlogged)
	return ok && u.AuditDisabled()
}

// normalize turns typed nil pointers into untyped nil
func normalize(a Auditable) Auditable {
	if a == nil {
		return nil
	}
	v := reflect.ValueOf(a)
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return nil
	}
	return a
}

func equalValues(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyValue(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
