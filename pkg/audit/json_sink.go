package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/platinummonkey/ledger/pkg/sentinel"
)

const defaultDocumentCacheSize = 16

// jsonDocument is the content of one JSON log file
type jsonDocument struct {
	LogEvents []*Event       `json:"logEvents"`
	LogHeads  []*AuditRecord `json:"logHeads"`
}

type cachedDocument struct {
	size    int64
	modTime time.Time
	doc     *jsonDocument
}

// JSONFileSink keeps one JSON document per rotation-managed file. Writes are
// read-modify-write under the file lock and replace the file atomically.
type JSONFileSink struct {
	rotation *RotationManager
	cache    *lru.Cache[string, cachedDocument]
}

// NewJSONFileSink creates a JSON sink writing through rotation. Files the
// rotation creates from then on start as an empty document.
func NewJSONFileSink(rotation *RotationManager) (*JSONFileSink, error) {
	if rotation == nil {
		return nil, fmt.Errorf("json sink requires a rotation manager: %w", sentinel.ErrConfiguration)
	}
	cache, err := lru.New[string, cachedDocument](defaultDocumentCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create document cache: %w", err)
	}
	empty, err := encodeJSON(&jsonDocument{LogEvents: []*Event{}, LogHeads: []*AuditRecord{}}, "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode empty json log: %w", err)
	}
	rotation.setInitialContent(empty)

	return &JSONFileSink{rotation: rotation, cache: cache}, nil
}

// Rotation returns the rotation manager of the sink
func (s *JSONFileSink) Rotation() *RotationManager {
	return s.rotation
}

// PersistEvent appends an event to the active document
func (s *JSONFileSink) PersistEvent(ctx context.Context, event *Event) error {
	return s.update(func(doc *jsonDocument) {
		doc.LogEvents = append(doc.LogEvents, event)
	})
}

// PersistChanges appends a record to the active document
func (s *JSONFileSink) PersistChanges(ctx context.Context, record *AuditRecord) error {
	return s.update(func(doc *jsonDocument) {
		doc.LogHeads = append(doc.LogHeads, record)
	})
}

// QueryEvents scans every file for matching events
func (s *JSONFileSink) QueryEvents(ctx context.Context, q Query) ([]*Event, error) {
	var out []*Event
	err := s.scan(ctx, func(doc *jsonDocument) {
		for _, e := range doc.LogEvents {
			if q.MatchEvent(e) {
				copied := *e
				out = append(out, &copied)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return window(out, q), nil
}

// QueryChanges scans every file for matching records
func (s *JSONFileSink) QueryChanges(ctx context.Context, q Query) ([]*AuditRecord, error) {
	var out []*AuditRecord
	err := s.scan(ctx, func(doc *jsonDocument) {
		for _, r := range doc.LogHeads {
			if q.MatchRecord(r) {
				out = append(out, cloneRecord(r))
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return window(out, q), nil
}

// Censor redacts fieldNames across every file
func (s *JSONFileSink) Censor(ctx context.Context, fieldNames []string, itemID string) ([]string, error) {
	return censorFiles(ctx, s.rotation, s, fieldNames, itemID)
}

// CensorFile redacts the matching changes of itemID in one document
func (s *JSONFileSink) CensorFile(ctx context.Context, path string, fieldNames []string, itemID string) ([]string, error) {
	doc, err := s.load(path)
	if err != nil {
		return nil, err
	}

	fields := fieldSet(fieldNames)

	var ids []string
	changed := false
	for _, record := range doc.LogHeads {
		if record.ItemID != itemID {
			continue
		}
		hit, dirty := censorChanges(record.Changes, fields)
		changed = changed || dirty
		if hit {
			ids = append(ids, record.ID)
		}
	}

	if changed {
		if err := s.write(path, doc); err != nil {
			return nil, err
		}
	}

	return ids, nil
}

func (s *JSONFileSink) update(mutate func(doc *jsonDocument)) error {
	return s.rotation.WithActiveFile(func(path string) error {
		doc, err := s.load(path)
		if err != nil {
			return err
		}
		mutate(doc)
		return s.write(path, doc)
	})
}

func (s *JSONFileSink) scan(ctx context.Context, visit func(doc *jsonDocument)) error {
	files, err := s.rotation.ListAllFiles()
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc, err := s.cached(path)
		if err != nil {
			return err
		}
		visit(doc)
	}
	return nil
}

// cached returns a read-only document, reusing the decoded copy while the file is unchanged
func (s *JSONFileSink) cached(path string) (*jsonDocument, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat json log: %w", err)
	}
	if entry, ok := s.cache.Get(path); ok && entry.size == info.Size() && entry.modTime.Equal(info.ModTime()) {
		return entry.doc, nil
	}

	var doc *jsonDocument
	err = s.rotation.WithFile(path, func(path string) error {
		var err error
		doc, err = s.load(path)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.cache.Add(path, cachedDocument{size: info.Size(), modTime: info.ModTime(), doc: doc})
	return doc, nil
}

// load decodes a document from disk. An empty file is an empty document.
func (s *JSONFileSink) load(path string) (*jsonDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read json log: %w", err)
	}

	doc := &jsonDocument{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("failed to decode json log %s: %w", path, err)
		}
	}
	if doc.LogEvents == nil {
		doc.LogEvents = []*Event{}
	}
	if doc.LogHeads == nil {
		doc.LogHeads = []*AuditRecord{}
	}

	return doc, nil
}

func (s *JSONFileSink) write(path string, doc *jsonDocument) error {
	data, err := encodeJSON(doc, "  ")
	if err != nil {
		return fmt.Errorf("failed to encode json log: %w", err)
	}
	s.cache.Remove(path)
	if err := replaceFile(path, data); err != nil {
		return fmt.Errorf("failed to write json log: %w", err)
	}
	return nil
}

func cloneRecord(r *AuditRecord) *AuditRecord {
	copied := *r
	copied.FieldsUpdated = append([]string(nil), r.FieldsUpdated...)
	copied.Changes = append([]FieldChange(nil), r.Changes...)
	return &copied
}
