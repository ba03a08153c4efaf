package audit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ledger/pkg/observability"
	"github.com/platinummonkey/ledger/pkg/sentinel"
)

// RecorderConfig configures a Recorder
type RecorderConfig struct {
	// Threshold is the minimum level that is recorded; 0 disables recording
	Threshold Level
	Sink      Sink

	Logger  *logrus.Logger         // Defaults to logrus.New()
	Metrics *observability.Metrics // Optional
	Clock   func() time.Time       // Defaults to time.Now
	NewID   func() string          // Defaults to uuid.NewString
}

// ChangeRequest describes one audited mutation
type ChangeRequest struct {
	Level     Level
	Before    Auditable
	After     Auditable
	ItemID    string
	EditorID  string
	Automated bool

	// Changes replaces the computed diff when non-nil
	Changes []FieldChange
	Comment *string
}

// Recorder turns entity mutations and free-form messages into audit
// artifacts and hands them to a sink
type Recorder struct {
	threshold Level
	sink      Sink
	log       *logrus.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	newID     func() string
}

// NewRecorder creates a recorder
func NewRecorder(config RecorderConfig) (*Recorder, error) {
	if config.Sink == nil {
		return nil, fmt.Errorf("audit recorder requires a sink: %w", sentinel.ErrConfiguration)
	}
	if config.Threshold < 0 {
		return nil, fmt.Errorf("audit threshold %d is negative: %w", config.Threshold, sentinel.ErrConfiguration)
	}

	r := &Recorder{
		threshold: config.Threshold,
		sink:      config.Sink,
		log:       config.Logger,
		metrics:   config.Metrics,
		now:       config.Clock,
		newID:     config.NewID,
	}
	if r.log == nil {
		r.log = logrus.New()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}

	return r, nil
}

// Sink returns the configured sink
func (r *Recorder) Sink() Sink {
	return r.sink
}

// Enabled reports whether artifacts of level pass the threshold
func (r *Recorder) Enabled(level Level) bool {
	return r.threshold > 0 && r.threshold <= level
}

// LogChanges diffs the request, builds an audit record and persists it.
// A nil record with a nil error means the request was gated or the sink
// failed in a way that does not concern the caller.
func (r *Recorder) LogChanges(ctx context.Context, req ChangeRequest) (*AuditRecord, error) {
	if !r.Enabled(req.Level) {
		r.metrics.RecordDropped("changes", "gated")
		return nil, nil
	}

	before, after := normalize(req.Before), normalize(req.After)

	changes := req.Changes
	if changes == nil {
		var err error
		if changes, err = Diff(before, after); err != nil {
			return nil, err
		}
	} else {
		for _, a := range []Auditable{before, after} {
			if a != nil && unlogged(a) {
				return nil, fmt.Errorf("type %T is not logged: %w", a, sentinel.ErrArgument)
			}
		}
		if before != nil && after != nil && reflect.TypeOf(before) != reflect.TypeOf(after) {
			return nil, fmt.Errorf("cannot record %T against %T: %w", before, after, sentinel.ErrArgument)
		}
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("no changes to record for item %q: %w", req.ItemID, sentinel.ErrArgument)
	}

	var operation Operation
	var subject Auditable
	switch {
	case before == nil && after == nil:
		return nil, fmt.Errorf("cannot classify changes without before or after: %w", sentinel.ErrArgument)
	case before == nil:
		operation, subject = OperationAdded, after
	case after == nil:
		operation, subject = OperationRemoved, before
	default:
		operation, subject = OperationEdited, after
	}

	itemType := subject.ItemType()
	if !itemType.Registered() {
		return nil, fmt.Errorf("item type %q of %T is not registered: %w", itemType, subject, sentinel.ErrNotImplemented)
	}

	changes = Redact(changes, SensitiveFields(before, after))

	record := &AuditRecord{
		ID:            r.newID(),
		Operation:     operation,
		ItemType:      itemType,
		ItemID:        req.ItemID,
		Timestamp:     r.now().UTC(),
		EditorID:      req.EditorID,
		Automated:     req.Automated,
		FieldsUpdated: FieldNames(changes),
		Changes:       changes,
		Comment:       req.Comment,
	}

	if err := r.sink.PersistChanges(ctx, record); err != nil {
		if errors.Is(err, sentinel.ErrLogging) {
			return nil, err
		}
		r.dropped(ctx, "changes", err).WithFields(logrus.Fields{
			"record_id": record.ID,
			"item_type": string(itemType),
			"item_id":   req.ItemID,
		}).Error("failed to persist audit record")
		return nil, nil
	}

	r.metrics.RecordAudit(string(operation), string(itemType))
	return record, nil
}

// LogEvent records a free-form message, tagged with the call site of LogEvent
func (r *Recorder) LogEvent(ctx context.Context, level Level, message string, userID, itemID *string) (*Event, error) {
	if !r.Enabled(level) {
		r.metrics.RecordDropped("event", "gated")
		return nil, nil
	}

	event := &Event{
		ID:            r.newID(),
		Timestamp:     r.now().UTC(),
		Message:       message,
		UserID:        userID,
		ItemID:        itemID,
		CallerContext: callerContext(ctx, 2),
	}

	if err := r.sink.PersistEvent(ctx, event); err != nil {
		if errors.Is(err, sentinel.ErrLogging) {
			return nil, err
		}
		r.dropped(ctx, "event", err).WithField("event_id", event.ID).Error("failed to persist audit event")
		return nil, nil
	}

	r.metrics.RecordEvent(level.String())
	return event, nil
}

func (r *Recorder) dropped(ctx context.Context, kind string, err error) *logrus.Entry {
	r.metrics.RecordDropped(kind, strings.ToLower(sentinel.Kind(err)))
	entry := r.log.WithError(err)
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}
	return entry
}

// callerContext renders "file:line function", plus the request id when the
// context carries one
func callerContext(ctx context.Context, skip int) string {
	caller := "unknown"
	if pc, file, line, ok := runtime.Caller(skip); ok {
		name := "unknown"
		if fn := runtime.FuncForPC(pc); fn != nil {
			name = fn.Name()
			if i := strings.LastIndex(name, "/"); i >= 0 {
				name = name[i+1:]
			}
		}
		caller = fmt.Sprintf("%s:%d %s", filepath.Base(file), line, name)
	}

	if requestID := observability.GetRequestID(ctx); requestID != "" {
		caller += " request:" + requestID
	}
	return caller
}
