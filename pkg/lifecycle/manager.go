package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/ledger/pkg/audit"
	"github.com/platinummonkey/ledger/pkg/entity"
	"github.com/platinummonkey/ledger/pkg/keylock"
	"github.com/platinummonkey/ledger/pkg/observability"
	"github.com/platinummonkey/ledger/pkg/repository"
	"github.com/platinummonkey/ledger/pkg/sentinel"
)

var tracer = otel.Tracer("ledger/lifecycle")

// protectedFields are owned by the manager and never taken from a patch
var protectedFields = []string{"id", "added", "deleted"}

// Record is an entity the manager can store and audit
type Record interface {
	entity.Entity
	audit.Auditable
}

// Config configures a Manager
type Config[T Record] struct {
	Repository repository.Repository[T]
	// New returns an empty value to decode into
	New func() T

	// Recorder is optional; without one nothing is audited
	Recorder *audit.Recorder
	// Level of emitted audit records, defaults to audit.LevelInfo
	Level audit.Level

	Logger  *logrus.Logger
	Metrics *observability.Metrics
	Tracer  trace.Tracer
	Clock   func() time.Time
	Rand    *rand.Rand
	NewID   func() string
}

// Manager drives one entity type through the Active and SoftDeleted states
// and records an audit trail of every mutation
type Manager[T Record] struct {
	repo     repository.Repository[T]
	newT     func() T
	itemType string

	recorder *audit.Recorder
	level    audit.Level

	log     *logrus.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string

	randMu sync.Mutex
	rand   *rand.Rand

	locks *keylock.Map
}

// NewManager creates a manager
func NewManager[T Record](config Config[T]) (*Manager[T], error) {
	if config.Repository == nil {
		return nil, fmt.Errorf("lifecycle manager requires a repository: %w", sentinel.ErrConfiguration)
	}
	if config.New == nil {
		return nil, fmt.Errorf("lifecycle manager requires a constructor: %w", sentinel.ErrConfiguration)
	}

	m := &Manager[T]{
		repo:     config.Repository,
		newT:     config.New,
		itemType: string(config.New().ItemType()),
		recorder: config.Recorder,
		level:    config.Level,
		log:      config.Logger,
		metrics:  config.Metrics,
		tracer:   config.Tracer,
		now:      config.Clock,
		newID:    config.NewID,
		rand:     config.Rand,
		locks:    keylock.New(),
	}
	if m.level == 0 {
		m.level = audit.LevelInfo
	}
	if m.log == nil {
		m.log = logrus.New()
	}
	if m.tracer == nil {
		m.tracer = tracer
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	if m.rand == nil {
		m.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return m, nil
}

// ItemType returns the audit tag of the managed type
func (m *Manager[T]) ItemType() string {
	return m.itemType
}

// Add stores a new entity. An empty id is replaced by a generated one.
func (m *Manager[T]) Add(ctx context.Context, e T, editorID string) (result T, err error) {
	if e.GetID() == "" {
		e.SetID(m.newID())
	}
	id := e.GetID()

	ctx, done := m.begin(ctx, "Add", id)
	defer func() { done(err) }()

	unlock := m.locks.Lock(id)
	defer unlock()

	var zero T
	if _, found, err := m.repo.FindByID(ctx, id); err != nil {
		return zero, databaseError("look up", id, err)
	} else if found {
		return zero, fmt.Errorf("%s %q already exists: %w", m.itemType, id, sentinel.ErrDuplicate)
	}

	e.SetAdded(m.now().UTC())
	e.SetDeleted(nil)

	saved, err := m.save(ctx, id, e, true)
	if err != nil {
		return zero, err
	}

	return saved, m.audit(ctx, audit.ChangeRequest{After: saved, ItemID: id, EditorID: editorID})
}

// Get returns the entity with id. SoftDeleted entities are only visible when
// includeSoftDeleted is set.
func (m *Manager[T]) Get(ctx context.Context, id string, includeSoftDeleted bool) (result T, err error) {
	ctx, done := m.begin(ctx, "Get", id)
	defer func() { done(err) }()

	return m.find(ctx, id, includeSoftDeleted)
}

// GetAll lists visible entities. A nil page returns everything.
func (m *Manager[T]) GetAll(ctx context.Context, includeSoftDeleted bool, page *repository.Page) (result []T, err error) {
	ctx, done := m.begin(ctx, "GetAll", "")
	defer func() { done(err) }()

	pred := visible[T](includeSoftDeleted)
	if page == nil {
		result, err = m.repo.Query(ctx, pred)
	} else {
		p := page.Normalize()
		result, err = m.repo.QueryPage(ctx, pred, p.Page, p.Size)
	}
	if err != nil {
		return nil, databaseError("list", m.itemType, err)
	}
	return result, nil
}

// GetRandom picks one visible entity uniformly
func (m *Manager[T]) GetRandom(ctx context.Context, includeSoftDeleted bool) (result T, err error) {
	ctx, done := m.begin(ctx, "GetRandom", "")
	defer func() { done(err) }()

	var zero T
	items, err := m.repo.Query(ctx, visible[T](includeSoftDeleted))
	if err != nil {
		return zero, databaseError("list", m.itemType, err)
	}
	if len(items) == 0 {
		return zero, fmt.Errorf("no %s to pick from: %w", m.itemType, sentinel.ErrNotFound)
	}

	m.randMu.Lock()
	i := m.rand.Intn(len(items))
	m.randMu.Unlock()

	return items[i], nil
}

// Update replaces the stored entity with e. The stored added and deleted
// timestamps are kept.
func (m *Manager[T]) Update(ctx context.Context, e T, editorID string, includeSoftDeleted bool) (result T, err error) {
	id := e.GetID()

	ctx, done := m.begin(ctx, "Update", id)
	defer func() { done(err) }()

	var zero T
	if id == "" {
		return zero, fmt.Errorf("cannot update %s without an id: %w", m.itemType, sentinel.ErrArgument)
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	current, err := m.find(ctx, id, includeSoftDeleted)
	if err != nil {
		return zero, err
	}

	e.SetAdded(current.GetAdded())
	e.SetDeleted(current.GetDeleted())

	saved, err := m.save(ctx, id, e, false)
	if err != nil {
		return zero, err
	}

	return saved, m.audit(ctx, audit.ChangeRequest{Before: current, After: saved, ItemID: id, EditorID: editorID})
}

// Patch applies a JSON merge patch to the visible entity with id and returns
// the merged value without storing it. Patches to id, added and deleted are
// ignored.
func (m *Manager[T]) Patch(ctx context.Context, id string, patch []byte) (result T, err error) {
	ctx, done := m.begin(ctx, "Patch", id)
	defer func() { done(err) }()

	var zero T
	current, err := m.find(ctx, id, false)
	if err != nil {
		return zero, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil {
		return zero, fmt.Errorf("malformed patch for %q: %w: %w", id, sentinel.ErrArgument, err)
	}
	for _, name := range protectedFields {
		delete(fields, name)
	}
	cleaned, err := json.Marshal(fields)
	if err != nil {
		return zero, fmt.Errorf("malformed patch for %q: %w: %w", id, sentinel.ErrArgument, err)
	}

	original, err := json.Marshal(current)
	if err != nil {
		return zero, fmt.Errorf("failed to encode %q: %w", id, err)
	}
	merged, err := jsonpatch.MergePatch(original, cleaned)
	if err != nil {
		return zero, fmt.Errorf("failed to merge patch for %q: %w: %w", id, sentinel.ErrArgument, err)
	}

	out := m.newT()
	if err := json.Unmarshal(merged, out); err != nil {
		return zero, fmt.Errorf("patch for %q does not fit %s: %w: %w", id, m.itemType, sentinel.ErrArgument, err)
	}
	out.SetID(current.GetID())
	out.SetAdded(current.GetAdded())
	out.SetDeleted(current.GetDeleted())

	return out, nil
}

// Delete soft-deletes the entity with id
func (m *Manager[T]) Delete(ctx context.Context, id, editorID string) (err error) {
	ctx, done := m.begin(ctx, "Delete", id)
	defer func() { done(err) }()

	unlock := m.locks.Lock(id)
	defer unlock()

	current, err := m.find(ctx, id, true)
	if err != nil {
		return err
	}
	if current.IsSoftDeleted() {
		return fmt.Errorf("%s %q is already deleted: %w", m.itemType, id, sentinel.ErrArgument)
	}

	now := m.now().UTC()
	current.SetDeleted(&now)

	saved, err := m.save(ctx, id, current, false)
	if err != nil {
		return err
	}

	return m.audit(ctx, audit.ChangeRequest{
		Before:   current,
		After:    saved,
		ItemID:   id,
		EditorID: editorID,
		Changes:  []audit.FieldChange{{FieldName: "deleted", NewValue: entity.FormatTimePtr(&now)}},
	})
}

// Restore clears the deletion timestamp of a SoftDeleted entity
func (m *Manager[T]) Restore(ctx context.Context, id, editorID string) (err error) {
	ctx, done := m.begin(ctx, "Restore", id)
	defer func() { done(err) }()

	unlock := m.locks.Lock(id)
	defer unlock()

	current, err := m.find(ctx, id, true)
	if err != nil {
		return err
	}
	if !current.IsSoftDeleted() {
		return fmt.Errorf("%s %q is not deleted: %w", m.itemType, id, sentinel.ErrArgument)
	}

	deletedAt := entity.FormatTimePtr(current.GetDeleted())
	current.SetDeleted(nil)

	saved, err := m.save(ctx, id, current, false)
	if err != nil {
		return err
	}

	return m.audit(ctx, audit.ChangeRequest{
		Before:   current,
		After:    saved,
		ItemID:   id,
		EditorID: editorID,
		Changes:  []audit.FieldChange{{FieldName: "deleted", OldValue: deletedAt}},
	})
}

// Remove permanently deletes the entity with id
func (m *Manager[T]) Remove(ctx context.Context, id, editorID string, includeSoftDeleted bool) (err error) {
	ctx, done := m.begin(ctx, "Remove", id)
	defer func() { done(err) }()

	unlock := m.locks.Lock(id)
	defer unlock()

	current, err := m.find(ctx, id, includeSoftDeleted)
	if err != nil {
		return err
	}

	removed, err := m.repo.DeleteByID(ctx, id)
	if err != nil {
		return databaseError("remove", id, err)
	}
	if removed == nil {
		return fmt.Errorf("repository removed nothing for %q: %w", id, sentinel.ErrDatabase)
	}

	return m.audit(ctx, audit.ChangeRequest{Before: current, ItemID: id, EditorID: editorID})
}

// Exists reports whether id is stored, deleted or not
func (m *Manager[T]) Exists(ctx context.Context, id string) (bool, error) {
	_, err := m.Get(ctx, id, true)
	if sentinel.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// IsDeleted reports whether id is stored and SoftDeleted
func (m *Manager[T]) IsDeleted(ctx context.Context, id string) (bool, error) {
	e, err := m.Get(ctx, id, true)
	if sentinel.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.IsSoftDeleted(), nil
}

func (m *Manager[T]) find(ctx context.Context, id string, includeSoftDeleted bool) (T, error) {
	var zero T
	e, found, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return zero, databaseError("look up", id, err)
	}
	if !found {
		return zero, fmt.Errorf("%s %q: %w", m.itemType, id, sentinel.ErrNotFound)
	}
	if e.IsSoftDeleted() && !includeSoftDeleted {
		return zero, fmt.Errorf("%s %q is deleted: %w", m.itemType, id, sentinel.ErrNotFound)
	}
	return e, nil
}

func (m *Manager[T]) save(ctx context.Context, id string, e T, asNew bool) (T, error) {
	saved, err := m.repo.Save(ctx, id, e, asNew)
	if err != nil {
		if errors.Is(err, sentinel.ErrDuplicate) {
			return saved, err
		}
		return saved, databaseError("save", id, err)
	}
	return saved, nil
}

// audit records the change. Only a sink that must surface its failures can
// make this return an error, and the mutation has been committed by then.
func (m *Manager[T]) audit(ctx context.Context, req audit.ChangeRequest) error {
	if m.recorder == nil {
		return nil
	}
	req.Level = m.level
	req.Automated = IsAutomated(ctx)

	_, err := m.recorder.LogChanges(ctx, req)
	if err == nil {
		return nil
	}

	entry := m.log.WithError(err).WithFields(logrus.Fields{
		"item_type": m.itemType,
		"item_id":   req.ItemID,
		"editor_id": req.EditorID,
	})
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}
	entry = observability.WithTraceContext(ctx, entry)

	if errors.Is(err, sentinel.ErrLogging) {
		entry.Error("audit trail write failed")
		return fmt.Errorf("%s %q changed but not audited: %w", m.itemType, req.ItemID, err)
	}
	entry.Warn("audit record skipped")
	return nil
}

func (m *Manager[T]) begin(ctx context.Context, op, id string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "lifecycle."+op, trace.WithAttributes(
		attribute.String("item.type", m.itemType),
		attribute.String("item.id", id),
	))

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, sentinel.Kind(err))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		m.metrics.RecordLifecycle(op, m.itemType, err, time.Since(start))
	}
}

func visible[T Record](includeSoftDeleted bool) func(T) bool {
	return func(e T) bool {
		return includeSoftDeleted || !e.IsSoftDeleted()
	}
}

func databaseError(action, id string, err error) error {
	if errors.Is(err, sentinel.ErrDatabase) {
		return fmt.Errorf("failed to %s %q: %w", action, id, err)
	}
	return fmt.Errorf("failed to %s %q: %w: %w", action, id, sentinel.ErrDatabase, err)
}
