package audit

import (
	"context"
	"fmt"

	"github.com/platinummonkey/ledger/pkg/sentinel"
)

// EventSink receives events
type EventSink interface {
	PersistEvent(ctx context.Context, event *Event) error
}

// ChangeSink receives audit records
type ChangeSink interface {
	PersistChanges(ctx context.Context, record *AuditRecord) error
}

// QuerySink answers queries
type QuerySink interface {
	QueryEvents(ctx context.Context, q Query) ([]*Event, error)
	QueryChanges(ctx context.Context, q Query) ([]*AuditRecord, error)
}

// CensorSink redacts stored values
type CensorSink interface {
	Censor(ctx context.Context, fieldNames []string, itemID string) ([]string, error)
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(ctx context.Context, event *Event) error

func (f EventSinkFunc) PersistEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// ChangeSinkFunc adapts a function to ChangeSink
type ChangeSinkFunc func(ctx context.Context, record *AuditRecord) error

func (f ChangeSinkFunc) PersistChanges(ctx context.Context, record *AuditRecord) error {
	return f(ctx, record)
}

// QuerySinkFuncs adapts a pair of functions to QuerySink
type QuerySinkFuncs struct {
	Events  func(ctx context.Context, q Query) ([]*Event, error)
	Changes func(ctx context.Context, q Query) ([]*AuditRecord, error)
}

func (f QuerySinkFuncs) QueryEvents(ctx context.Context, q Query) ([]*Event, error) {
	return f.Events(ctx, q)
}

func (f QuerySinkFuncs) QueryChanges(ctx context.Context, q Query) ([]*AuditRecord, error) {
	return f.Changes(ctx, q)
}

// CensorSinkFunc adapts a function to CensorSink
type CensorSinkFunc func(ctx context.Context, fieldNames []string, itemID string) ([]string, error)

func (f CensorSinkFunc) Censor(ctx context.Context, fieldNames []string, itemID string) ([]string, error) {
	return f(ctx, fieldNames, itemID)
}

// CallbackStrategies holds the user supplied behaviour of a CallbackSink
type CallbackStrategies struct {
	Events  EventSink
	Changes ChangeSink
	Queries QuerySink
	Censor  CensorSink
}

// CallbackSink delegates every operation to its strategies
type CallbackSink struct {
	strategies CallbackStrategies
}

// NewCallbackSink creates a callback sink. Every strategy is required.
func NewCallbackSink(strategies CallbackStrategies) (*CallbackSink, error) {
	missing := ""
	switch {
	case strategies.Events == nil:
		missing = "events"
	case strategies.Changes == nil:
		missing = "changes"
	case strategies.Queries == nil:
		missing = "queries"
	case strategies.Censor == nil:
		missing = "censor"
	}
	if missing != "" {
		return nil, fmt.Errorf("callback sink is missing its %s strategy: %w", missing, sentinel.ErrConfiguration)
	}

	// QuerySinkFuncs with a nil member is as unusable as a nil strategy
	if funcs, ok := strategies.Queries.(QuerySinkFuncs); ok && (funcs.Events == nil || funcs.Changes == nil) {
		return nil, fmt.Errorf("callback sink query functions are incomplete: %w", sentinel.ErrConfiguration)
	}

	return &CallbackSink{strategies: strategies}, nil
}

func (s *CallbackSink) PersistEvent(ctx context.Context, event *Event) error {
	return s.strategies.Events.PersistEvent(ctx, event)
}

func (s *CallbackSink) PersistChanges(ctx context.Context, record *AuditRecord) error {
	return s.strategies.Changes.PersistChanges(ctx, record)
}

func (s *CallbackSink) QueryEvents(ctx context.Context, q Query) ([]*Event, error) {
	return s.strategies.Queries.QueryEvents(ctx, q)
}

func (s *CallbackSink) QueryChanges(ctx context.Context, q Query) ([]*AuditRecord, error) {
	return s.strategies.Queries.QueryChanges(ctx, q)
}

func (s *CallbackSink) Censor(ctx context.Context, fieldNames []string, itemID string) ([]string, error) {
	return s.strategies.Censor.Censor(ctx, fieldNames, itemID)
}
