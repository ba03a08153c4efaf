package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/ledger/pkg/sentinel"
)

// MultiSink fans writes out to several sinks concurrently and reads from the
// first sink able to answer
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink over sinks. Sink order decides which error is
// reported and which sink answers queries.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// PersistEvent writes to every sink and returns the first error in sink order
func (m *MultiSink) PersistEvent(ctx context.Context, event *Event) error {
	return m.fanOut(func(sink Sink) error {
		return sink.PersistEvent(ctx, event)
	})
}

// PersistChanges writes to every sink and returns the first error in sink order
func (m *MultiSink) PersistChanges(ctx context.Context, record *AuditRecord) error {
	return m.fanOut(func(sink Sink) error {
		return sink.PersistChanges(ctx, record)
	})
}

// fanOut runs write against every sink. A failing sink does not stop the others.
func (m *MultiSink) fanOut(write func(sink Sink) error) error {
	errs := make([]error, len(m.sinks))

	var g errgroup.Group
	for i, sink := range m.sinks {
		g.Go(func() error {
			errs[i] = write(sink)
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// QueryEvents asks the sinks in order and answers from the first that can query
func (m *MultiSink) QueryEvents(ctx context.Context, q Query) ([]*Event, error) {
	for _, sink := range m.sinks {
		events, err := sink.QueryEvents(ctx, q)
		if errors.Is(err, sentinel.ErrNotImplemented) {
			continue
		}
		return events, err
	}
	return nil, fmt.Errorf("no sink can query events: %w", sentinel.ErrNotImplemented)
}

// QueryChanges asks the sinks in order and answers from the first that can query
func (m *MultiSink) QueryChanges(ctx context.Context, q Query) ([]*AuditRecord, error) {
	for _, sink := range m.sinks {
		records, err := sink.QueryChanges(ctx, q)
		if errors.Is(err, sentinel.ErrNotImplemented) {
			continue
		}
		return records, err
	}
	return nil, fmt.Errorf("no sink can query changes: %w", sentinel.ErrNotImplemented)
}

// Censor censors every sink and returns the union of touched ids
func (m *MultiSink) Censor(ctx context.Context, fieldNames []string, itemID string) ([]string, error) {
	var ids []string
	var firstErr error
	for _, sink := range m.sinks {
		found, err := sink.Censor(ctx, fieldNames, itemID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ids = append(ids, found...)
	}
	return lo.Uniq(ids), firstErr
}

// Sinks returns the wrapped sinks
func (m *MultiSink) Sinks() []Sink {
	return m.sinks
}
