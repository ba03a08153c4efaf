package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ledger/pkg/sentinel"
)

func TestMultiSink_FanOut(t *testing.T) {
	first, second := &fakeSink{}, &fakeSink{}
	multi := NewMultiSink(first, second)
	ctx := context.Background()

	require.NoError(t, multi.PersistEvent(ctx, &Event{ID: "e1"}))
	require.NoError(t, multi.PersistChanges(ctx, &AuditRecord{ID: "r1"}))

	for _, s := range []*fakeSink{first, second} {
		assert.Len(t, s.events, 1)
		assert.Len(t, s.records, 1)
	}
	assert.Len(t, multi.Sinks(), 2)
}

func TestMultiSink_ContinuesAfterFailure(t *testing.T) {
	boom := errors.New("disk full")
	failing, healthy := &fakeSink{persistErr: boom}, &fakeSink{}
	multi := NewMultiSink(failing, healthy)

	err := multi.PersistChanges(context.Background(), &AuditRecord{ID: "r1"})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, healthy.records, 1)
}

func TestMultiSink_ReportsFirstErrorInSinkOrder(t *testing.T) {
	first, second := errors.New("first"), fmt.Errorf("second: %w", sentinel.ErrLogging)
	multi := NewMultiSink(&fakeSink{persistErr: first}, &fakeSink{}, &fakeSink{persistErr: second})

	for i := 0; i < 20; i++ {
		err := multi.PersistEvent(context.Background(), &Event{ID: "e1"})
		assert.ErrorIs(t, err, first)
	}
}

func TestMultiSink_WritesConcurrently(t *testing.T) {
	gate := make(chan struct{})
	waiting, releasing := &blockingSink{gate: gate}, &releasingSink{gate: gate}
	multi := NewMultiSink(waiting, releasing)

	done := make(chan error, 1)
	go func() { done <- multi.PersistChanges(context.Background(), &AuditRecord{ID: "r1"}) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("a sink waiting on another sink should not block the fan-out")
	}
}

// blockingSink waits for its gate before accepting a record
type blockingSink struct {
	fakeSink
	gate chan struct{}
}

func (s *blockingSink) PersistChanges(ctx context.Context, record *AuditRecord) error {
	<-s.gate
	return nil
}

// releasingSink opens the gate
type releasingSink struct {
	fakeSink
	gate chan struct{}
}

func (s *releasingSink) PersistChanges(ctx context.Context, record *AuditRecord) error {
	close(s.gate)
	return nil
}

func TestMultiSink_QueriesSkipUnqueryableSinks(t *testing.T) {
	text := NewTextFileSink(newTestRotation(t, "log", newFakeClock(sinkTime)))
	store := &fakeSink{}
	multi := NewMultiSink(text, store)
	ctx := context.Background()

	require.NoError(t, multi.PersistChanges(ctx, &AuditRecord{ID: "r1", ItemID: "u1", Timestamp: sinkTime}))

	records, err := multi.QueryChanges(ctx, Query{ItemID: "u1"})
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = NewMultiSink(text).QueryEvents(ctx, Query{})
	assert.True(t, errors.Is(err, sentinel.ErrNotImplemented))
}

func TestMultiSink_CensorUnionsIDs(t *testing.T) {
	multi := NewMultiSink(
		&fakeSink{censored: []string{"r1", "r2"}},
		&fakeSink{censored: []string{"r2", "r3"}},
	)

	ids, err := multi.Censor(context.Background(), []string{"email"}, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2", "r3"}, ids)
}
