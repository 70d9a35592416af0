package events_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/settlrhq/settlr/internal/events"
	"github.com/settlrhq/settlr/internal/webhook"
)

type recordingStore struct {
	events []webhook.Event
	err    error
}

func (r *recordingStore) InsertEvent(_ context.Context, _ string, ev webhook.Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

type recordingScheduler struct {
	dispatched []webhook.Event
	err        error
}

func (r *recordingScheduler) Dispatch(_ context.Context, _ string, ev webhook.Event) error {
	r.dispatched = append(r.dispatched, ev)
	return r.err
}

func TestEmitPersistsThenSchedules(t *testing.T) {
	store := &recordingStore{}
	sched := &recordingScheduler{}
	bus := &events.Bus{Store: store, Scheduler: sched}

	ev, err := bus.Emit(context.Background(), "mer_1", webhook.TypePaymentCompleted, map[string]string{"id": "pay_1"})
	require.NoError(t, err)
	require.NotEmpty(t, ev.ID)
	require.Len(t, store.events, 1)
	require.Len(t, sched.dispatched, 1)
	require.Equal(t, store.events[0].ID, sched.dispatched[0].ID)
}

func TestEmitAbortsWhenStoreFails(t *testing.T) {
	store := &recordingStore{err: errors.New("db down")}
	sched := &recordingScheduler{}
	bus := &events.Bus{Store: store, Scheduler: sched}

	_, err := bus.Emit(context.Background(), "mer_1", webhook.TypePaymentCompleted, nil)
	require.Error(t, err)
	require.Empty(t, sched.dispatched)
}

func TestEmitReportsSchedulerFailureWithoutUndoingRecord(t *testing.T) {
	store := &recordingStore{}
	sched := &recordingScheduler{err: errors.New("queue full")}
	bus := &events.Bus{Store: store, Scheduler: sched}

	_, err := bus.Emit(context.Background(), "mer_1", webhook.TypePaymentFailed, nil)
	require.Error(t, err)
	require.Len(t, store.events, 1)
}

func TestEmitRequiresMerchant(t *testing.T) {
	bus := &events.Bus{}
	_, err := bus.Emit(context.Background(), "", webhook.TypePaymentCompleted, nil)
	require.Error(t, err)
}
