package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/rallysync/pkg/logging"
)

// mockSubscriber is a push-style subscriber for testing.
type mockSubscriber struct {
	mu     sync.Mutex
	events []Event
	closed bool
	fail   bool
}

func (m *mockSubscriber) Send(event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("send failed")
	}
	m.events = append(m.events, event)
	return nil
}

func (m *mockSubscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockSubscriber) EventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockSubscriber) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func runBus(t *testing.T, queue int) *Bus {
	t.Helper()
	b := NewBus(logging.NewNopLogger(), queue)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-b.Done()
	})
	return b
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestBusDeliversInOrder(t *testing.T) {
	b := runBus(t, 0)
	sub := b.Subscribe(10)
	defer sub.Unsubscribe()

	require.True(t, b.Publish(New(SyncStarted, "teams")))
	require.True(t, b.Publish(New(SyncProgress, "teams").WithProgress(50)))
	require.True(t, b.Publish(New(SyncCompleted, "teams")))

	first := receive(t, sub)
	assert.Equal(t, SyncStarted, first.Type)
	assert.Equal(t, "teams", first.Collection)

	second := receive(t, sub)
	assert.Equal(t, SyncProgress, second.Type)
	require.NotNil(t, second.Progress)
	assert.Equal(t, 50, *second.Progress)

	assert.Equal(t, SyncCompleted, receive(t, sub).Type)
}

func TestBusFanOut(t *testing.T) {
	b := runBus(t, 0)
	subs := []*Subscription{b.Subscribe(4), b.Subscribe(4), b.Subscribe(4)}
	assert.Equal(t, 3, b.SubscriberCount())

	b.Publish(New(SyncError, "matches").WithError(errors.New("boom")))
	for _, sub := range subs {
		e := receive(t, sub)
		assert.Equal(t, SyncError, e.Type)
		assert.Equal(t, "boom", e.Error)
	}
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	b := runBus(t, 0)
	slow := b.Subscribe(1)
	fast := b.Subscribe(100)

	for range 10 {
		b.Publish(New(SyncProgress, "teams"))
	}

	for range 10 {
		receive(t, fast)
	}
	assert.Eventually(t, func() bool { return slow.Dropped() == 9 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, fast.Dropped())
}

func TestLateSubscriberSeesOnlyFutureEvents(t *testing.T) {
	b := runBus(t, 0)
	early := b.Subscribe(10)
	b.Publish(New(SyncStarted, "teams"))
	receive(t, early)

	late := b.Subscribe(10)
	b.Publish(New(SyncCompleted, "teams"))
	assert.Equal(t, SyncCompleted, receive(t, late).Type)
	assert.Equal(t, SyncCompleted, receive(t, early).Type)
}

func TestUnsubscribe(t *testing.T) {
	b := runBus(t, 0)
	sub := b.Subscribe(10)
	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub.Events()
	assert.False(t, ok)

	// Publishing after an unsubscribe must not panic on the closed channel.
	b.Publish(New(SyncStarted, "teams"))
}

func TestPublishQueueFull(t *testing.T) {
	// Not running: nothing drains the queue.
	b := NewBus(logging.NewNopLogger(), 2)
	assert.True(t, b.Publish(New(SyncStarted, "a")))
	assert.True(t, b.Publish(New(SyncStarted, "b")))
	assert.False(t, b.Publish(New(SyncStarted, "c")))
	assert.EqualValues(t, 1, b.Dropped())
}

func TestCloseIsIdempotent(t *testing.T) {
	b := NewBus(logging.NewNopLogger(), 0)
	sub := b.Subscribe(1)
	b.Close()
	b.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.False(t, b.Publish(New(SyncStarted, "teams")))

	after := b.Subscribe(1)
	_, ok = <-after.Events()
	assert.False(t, ok, "subscribing to a closed bus yields a closed channel")
}

func TestRunShutdownClosesSubscriptions(t *testing.T) {
	b := NewBus(logging.NewNopLogger(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	sub := b.Subscribe(1)
	cancel()
	<-b.Done()

	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestAttach(t *testing.T) {
	b := runBus(t, 0)
	mock := &mockSubscriber{}
	sub := b.Attach(mock, 10)

	b.Publish(New(SyncStarted, "teams"))
	b.Publish(New(SyncCompleted, "teams"))
	assert.Eventually(t, func() bool { return mock.EventCount() == 2 }, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	assert.Eventually(t, mock.Closed, time.Second, 5*time.Millisecond)
}

func TestAttachSurvivesSendErrors(t *testing.T) {
	b := runBus(t, 0)
	mock := &mockSubscriber{fail: true}
	b.Attach(mock, 10)

	b.Publish(New(SyncStarted, "teams"))
	mock.mu.Lock()
	mock.fail = false
	mock.mu.Unlock()
	b.Publish(New(SyncCompleted, "teams"))

	assert.Eventually(t, func() bool { return mock.EventCount() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestEventJSON(t *testing.T) {
	e := New(SyncProgress, "teams").WithProgress(40)
	data, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "sync-progress", decoded["type"])
	assert.Equal(t, "teams", decoded["collection"])
	assert.EqualValues(t, 40, decoded["progress"])
	assert.NotContains(t, decoded, "error")
	assert.Equal(t, e.ID.String(), decoded["id"])
	assert.Len(t, Types(), 4)
}
