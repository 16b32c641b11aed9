package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStorage struct {
	mu       sync.Mutex
	events   []Event
	storeErr error
	queryErr error
}

func (m *memoryStorage) Store(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeErr != nil {
		return m.storeErr
	}
	m.events = append(m.events, event)
	return nil
}

func (m *memoryStorage) Query(_ context.Context, _ EventFilters) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return append([]Event(nil), m.events...), nil
}

func (m *memoryStorage) stored() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func TestPublishAssignsIDAndTimestamp(t *testing.T) {
	store := &memoryStorage{}
	bus := NewEventBus(store)

	bus.Publish(Event{
		Type:     EventServerCreated,
		Source:   "server_service",
		ServerID: "ab12cd34",
		Owner:    "alice@example.com",
	})

	stored := store.stored()
	require.Len(t, stored, 1)
	assert.NotEmpty(t, stored[0].ID)
	assert.False(t, stored[0].Timestamp.IsZero())
	assert.Equal(t, EventServerCreated, stored[0].Type)
	assert.Equal(t, "ab12cd34", stored[0].ServerID)
}

func TestPublishNotifiesSubscribers(t *testing.T) {
	bus := NewEventBus(nil)
	received := make(chan Event, 1)

	bus.Subscribe(EventServerStarted, func(event Event) {
		received <- event
	})
	bus.Publish(Event{Type: EventServerStarted, ServerID: "ab12cd34"})

	select {
	case event := <-received:
		assert.Equal(t, "ab12cd34", event.ServerID)
		assert.NotEmpty(t, event.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber was not notified")
	}
}

func TestPublishIgnoresOtherEventTypes(t *testing.T) {
	bus := NewEventBus(nil)
	received := make(chan Event, 1)

	bus.Subscribe(EventServerDeleted, func(event Event) {
		received <- event
	})
	bus.Publish(Event{Type: EventServerStarted, ServerID: "ab12cd34"})

	select {
	case <-received:
		t.Fatal("handler received an event type it never subscribed to")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishSurvivesStorageFailure(t *testing.T) {
	store := &memoryStorage{storeErr: errors.New("write timeout")}
	bus := NewEventBus(store)
	received := make(chan Event, 1)

	bus.Subscribe(EventServerStopped, func(event Event) {
		received <- event
	})
	bus.Publish(Event{Type: EventServerStopped, ServerID: "ab12cd34"})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("storage failure must not block subscribers")
	}
}

func TestPublishRecoversPanickingHandler(t *testing.T) {
	bus := NewEventBus(nil)
	received := make(chan Event, 1)

	bus.Subscribe(EventServerCreated, func(Event) {
		panic("handler bug")
	})
	bus.Subscribe(EventServerCreated, func(event Event) {
		received <- event
	})
	bus.Publish(Event{Type: EventServerCreated, ServerID: "ab12cd34"})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("panicking sibling handler must not take down the others")
	}
}

func TestQueryWithoutStorage(t *testing.T) {
	bus := NewEventBus(nil)

	result, err := bus.Query(context.Background(), EventFilters{})

	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestMultiStorageStoresInAllBackends(t *testing.T) {
	first := &memoryStorage{}
	second := &memoryStorage{}
	multi := NewMultiEventStorage(first, second)

	err := multi.Store(context.Background(), Event{ID: "e1", Type: EventPortAllocated})

	require.NoError(t, err)
	assert.Len(t, first.stored(), 1)
	assert.Len(t, second.stored(), 1)
}

func TestMultiStorageReportsStoreFailure(t *testing.T) {
	broken := &memoryStorage{storeErr: errors.New("backend down")}
	healthy := &memoryStorage{}
	multi := NewMultiEventStorage(broken, healthy)

	err := multi.Store(context.Background(), Event{ID: "e1", Type: EventPortAllocated})

	require.Error(t, err)
	assert.Len(t, healthy.stored(), 1)
}

func TestMultiStorageQueryFallsBack(t *testing.T) {
	broken := &memoryStorage{queryErr: errors.New("backend down")}
	healthy := &memoryStorage{}
	require.NoError(t, healthy.Store(context.Background(), Event{ID: "e1", Type: EventDNSRetried}))
	multi := NewMultiEventStorage(broken, healthy)

	result, err := multi.Query(context.Background(), EventFilters{})

	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "e1", result[0].ID)
}
