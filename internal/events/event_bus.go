package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockgate/hosting/pkg/logger"
)

// EventType identifies a control-plane event.
type EventType string

const (
	// Server lifecycle events
	EventServerCreated    EventType = "server.created"
	EventServerDeleted    EventType = "server.deleted"
	EventServerStarted    EventType = "server.started"
	EventServerStopped    EventType = "server.stopped"
	EventServerRedeployed EventType = "server.redeployed"

	// Provisioning events
	EventPortAllocated EventType = "port.allocated"
	EventDNSPublished  EventType = "dns.published"
	EventDNSRetried    EventType = "dns.retried"

	// Fleet and account events
	EventProxyReconciled EventType = "proxy.reconciled"
	EventUserRegistered  EventType = "user.registered"
)

// Event is one control-plane occurrence. ServerID carries the server's
// unique ID; Owner the account email.
type Event struct {
	ID        string                 `bson:"_id" json:"id"`
	Type      EventType              `bson:"type" json:"type"`
	Timestamp time.Time              `bson:"timestamp" json:"timestamp"`
	Source    string                 `bson:"source" json:"source"`
	ServerID  string                 `bson:"server_id,omitempty" json:"server-id,omitempty"`
	Owner     string                 `bson:"owner,omitempty" json:"owner,omitempty"`
	Data      map[string]interface{} `bson:"data,omitempty" json:"data,omitempty"`
}

// EventHandler consumes a published event.
type EventHandler func(event Event)

// EventStorage persists and queries the event history.
type EventStorage interface {
	Store(ctx context.Context, event Event) error
	Query(ctx context.Context, filters EventFilters) ([]Event, error)
}

// EventFilters narrows an event history query.
type EventFilters struct {
	Types     []EventType
	ServerID  string
	Owner     string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

const storeTimeout = 5 * time.Second

// EventBus fans published events out to subscribers and the configured
// storage. Handlers run asynchronously; a slow handler never blocks the
// publishing operation.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]EventHandler
	storage     EventStorage
}

var (
	globalBus     *EventBus
	globalBusOnce sync.Once
)

// GetEventBus returns the process-wide bus.
func GetEventBus() *EventBus {
	globalBusOnce.Do(func() {
		globalBus = NewEventBus(nil)
	})
	return globalBus
}

// SetEventStorage wires a storage backend into the process-wide bus.
func SetEventStorage(storage EventStorage) {
	bus := GetEventBus()
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.storage = storage
}

func NewEventBus(storage EventStorage) *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]EventHandler),
		storage:     storage,
	}
}

// Subscribe registers a handler for one event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], handler)
}

// Publish stores the event and notifies subscribers. Storage failures are
// logged and never propagate into the operation that published.
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	eb.mu.RLock()
	storage := eb.storage
	handlers := eb.subscribers[event.Type]
	eb.mu.RUnlock()

	if storage != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := storage.Store(ctx, event); err != nil {
			logger.Error("Failed to store event", err, map[string]interface{}{
				"event_id":   event.ID,
				"event_type": event.Type,
			})
		}
	}

	for _, handler := range handlers {
		go func(h EventHandler) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Event handler panicked", nil, map[string]interface{}{
						"event_type": event.Type,
						"panic":      r,
					})
				}
			}()
			h(event)
		}(handler)
	}

	logger.Debug("Event published", map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
		"source":     event.Source,
	})
}

// Query reads the event history. Without a storage backend there is no
// history and the result is empty.
func (eb *EventBus) Query(ctx context.Context, filters EventFilters) ([]Event, error) {
	eb.mu.RLock()
	storage := eb.storage
	eb.mu.RUnlock()

	if storage == nil {
		return nil, nil
	}
	return storage.Query(ctx, filters)
}
