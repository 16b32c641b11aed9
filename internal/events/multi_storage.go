package events

import (
	"context"

	"github.com/blockgate/hosting/pkg/logger"
)

// MultiEventStorage fans writes out to several backends. Queries prefer
// the first backend and fall through on failure, so the durable store
// should come first and analytics sinks after it.
type MultiEventStorage struct {
	backends []EventStorage
}

func NewMultiEventStorage(backends ...EventStorage) *MultiEventStorage {
	return &MultiEventStorage{backends: backends}
}

// Store writes to every backend. One failing backend does not stop the
// others; the last failure is returned.
func (s *MultiEventStorage) Store(ctx context.Context, event Event) error {
	var lastErr error
	for _, backend := range s.backends {
		if err := backend.Store(ctx, event); err != nil {
			logger.Error("Failed to store event in backend", err, map[string]interface{}{
				"event_id":   event.ID,
				"event_type": event.Type,
			})
			lastErr = err
		}
	}
	return lastErr
}

// Query returns results from the first backend that answers.
func (s *MultiEventStorage) Query(ctx context.Context, filters EventFilters) ([]Event, error) {
	var lastErr error
	for i, backend := range s.backends {
		result, err := backend.Query(ctx, filters)
		if err == nil {
			return result, nil
		}
		logger.Warn("Failed to query events from backend", map[string]interface{}{
			"backend_index": i,
			"error":         err.Error(),
		})
		lastErr = err
	}
	return nil, lastErr
}
