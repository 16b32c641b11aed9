package events

import (
	"context"

	"github.com/blockgate/hosting/internal/storage"
)

// InfluxDBEventStorage mirrors the event history into InfluxDB for
// time-series analysis.
type InfluxDBEventStorage struct {
	client *storage.InfluxDBClient
}

func NewInfluxDBEventStorage(client *storage.InfluxDBClient) *InfluxDBEventStorage {
	return &InfluxDBEventStorage{client: client}
}

func (s *InfluxDBEventStorage) Store(_ context.Context, event Event) error {
	s.client.WriteEvent(storage.EventRecord{
		ID:        event.ID,
		Type:      string(event.Type),
		Timestamp: event.Timestamp,
		Source:    event.Source,
		ServerID:  event.ServerID,
		Owner:     event.Owner,
		Data:      event.Data,
	})
	return nil
}

func (s *InfluxDBEventStorage) Query(ctx context.Context, filters EventFilters) ([]Event, error) {
	query := storage.EventQuery{
		Types:     make([]string, len(filters.Types)),
		ServerID:  filters.ServerID,
		Owner:     filters.Owner,
		StartTime: filters.StartTime,
		EndTime:   filters.EndTime,
		Limit:     filters.Limit,
	}
	for i, t := range filters.Types {
		query.Types[i] = string(t)
	}

	records, err := s.client.QueryEvents(ctx, query)
	if err != nil {
		return nil, err
	}

	result := make([]Event, len(records))
	for i, record := range records {
		result[i] = Event{
			ID:        record.ID,
			Type:      EventType(record.Type),
			Timestamp: record.Timestamp,
			Source:    record.Source,
			ServerID:  record.ServerID,
			Owner:     record.Owner,
			Data:      record.Data,
		}
	}
	return result, nil
}
