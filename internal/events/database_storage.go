package events

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/blockgate/hosting/internal/repository"
)

const defaultQueryLimit = 1000

// MongoEventStorage keeps the event history in the events collection.
type MongoEventStorage struct {
	events *mongo.Collection
}

func NewMongoEventStorage(db *repository.Database) *MongoEventStorage {
	return &MongoEventStorage{events: db.Collection("events")}
}

func (s *MongoEventStorage) Store(ctx context.Context, event Event) error {
	if _, err := s.events.InsertOne(ctx, event); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Query returns matching events, newest first.
func (s *MongoEventStorage) Query(ctx context.Context, filters EventFilters) ([]Event, error) {
	filter := bson.M{}
	if len(filters.Types) > 0 {
		filter["type"] = bson.M{"$in": filters.Types}
	}
	if filters.ServerID != "" {
		filter["server_id"] = filters.ServerID
	}
	if filters.Owner != "" {
		filter["owner"] = filters.Owner
	}
	timeRange := bson.M{}
	if !filters.StartTime.IsZero() {
		timeRange["$gte"] = filters.StartTime
	}
	if !filters.EndTime.IsZero() {
		timeRange["$lte"] = filters.EndTime
	}
	if len(timeRange) > 0 {
		filter["timestamp"] = timeRange
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.events.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer cursor.Close(ctx)

	var result []Event
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}
	return result, nil
}
