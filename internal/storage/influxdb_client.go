package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/blockgate/hosting/pkg/logger"
)

const eventMeasurement = "control_plane_event"

// EventRecord is the time-series shape of a control-plane event. It is
// deliberately independent of internal/events so the two packages can
// evolve separately.
type EventRecord struct {
	ID        string
	Type      string
	Timestamp time.Time
	Source    string
	ServerID  string
	Owner     string
	Data      map[string]interface{}
}

// EventQuery narrows a time-series event lookup.
type EventQuery struct {
	Types     []string
	ServerID  string
	Owner     string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// InfluxDBClient writes control-plane events as time-series points.
type InfluxDBClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	org      string
	bucket   string
}

type InfluxDBConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewInfluxDBClient connects and verifies the server is healthy.
func NewInfluxDBClient(config InfluxDBConfig) (*InfluxDBClient, error) {
	client := influxdb2.NewClient(config.URL, config.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB health check failed: %s", health.Status)
	}

	writeAPI := client.WriteAPI(config.Org, config.Bucket)
	queryAPI := client.QueryAPI(config.Org)

	// Writes are batched and asynchronous; failures surface on this channel.
	go func() {
		for writeErr := range writeAPI.Errors() {
			logger.Warn("InfluxDB async write failed", map[string]interface{}{
				"error": writeErr.Error(),
			})
		}
	}()

	logger.Info("InfluxDB connection established", map[string]interface{}{
		"url":    config.URL,
		"org":    config.Org,
		"bucket": config.Bucket,
	})

	return &InfluxDBClient{
		client:   client,
		writeAPI: writeAPI,
		queryAPI: queryAPI,
		org:      config.Org,
		bucket:   config.Bucket,
	}, nil
}

// WriteEvent enqueues one event point. The write API batches in the
// background, so this never blocks the caller.
func (c *InfluxDBClient) WriteEvent(record EventRecord) {
	fields := record.Data
	if len(fields) == 0 {
		// A point without fields is rejected by InfluxDB.
		fields = map[string]interface{}{"recorded": true}
	}

	point := influxdb2.NewPoint(
		eventMeasurement,
		map[string]string{
			"event_id":   record.ID,
			"event_type": record.Type,
			"source":     record.Source,
			"server_id":  record.ServerID,
			"owner":      record.Owner,
		},
		fields,
		record.Timestamp,
	)
	c.writeAPI.WritePoint(point)
}

// Flush forces pending points out of the write buffer.
func (c *InfluxDBClient) Flush() {
	c.writeAPI.Flush()
}

// QueryEvents runs a Flux query built from the filters.
func (c *InfluxDBClient) QueryEvents(ctx context.Context, query EventQuery) ([]EventRecord, error) {
	result, err := c.queryAPI.Query(ctx, c.buildFluxQuery(query))
	if err != nil {
		return nil, fmt.Errorf("failed to query InfluxDB: %w", err)
	}

	var records []EventRecord
	for result.Next() {
		row := result.Record()
		record := EventRecord{
			ID:        stringValue(row.ValueByKey("event_id")),
			Type:      stringValue(row.ValueByKey("event_type")),
			Timestamp: row.Time(),
			Source:    stringValue(row.ValueByKey("source")),
			ServerID:  stringValue(row.ValueByKey("server_id")),
			Owner:     stringValue(row.ValueByKey("owner")),
			Data:      make(map[string]interface{}),
		}
		for key, value := range row.Values() {
			switch key {
			case "_time", "_measurement", "_start", "_stop", "result", "table",
				"event_id", "event_type", "source", "server_id", "owner":
			default:
				record.Data[key] = value
			}
		}
		records = append(records, record)

		if query.Limit > 0 && len(records) >= query.Limit {
			break
		}
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("query parsing failed: %w", result.Err())
	}
	return records, nil
}

func (c *InfluxDBClient) buildFluxQuery(query EventQuery) string {
	flux := fmt.Sprintf(`from(bucket: %s)`, fluxString(c.bucket))

	if !query.StartTime.IsZero() {
		flux += fmt.Sprintf(`
  |> range(start: %s`, query.StartTime.UTC().Format(time.RFC3339))
		if !query.EndTime.IsZero() {
			flux += fmt.Sprintf(`, stop: %s`, query.EndTime.UTC().Format(time.RFC3339))
		}
		flux += ")"
	} else {
		flux += `
  |> range(start: -24h)`
	}

	flux += fmt.Sprintf(`
  |> filter(fn: (r) => r._measurement == %s)`, fluxString(eventMeasurement))

	if len(query.Types) > 0 {
		flux += `
  |> filter(fn: (r) => `
		for i, eventType := range query.Types {
			if i > 0 {
				flux += " or "
			}
			flux += fmt.Sprintf(`r.event_type == %s`, fluxString(eventType))
		}
		flux += ")"
	}
	if query.ServerID != "" {
		flux += fmt.Sprintf(`
  |> filter(fn: (r) => r.server_id == %s)`, fluxString(query.ServerID))
	}
	if query.Owner != "" {
		flux += fmt.Sprintf(`
  |> filter(fn: (r) => r.owner == %s)`, fluxString(query.Owner))
	}

	flux += `
  |> sort(columns: ["_time"], desc: true)`

	if query.Limit > 0 {
		flux += fmt.Sprintf(`
  |> limit(n: %d)`, query.Limit)
	}
	return flux
}

// fluxString quotes a value for interpolation into a Flux script.
func fluxString(value string) string {
	return strconv.Quote(value)
}

func stringValue(value interface{}) string {
	s, _ := value.(string)
	return s
}

// Close flushes pending writes and releases the connection.
func (c *InfluxDBClient) Close() {
	c.writeAPI.Flush()
	c.client.Close()
	logger.Info("InfluxDB client closed", nil)
}
