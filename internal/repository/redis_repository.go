package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"sensorhub/internal/models"

	"github.com/go-redis/redis/v8"
)

const DefaultStreamKey = "telemetry:records"

type redisTelemetryRepository struct {
	client *redis.Client
	stream string
	loc    *time.Location
}

// NewRedisTelemetryRepository keeps records in a Redis stream. Stream entry
// IDs give the append order, so records carry no surrogate key.
func NewRedisTelemetryRepository(client *redis.Client, stream string, loc *time.Location) TelemetryRepository {
	if stream == "" {
		stream = DefaultStreamKey
	}
	if loc == nil {
		loc = time.UTC
	}
	return &redisTelemetryRepository{client: client, stream: stream, loc: loc}
}

func (r *redisTelemetryRepository) Backend() string {
	return "redis"
}

// Initialize checks connectivity and that the key is free or already a
// stream. The stream itself is created by the first XADD.
func (r *redisTelemetryRepository) Initialize(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return storeErr("redis", "initialize", err)
	}

	kind, err := r.client.Type(ctx, r.stream).Result()
	if err != nil {
		return storeErr("redis", "initialize", err)
	}
	if kind != "none" && kind != "stream" {
		return storeErr("redis", "initialize", fmt.Errorf("key %q holds a %s, not a stream", r.stream, kind))
	}
	return nil
}

func (r *redisTelemetryRepository) Append(ctx context.Context, record *models.Telemetry) error {
	values := make([]interface{}, 0, 2*(len(models.MeasurementFields)+1))
	values = append(values, "created_at", record.CreatedAt.UTC().Format(time.RFC3339Nano))
	for i, v := range record.Values() {
		values = append(values, models.MeasurementFields[i], strconv.FormatFloat(v, 'f', -1, 64))
	}

	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: values,
	}).Err()
	return storeErr("redis", "append", err)
}

func (r *redisTelemetryRepository) ReadAll(ctx context.Context) ([]models.Telemetry, error) {
	messages, err := r.client.XRange(ctx, r.stream, "-", "+").Result()
	if err != nil {
		return nil, storeErr("redis", "read", err)
	}

	telemetries := make([]models.Telemetry, 0, len(messages))
	for _, msg := range messages {
		record, err := r.parseEntry(msg.Values)
		if err != nil {
			return nil, storeErr("redis", "read", fmt.Errorf("entry %s: %w", msg.ID, err))
		}
		telemetries = append(telemetries, record)
	}
	return telemetries, nil
}

func (r *redisTelemetryRepository) parseEntry(values map[string]interface{}) (models.Telemetry, error) {
	var record models.Telemetry

	raw, _ := values["created_at"].(string)
	createdAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return record, err
	}
	record.CreatedAt = createdAt.In(r.loc)

	for _, field := range models.MeasurementFields {
		s, ok := values[field].(string)
		if !ok {
			return record, fmt.Errorf("%s: missing", field)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return record, fmt.Errorf("%s: %w", field, err)
		}
		record.SetValue(field, v)
	}
	return record, nil
}

func (r *redisTelemetryRepository) Truncate(ctx context.Context) error {
	return storeErr("redis", "truncate", r.client.Del(ctx, r.stream).Err())
}

func (r *redisTelemetryRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.client.XLen(ctx, r.stream).Result()
	if err != nil {
		return 0, storeErr("redis", "count", err)
	}
	return n, nil
}
