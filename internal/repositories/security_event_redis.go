package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/bulwark/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisEventWriter keeps a capped stream of recent security events and daily
// per-type and per-severity counters in Redis, so every instance behind a
// load balancer reports into one place.
type RedisEventWriter struct {
	rdb       redis.UniversalClient
	prefix    string
	maxRecent int64
	ttl       time.Duration
}

// RedisEventOption configures a RedisEventWriter
type RedisEventOption func(*RedisEventWriter)

// WithEventPrefix sets the key prefix (default "security:events")
func WithEventPrefix(prefix string) RedisEventOption {
	return func(w *RedisEventWriter) { w.prefix = strings.Trim(prefix, ":") }
}

// WithMaxRecent caps the recent-events list
func WithMaxRecent(n int64) RedisEventOption {
	return func(w *RedisEventWriter) { w.maxRecent = n }
}

// WithCounterTTL sets how long daily counter buckets live
func WithCounterTTL(d time.Duration) RedisEventOption {
	return func(w *RedisEventWriter) { w.ttl = d }
}

// NewRedisEventWriter creates a new RedisEventWriter
func NewRedisEventWriter(rdb redis.UniversalClient, opts ...RedisEventOption) *RedisEventWriter {
	w := &RedisEventWriter{
		rdb:       rdb,
		prefix:    "security:events",
		maxRecent: 1000,
		ttl:       30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name implements logger.EventWriter
func (w *RedisEventWriter) Name() string { return "redis" }

func (w *RedisEventWriter) recentKey() string { return w.prefix + ":recent" }

func (w *RedisEventWriter) countsKey(day time.Time) string {
	return fmt.Sprintf("%s:counts:%s", w.prefix, day.UTC().Format("20060102"))
}

// WriteEvent implements logger.EventWriter
func (w *RedisEventWriter) WriteEvent(ctx context.Context, event models.SecurityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode security event: %w", err)
	}

	countsKey := w.countsKey(event.Timestamp)

	pipe := w.rdb.TxPipeline()
	pipe.LPush(ctx, w.recentKey(), payload)
	pipe.LTrim(ctx, w.recentKey(), 0, w.maxRecent-1)
	pipe.HIncrBy(ctx, countsKey, "type:"+string(event.Type), 1)
	pipe.HIncrBy(ctx, countsKey, "severity:"+event.Severity.String(), 1)
	if w.ttl > 0 {
		pipe.Expire(ctx, countsKey, w.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write security event to redis: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first
func (w *RedisEventWriter) Recent(ctx context.Context, limit int) ([]models.SecurityEvent, error) {
	if limit <= 0 {
		limit = int(w.maxRecent)
	}

	raw, err := w.rdb.LRange(ctx, w.recentKey(), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent security events: %w", err)
	}

	events := make([]models.SecurityEvent, 0, len(raw))
	for _, item := range raw {
		var event models.SecurityEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, fmt.Errorf("failed to decode security event: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

// Counts returns the tallies for the UTC day containing day
func (w *RedisEventWriter) Counts(ctx context.Context, day time.Time) (models.EventCounts, error) {
	fields, err := w.rdb.HGetAll(ctx, w.countsKey(day)).Result()
	if err != nil {
		return models.EventCounts{}, fmt.Errorf("failed to read security event counts: %w", err)
	}

	counts := models.EventCounts{
		Day:        day.UTC().Format("2006-01-02"),
		ByType:     make(map[models.EventType]int64),
		BySeverity: make(map[string]int64),
	}
	for field, value := range fields {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(field, "type:"):
			counts.ByType[models.EventType(strings.TrimPrefix(field, "type:"))] = n
		case strings.HasPrefix(field, "severity:"):
			counts.BySeverity[strings.TrimPrefix(field, "severity:")] = n
		}
	}
	return counts, nil
}
