// Package analytics keeps time-bucketed counts of sent reminders in
// Redis, for dashboards and volume audits. Best-effort: a Redis outage
// never blocks a reminder.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config controls the Redis sink.
type Config struct {
	// Window is the counter bucket width. Default: time.Hour.
	Window time.Duration

	// Retention is how long a bucket key lives. Default: 90 days.
	Retention time.Duration
}

// DefaultConfig returns the default analytics configuration.
func DefaultConfig() Config {
	return Config{
		Window:    time.Hour,
		Retention: 90 * 24 * time.Hour,
	}
}

type RedisSink struct {
	client *redis.Client
	config Config
	clock  func() time.Time
}

func NewRedisSink(client *redis.Client, config Config) *RedisSink {
	if config.Window == 0 {
		config.Window = DefaultConfig().Window
	}
	if config.Retention == 0 {
		config.Retention = DefaultConfig().Retention
	}
	return &RedisSink{client: client, config: config, clock: time.Now}
}

// RecordSend increments the per-window and per-record counters for one
// sent reminder. Errors are logged, never propagated.
func (s *RedisSink) RecordSend(ctx context.Context, window, workMarketNum string) {
	bucket := truncateToBucket(s.clock(), s.config.Window)

	pipe := s.client.Pipeline()

	totalKey := fmt.Sprintf("checkin:sent:%s:%s", window, bucket)
	pipe.Incr(ctx, totalKey)
	pipe.Expire(ctx, totalKey, s.config.Retention)

	recordKey := fmt.Sprintf("checkin:wm:%s:%s", workMarketNum, window)
	pipe.Incr(ctx, recordKey)
	pipe.Expire(ctx, recordKey, s.config.Retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: record send window=%s wm=%s: %v", window, workMarketNum, err)
	}
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	case 24 * time.Hour:
		return t.Format("20060102")
	default:
		return t.Format("200601021504")
	}
}
