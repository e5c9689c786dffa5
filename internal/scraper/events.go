package scraper

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"jobmate/recommender-service/internal/model"
)

// EventSourceScanned is the channel and event type published after every
// persisted scan.
const EventSourceScanned = "EVENT_SOURCE_SCANNED"

// EventPublisher announces finished scans. Publishing is best effort.
type EventPublisher interface {
	PublishScan(ctx context.Context, rec model.ScanRecord) error
}

// RedisEvents publishes scan events on a Redis channel.
type RedisEvents struct {
	rdb *redis.Client
}

func NewRedisEvents(rdb *redis.Client) *RedisEvents { return &RedisEvents{rdb: rdb} }

func (e *RedisEvents) PublishScan(ctx context.Context, rec model.ScanRecord) error {
	event, err := json.Marshal(map[string]any{
		"type":              EventSourceScanned,
		"sourceId":          rec.SourceID,
		"trigger":           rec.Trigger,
		"status":            rec.Status,
		"postingsUpserted":  rec.PostingsUpserted,
		"possibleDuplicates": rec.PossibleDuplicates,
		"finishedAt":        rec.FinishedAt,
	})
	if err != nil {
		return err
	}
	return e.rdb.Publish(ctx, EventSourceScanned, event).Err()
}

type nopEvents struct{}

func (nopEvents) PublishScan(context.Context, model.ScanRecord) error { return nil }
