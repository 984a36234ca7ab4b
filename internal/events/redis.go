package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketbook/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	statusKeyPrefix    = "marketbook:booking_status:"
	vendorFeedPrefix   = "marketbook:vendor_feed:"
	deliveredKeyPrefix = "marketbook:delivered:"

	deliveredTTL = 7 * 24 * time.Hour
)

// RedisSink publishes events to a channel for live subscribers, keeps the
// latest status of each booking in a hash for the messenger badge and keeps
// a bounded recent-events list per vendor for dashboards. Delivery of the
// same event id twice is a no-op.
type RedisSink struct {
	client     *redis.Client
	channel    string
	feedLength int64
	statusTTL  time.Duration
}

func NewRedisSink(client *redis.Client, channel string, feedLength int, statusTTL time.Duration) *RedisSink {
	return &RedisSink{
		client:     client,
		channel:    channel,
		feedLength: int64(feedLength),
		statusTTL:  statusTTL,
	}
}

func (s *RedisSink) Deliver(ctx context.Context, event models.BookingEvent) error {
	if s.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	deliveredKey := deliveredKeyPrefix + event.ID
	seen, err := s.client.Exists(ctx, deliveredKey).Result()
	if err != nil {
		return fmt.Errorf("check delivery of %s: %w", event.ID, err)
	}
	if seen > 0 {
		return nil
	}

	payload, err := Marshal(event)
	if err != nil {
		return err
	}

	statusKey := statusKeyPrefix + event.BookingID
	pipe := s.client.TxPipeline()
	pipe.Publish(ctx, s.channel, payload)
	pipe.HSet(ctx, statusKey, map[string]interface{}{
		"status":     string(event.To),
		"event_id":   event.ID,
		"updated_at": event.Timestamp.Format(time.RFC3339Nano),
		"vendor_id":  event.VendorID,
	})
	if s.statusTTL > 0 {
		pipe.Expire(ctx, statusKey, s.statusTTL)
	}
	if event.VendorID != "" && s.feedLength > 0 {
		feedKey := vendorFeedPrefix + event.VendorID
		pipe.LPush(ctx, feedKey, payload)
		pipe.LTrim(ctx, feedKey, 0, s.feedLength-1)
	}
	pipe.Set(ctx, deliveredKey, 1, deliveredTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deliver event %s: %w", event.ID, err)
	}
	return nil
}

// BookingStatus returns the last delivered status of a booking, or "" when
// nothing has been delivered for it.
func (s *RedisSink) BookingStatus(ctx context.Context, bookingID string) (models.BookingStatus, error) {
	val, err := s.client.HGet(ctx, statusKeyPrefix+bookingID, "status").Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get booking status: %w", err)
	}
	return models.BookingStatus(val), nil
}

// VendorFeed returns up to limit recent events for vendorID, newest first.
func (s *RedisSink) VendorFeed(ctx context.Context, vendorID string, limit int64) ([]models.BookingEvent, error) {
	if limit <= 0 {
		limit = s.feedLength
	}
	raws, err := s.client.LRange(ctx, vendorFeedPrefix+vendorID, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read vendor feed: %w", err)
	}
	out := make([]models.BookingEvent, 0, len(raws))
	for _, raw := range raws {
		event, err := Unmarshal([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, nil
}
