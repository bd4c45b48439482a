package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"parley/internal/core/domain"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const notificationStream = "notifications"

// Records pending longer than claimIdle (their consumer died or failed to
// ack) are claimed by a live consumer every claimEvery.
const (
	defaultClaimIdle  = 30 * time.Second
	defaultClaimEvery = time.Minute
)

type RedisNotificationQueue struct {
	rdb        *redis.Client
	stream     string
	log        *slog.Logger
	claimIdle  time.Duration
	claimEvery time.Duration
}

func NewRedisNotificationQueue(log *slog.Logger, rdb *redis.Client) *RedisNotificationQueue {
	return &RedisNotificationQueue{
		rdb:        rdb,
		stream:     notificationStream,
		log:        log,
		claimIdle:  defaultClaimIdle,
		claimEvery: defaultClaimEvery,
	}
}

func (q *RedisNotificationQueue) Publish(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: 10000,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{"data": payload},
	}).Err()
}

// Subscribe creates conGroup if needed and starts a reader goroutine that
// calls handler for every new record until ctx is done.
func (q *RedisNotificationQueue) Subscribe(
	ctx context.Context,
	conGroup string,
	handler func(ctx context.Context, messageID string, data []byte) error,
) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.stream, conGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	consumerName := uuid.NewString()
	go func() {
		var lastClaim time.Time
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if time.Since(lastClaim) >= q.claimEvery {
				q.reclaim(ctx, conGroup, consumerName, handler)
				lastClaim = time.Now()
			}
			// Read new messages (">")
			res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    conGroup,
				Consumer: consumerName,
				Streams:  []string{q.stream, ">"},
				Count:    10,
				Block:    2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || ctx.Err() != nil {
					continue
				}
				q.log.ErrorContext(ctx, "queue - subscribe - stream read failed", "stream", q.stream, "group", conGroup, "err", err)
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
				continue
			}
			for _, stream := range res {
				q.deliver(ctx, stream.Messages, handler)
			}
		}
	}()
	return nil
}

// reclaim takes over records left pending by other consumers of conGroup
// and hands them to handler again.
func (q *RedisNotificationQueue) reclaim(
	ctx context.Context,
	conGroup, consumer string,
	handler func(ctx context.Context, messageID string, data []byte) error,
) {
	start := "0-0"
	for {
		msgs, next, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    conGroup,
			Consumer: consumer,
			MinIdle:  q.claimIdle,
			Start:    start,
			Count:    10,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				q.log.ErrorContext(ctx, "queue - reclaim - autoclaim failed", "stream", q.stream, "group", conGroup, "err", err)
			}
			return
		}
		if len(msgs) > 0 {
			q.log.InfoContext(ctx, "queue - reclaim - claimed pending records", "group", conGroup, "count", len(msgs))
			q.deliver(ctx, msgs, handler)
		}
		if next == "0-0" || next == "" || next == start {
			return
		}
		start = next
	}
}

func (q *RedisNotificationQueue) deliver(
	ctx context.Context,
	msgs []redis.XMessage,
	handler func(ctx context.Context, messageID string, data []byte) error,
) {
	for _, msg := range msgs {
		raw, ok := msg.Values["data"].(string)
		if !ok {
			q.log.WarnContext(ctx, "queue - subscribe - record without data", "msg_id", msg.ID)
			continue
		}
		if err := handler(ctx, msg.ID, []byte(raw)); err != nil {
			q.log.ErrorContext(ctx, "queue - subscribe - handler failed", "msg_id", msg.ID, "err", err)
		}
	}
}

func (q *RedisNotificationQueue) Acknowledge(ctx context.Context, conGroup, messageID string) error {
	return q.rdb.XAck(ctx, q.stream, conGroup, messageID).Err()
}

func (q *RedisNotificationQueue) Delete(ctx context.Context, messageID string) error {
	return q.rdb.XDel(ctx, q.stream, messageID).Err()
}
