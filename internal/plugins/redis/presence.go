package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisPresenceStore struct {
	rdb *redis.Client
}

func NewRedisPresenceStore(rdb *redis.Client) *RedisPresenceStore {
	return &RedisPresenceStore{
		rdb: rdb,
	}
}

func presenceKey(userID int64) string {
	return "presence:user:" + strconv.FormatInt(userID, 10)
}

// UpdateOnlineStatus adds/updates the connection in the user's ZSet, scored by
// the time it stops counting as online.
func (p *RedisPresenceStore) UpdateOnlineStatus(
	ctx context.Context,
	userID int64,
	connID string,
	ttl time.Duration,
) error {
	key := presenceKey(userID)
	deadline := time.Now().Add(ttl).Unix()
	pipe := p.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(deadline),
		Member: connID,
	})
	// Expire the whole ZSet so it doesn't leak once every device is gone.
	pipe.Expire(ctx, key, ttl*2)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *RedisPresenceStore) RemoveConnection(ctx context.Context, userID int64, connID string) error {
	return p.rdb.ZRem(ctx, presenceKey(userID), connID).Err()
}

// GetOnlineConnections returns connections whose deadline has not passed.
func (p *RedisPresenceStore) GetOnlineConnections(
	ctx context.Context,
	userID int64,
) ([]string, error) {
	key := presenceKey(userID)
	now := strconv.FormatInt(time.Now().Unix(), 10)
	// Remove stale members first (self-cleaning)
	if err := p.rdb.ZRemRangeByScore(ctx, key, "-inf", "("+now).Err(); err != nil {
		return nil, err
	}
	return p.rdb.ZRange(ctx, key, 0, -1).Result()
}
