package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"

	"ammex.com/internal/domain"
	"ammex.com/pkg/ratelimit"
)

// RedisClient *redis.Client 满足这个接口
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ RedisClient = (*redis.Client)(nil)

// RedisSink 发布到 pub/sub 频道，成交后顺手删掉双方的余额缓存
type RedisSink struct {
	rdb     RedisClient
	channel string
	cb      *ratelimit.Manager
}

func NewRedisSink(rdb RedisClient, channel string, cb *ratelimit.Manager) *RedisSink {
	if channel == "" {
		channel = "ammex:events"
	}
	return &RedisSink{rdb: rdb, channel: channel, cb: cb}
}

func (s *RedisSink) Name() string { return "redis" }

// BalanceCacheKey 与资金服务的缓存 key 保持一致
func BalanceCacheKey(owner uint64, asset string) string {
	return fmt.Sprintf("funds:bal:%d:%s", owner, asset)
}

func (s *RedisSink) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	do := func() error {
		if err := s.rdb.Publish(ctx, s.channel, payload).Err(); err != nil {
			return err
		}
		if keys := staleBalanceKeys(ev); len(keys) > 0 {
			return s.rdb.Del(ctx, keys...).Err()
		}
		return nil
	}
	if s.cb == nil {
		return do()
	}
	return s.cb.Do(s.Name(), do)
}

func staleBalanceKeys(ev Event) []string {
	if ev.Trade == nil {
		return nil
	}
	keys := make([]string, 0, 4)
	for _, owner := range []uint64{ev.Trade.BuyerID, ev.Trade.SellerID} {
		if owner == domain.PoolAccountID {
			continue
		}
		keys = append(keys, BalanceCacheKey(owner, ev.Asset), BalanceCacheKey(owner, ev.Trade.QuoteAsset))
	}
	return keys
}
