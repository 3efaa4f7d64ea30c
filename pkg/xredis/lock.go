package xredis

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ammex.com/pkg/logger"
)

// 只有锁仍属于自己时才续期，避免 GET + EXPIRE 之间被别人抢走
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// LeaderLock 基于 SETNX 的租约锁：同一时刻只有一个实例跑定时撮合
type LeaderLock struct {
	rdb redis.Cmdable
	key string
	ttl time.Duration
	id  string // 当前节点的唯一ID（hostname + uuid）
}

func NewLeaderLock(rdb redis.Cmdable, key string, ttl time.Duration) *LeaderLock {
	host, _ := os.Hostname()
	return &LeaderLock{
		rdb: rdb,
		key: key,
		ttl: ttl,
		id:  fmt.Sprintf("%s-%s", host, uuid.NewString()),
	}
}

func (l *LeaderLock) ID() string { return l.id }

// TryAcquire 抢锁或续期；redis 出错时当作没抢到
func (l *LeaderLock) TryAcquire(ctx context.Context) bool {
	ok, err := l.rdb.SetNX(ctx, l.key, l.id, l.ttl).Result()
	if err != nil {
		logger.Warn(ctx, "leader lock setnx failed", zap.String("key", l.key), zap.Error(err))
		return false
	}
	if ok {
		return true
	}
	n, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.id, l.ttl.Milliseconds()).Int64()
	if err != nil {
		logger.Warn(ctx, "leader lock renew failed", zap.String("key", l.key), zap.Error(err))
		return false
	}
	return n == 1
}

// Release 主动释放（只删自己的锁）
func (l *LeaderLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.key}, l.id).Err()
}
