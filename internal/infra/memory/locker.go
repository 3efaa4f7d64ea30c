package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ammex.com/internal/domain"
)

// KeyedLocker 每个 key 一把互斥锁（容量 1 的 channel），支持超时和 ctx 取消。
// 相当于 SELECT ... FOR UPDATE 的行锁
type KeyedLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{slots: make(map[string]chan struct{}, 256)}
}

func (l *KeyedLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Lock 拿不到锁且超时返回 ErrConflict
func (l *KeyedLocker) Lock(ctx context.Context, key string, timeout time.Duration) error {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("lock %s wait %s: %w", key, timeout, domain.ErrConflict)
	}
}

func (l *KeyedLocker) Unlock(key string) {
	select {
	case <-l.slot(key):
	default:
		panic("memory: unlock of unlocked key " + key)
	}
}
