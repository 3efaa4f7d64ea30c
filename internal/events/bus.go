package events

import (
	"context"
	"errors"
	"sync/atomic"

	"ammex.com/pkg/metrics"
)

var ErrBusFull = errors.New("events: bus full")

// Bus 进程内有界通道：满了直接丢，不阻塞结算
type Bus struct {
	ch      chan Event
	dropped uint64
}

func NewBus(size int) *Bus {
	if size <= 0 {
		size = 1 << 16
	}
	return &Bus{ch: make(chan Event, size)}
}

func (b *Bus) Name() string { return "bus" }

func (b *Bus) Publish(_ context.Context, ev Event) error {
	if !b.TryPublish(ev) {
		return ErrBusFull
	}
	return nil
}

func (b *Bus) TryPublish(ev Event) bool {
	select {
	case b.ch <- ev:
		return true
	default:
		atomic.AddUint64(&b.dropped, 1)
		metrics.EventsDropped.Inc()
		return false
	}
}

func (b *Bus) C() <-chan Event { return b.ch }
func (b *Bus) Dropped() uint64 { return atomic.LoadUint64(&b.dropped) }
