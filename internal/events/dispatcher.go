package events

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ammex.com/internal/domain"
	"ammex.com/pkg/logger"
	"ammex.com/pkg/metrics"
)

// Sink 下游可能慢也可能挂，失败只计数不回传给结算
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
}

// Dispatcher 把钩子转成 Event 并扇出到所有 sink
type Dispatcher struct {
	seq   uint64
	sinks []Sink
	log   *zap.Logger
	now   func() time.Time
}

var _ Emitter = (*Dispatcher)(nil)

func NewDispatcher(log *zap.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks: sinks,
		log:   logger.OrNop(log),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) TradeSettled(ctx context.Context, t *domain.Trade) {
	d.dispatch(ctx, tradeEvent(t))
}

func (d *Dispatcher) OrderUpdated(ctx context.Context, o *domain.Order) {
	d.dispatch(ctx, orderEvent(o, d.now()))
}

// Seq 最近一次分配的序号
func (d *Dispatcher) Seq() uint64 { return atomic.LoadUint64(&d.seq) }

func (d *Dispatcher) dispatch(ctx context.Context, ev Event) {
	ev.Seq = atomic.AddUint64(&d.seq, 1)
	for _, s := range d.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			metrics.EventSinkErrors.WithLabelValues(s.Name()).Inc()
			d.log.Warn("event publish failed",
				zap.String("sink", s.Name()),
				zap.String("type", string(ev.Type)),
				zap.Uint64("seq", ev.Seq),
				zap.Error(err))
			continue
		}
		metrics.EventsPublished.WithLabelValues(s.Name(), string(ev.Type)).Inc()
	}
}
