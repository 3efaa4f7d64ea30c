package events

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/encoding/json"

	"ammex.com/pkg/ratelimit"
)

// NatsPublisher *nats.Conn 满足这个接口
type NatsPublisher interface {
	Publish(subj string, data []byte) error
}

var _ NatsPublisher = (*nats.Conn)(nil)

// NatsSink subject 按资产分: {prefix}.{asset}.{type}
type NatsSink struct {
	nc     NatsPublisher
	prefix string
	cb     *ratelimit.Manager
}

func NewNatsSink(nc NatsPublisher, prefix string, cb *ratelimit.Manager) *NatsSink {
	if prefix == "" {
		prefix = "ammex"
	}
	return &NatsSink{nc: nc, prefix: prefix, cb: cb}
}

func (s *NatsSink) Name() string { return "nats" }

func (s *NatsSink) Subject(ev Event) string {
	return s.prefix + "." + ev.Asset + "." + string(ev.Type)
}

func (s *NatsSink) Publish(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	do := func() error { return s.nc.Publish(s.Subject(ev), payload) }
	if s.cb == nil {
		return do()
	}
	return s.cb.Do(s.Name(), do)
}
