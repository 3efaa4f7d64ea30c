package app

import (
	"fmt"
	"time"

	"ammex.com/internal/amm"
	"ammex.com/internal/engine"
	"ammex.com/pkg/logger"
	"ammex.com/pkg/orm"
	"ammex.com/pkg/trace"
	"ammex.com/pkg/xredis"
)

// Cfg 对应 config/exchange.yaml
type Cfg struct {
	Name  string         `mapstructure:"name"`
	Log   logger.Options `mapstructure:"log"`
	DB    orm.Config     `mapstructure:"db"`
	Redis xredis.Config  `mapstructure:"redis"`
	Nats  NatsCfg        `mapstructure:"nats"`
	OTel  trace.Config   `mapstructure:"otel"`

	Engine   EngineCfg       `mapstructure:"engine"`
	AMM      amm.Config      `mapstructure:"amm"`
	Markets  []engine.Market `mapstructure:"markets"`
	Matching MatchingCfg     `mapstructure:"matching"`
	Events   EventsCfg       `mapstructure:"events"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	PprofAddr   string `mapstructure:"pprof_addr"`
}

type NatsCfg struct {
	// 为空时不连 nats
	URL string `mapstructure:"url"`
}

type EngineCfg struct {
	engine.Config `mapstructure:",squash"`
	// LockTimeout 只对 db.driver=memory 生效
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

type MatchingCfg struct {
	// Interval 定时撮合周期，<=0 关闭
	Interval  time.Duration `mapstructure:"interval"`
	LeaderKey string        `mapstructure:"leader_key"`
	LeaderTTL time.Duration `mapstructure:"leader_ttl"`
}

type EventsCfg struct {
	RedisChannel string `mapstructure:"redis_channel"`
	NatsPrefix   string `mapstructure:"nats_prefix"`
	// JournalPath 为空时不落盘
	JournalPath string `mapstructure:"journal_path"`
	JournalSync bool   `mapstructure:"journal_sync"`
	BusSize     int    `mapstructure:"bus_size"`
}

// normalize 补默认值并做启动期校验，配置不合法直接报错
func (c *Cfg) normalize() error {
	if c.Name == "" {
		c.Name = "exchange"
	}
	if len(c.Markets) == 0 {
		return fmt.Errorf("config: no markets")
	}
	seen := make(map[string]struct{}, len(c.Markets))
	for _, m := range c.Markets {
		if m.Asset == "" {
			return fmt.Errorf("config: market with empty asset")
		}
		if _, dup := seen[m.Asset]; dup {
			return fmt.Errorf("config: duplicate market %s", m.Asset)
		}
		if m.SeedPrice.IsNegative() {
			return fmt.Errorf("config: market %s seed_price %s", m.Asset, m.SeedPrice)
		}
		seen[m.Asset] = struct{}{}
	}
	if c.AMM.FeeRate.IsNegative() || c.AMM.FeeRate.GreaterThanOrEqual(one) {
		return fmt.Errorf("config: amm.fee_rate %s out of [0,1)", c.AMM.FeeRate)
	}
	if c.Matching.LeaderKey == "" {
		c.Matching.LeaderKey = "ammex:" + c.Name + ":match-leader"
	}
	if c.Matching.LeaderTTL <= c.Matching.Interval {
		c.Matching.LeaderTTL = 3 * c.Matching.Interval
	}
	if c.Events.BusSize <= 0 {
		c.Events.BusSize = 4096
	}
	return nil
}

func (c *Cfg) engineConfig() engine.Config {
	ec := c.Engine.Config
	ec.Markets = c.Markets
	ec.AMM = c.AMM
	return ec
}

func (c *Cfg) assets() []string {
	out := make([]string, 0, len(c.Markets))
	for _, m := range c.Markets {
		out = append(out, m.Asset)
	}
	return out
}
