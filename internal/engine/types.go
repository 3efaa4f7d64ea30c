package engine

import (
	"errors"

	"github.com/shopspring/decimal"

	"ammex.com/internal/amm"
	"ammex.com/internal/domain"
	"ammex.com/internal/matching"
	"ammex.com/pkg/xerr"
)

var (
	ErrEngineBusy  = xerr.NewErrCode(xerr.EngineBusy)
	ErrRateLimited = xerr.NewErrCode(xerr.TooManyRequests)
	ErrClosed      = errors.New("engine: closed")
	errActorPanic  = xerr.New(xerr.ServerCommonError, "actor panic")
)

// Market 一个可交易资产
type Market struct {
	Asset string `mapstructure:"asset"`
	// Quote 为空时用 Config.QuoteAsset
	Quote string `mapstructure:"quote"`
	// SeedPrice 池子不存在时的初始价格；<=0 表示不建池
	SeedPrice decimal.Decimal `mapstructure:"seed_price"`
}

type Config struct {
	QuoteAsset string `mapstructure:"quote_asset"`
	// ExecFeeRate 订单簿成交额上收取的执行费率（0.001）
	ExecFeeRate decimal.Decimal `mapstructure:"exec_fee_rate"`
	// SlippageCap 走簿估算出的滑点上限（0.10）
	SlippageCap  decimal.Decimal       `mapstructure:"slippage_cap"`
	CursorPolicy matching.CursorPolicy `mapstructure:"cursor_policy"`
	MailboxSize  int                   `mapstructure:"mailbox_size"`
	BatchMax     int                   `mapstructure:"batch_max"`
	// PlaceRate 每个用户每秒下单数，<=0 不限
	PlaceRate  float64 `mapstructure:"place_rate"`
	PlaceBurst int     `mapstructure:"place_burst"`

	Markets []Market   `mapstructure:"-"`
	AMM     amm.Config `mapstructure:"-"`
}

func DefaultConfig() Config {
	return Config{
		QuoteAsset:   "USDT",
		ExecFeeRate:  decimal.RequireFromString("0.001"),
		SlippageCap:  decimal.RequireFromString("0.10"),
		CursorPolicy: matching.AdvanceFailed,
		MailboxSize:  4096,
		BatchMax:     256,
		AMM:          amm.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.QuoteAsset == "" {
		c.QuoteAsset = def.QuoteAsset
	}
	if c.ExecFeeRate.IsNegative() {
		c.ExecFeeRate = def.ExecFeeRate
	}
	if !c.SlippageCap.IsPositive() {
		c.SlippageCap = def.SlippageCap
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = def.MailboxSize
	}
	if c.BatchMax <= 0 {
		c.BatchMax = def.BatchMax
	}
	if c.PlaceBurst <= 0 {
		c.PlaceBurst = 1
	}
	return c
}

// BookSnapshot getBook 的返回：买单价格降序，卖单价格升序，同价按时间
type BookSnapshot struct {
	Asset string
	Bids  []*domain.Order
	Asks  []*domain.Order
}

// ExecutionResult executeOrder 的结果。业务失败写在 Error 里
type ExecutionResult struct {
	OrderID        uint64
	ExecutedAmount decimal.Decimal
	AveragePrice   decimal.Decimal
	TotalCost      decimal.Decimal
	Fee            decimal.Decimal
	Slippage       decimal.Decimal

	BookAmount decimal.Decimal
	PoolAmount decimal.Decimal
	Status     domain.OrderStatus
	Trades     []*domain.Trade
	Error      string
}

func (r ExecutionResult) Success() bool { return r.Error == "" }

func newExecutionResult(id uint64) ExecutionResult {
	return ExecutionResult{
		OrderID:        id,
		ExecutedAmount: decimal.Zero,
		AveragePrice:   decimal.Zero,
		TotalCost:      decimal.Zero,
		Fee:            decimal.Zero,
		Slippage:       decimal.Zero,
		BookAmount:     decimal.Zero,
		PoolAmount:     decimal.Zero,
	}
}
