package amm

import (
	"fmt"

	"github.com/shopspring/decimal"

	"ammex.com/internal/domain"
)

var one = decimal.NewFromInt(1)

// Config 池子策略参数，全部可配置
type Config struct {
	// FeeRate 新建池子的默认费率
	FeeRate decimal.Decimal `mapstructure:"fee_rate"`
	// SeedReserveBase 新建池子的 base 储备，quote 储备 = seed price × 它
	SeedReserveBase decimal.Decimal `mapstructure:"seed_reserve_base"`
	// MinReceivedRatio 只是展示用的最少到手比例，不做强制
	MinReceivedRatio decimal.Decimal `mapstructure:"min_received_ratio"`
	// Precision 除法保留的小数位
	Precision int32 `mapstructure:"precision"`
}

func DefaultConfig() Config {
	return Config{
		FeeRate:          decimal.RequireFromString("0.003"),
		SeedReserveBase:  decimal.NewFromInt(1_000_000),
		MinReceivedRatio: decimal.RequireFromString("0.995"),
		Precision:        18,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FeeRate.IsNegative() || c.FeeRate.GreaterThanOrEqual(one) {
		c.FeeRate = def.FeeRate
	}
	if !c.SeedReserveBase.IsPositive() {
		c.SeedReserveBase = def.SeedReserveBase
	}
	if !c.MinReceivedRatio.IsPositive() {
		c.MinReceivedRatio = def.MinReceivedRatio
	}
	if c.Precision <= 0 {
		c.Precision = def.Precision
	}
	return c
}

// Quote 一次 swap 的报价
type Quote struct {
	OutputAmount    decimal.Decimal
	PriceImpact     decimal.Decimal
	Fee             decimal.Decimal
	MinimumReceived decimal.Decimal
	// ImpliedPrice 成交后池子会到的价格，和 applySwap 一样按含费的全部输入入池
	ImpliedPrice decimal.Decimal
}

// QuotePool 纯函数，不改 pool。
// buy: 输入 quote 换 base；sell: 输入 base 换 quote。
// 手续费先从输入里扣掉，再套 x*y=k
func QuotePool(p *domain.Pool, in decimal.Decimal, isBuy bool, cfg Config) (Quote, error) {
	cfg = cfg.withDefaults()
	if !in.IsPositive() {
		return Quote{}, fmt.Errorf("input %s: %w", in, domain.ErrInvalidArgument)
	}
	if !p.ReserveBase.IsPositive() || !p.ReserveQuote.IsPositive() {
		return Quote{}, fmt.Errorf("pool %s reserves %s/%s: %w", p.Asset, p.ReserveBase, p.ReserveQuote, domain.ErrInsufficientLiquidity)
	}

	prec := cfg.Precision
	inAfterFee := in.Mul(one.Sub(p.FeeRate))
	cur := p.CurrentPrice
	if !cur.IsPositive() {
		cur = p.ReserveQuote.DivRound(p.ReserveBase, prec)
	}

	var out, implied, fee decimal.Decimal
	if isBuy {
		out = inAfterFee.Mul(p.ReserveBase).DivRound(p.ReserveQuote.Add(inAfterFee), prec+4).Truncate(prec)
		fee = in.Mul(p.FeeRate)
		if newBase := p.ReserveBase.Sub(out); newBase.IsPositive() {
			implied = p.ReserveQuote.Add(in).DivRound(newBase, prec)
		}
	} else {
		out = inAfterFee.Mul(p.ReserveQuote).DivRound(p.ReserveBase.Add(inAfterFee), prec+4).Truncate(prec)
		fee = in.Mul(cur).Mul(p.FeeRate)
		if newQuote := p.ReserveQuote.Sub(out); newQuote.IsPositive() {
			implied = newQuote.DivRound(p.ReserveBase.Add(in), prec)
		}
	}

	q := Quote{
		OutputAmount:    out,
		Fee:             fee,
		MinimumReceived: out.Mul(cfg.MinReceivedRatio).Truncate(prec),
		ImpliedPrice:    implied,
		PriceImpact:     decimal.Zero,
	}
	if implied.IsPositive() {
		q.PriceImpact = implied.Sub(cur).Abs().DivRound(cur, prec)
	}
	return q, nil
}

// MaxInputWithin 成交均价不劣于 limit 时最多能投入多少。
// buy 时 limit 是均价上限（quote/base），sell 时是下限；返回 0 表示 limit 内换不到
//
//	buy:  in/out <= limit  =>  in <= limit*Rb - Rq/(1-fee)
//	sell: out/in >= limit  =>  in <= Rq/limit - Rb/(1-fee)
func MaxInputWithin(p *domain.Pool, limit decimal.Decimal, isBuy bool, cfg Config) decimal.Decimal {
	cfg = cfg.withDefaults()
	keep := one.Sub(p.FeeRate)
	if !limit.IsPositive() || !keep.IsPositive() {
		return decimal.Zero
	}
	prec := cfg.Precision
	var upper decimal.Decimal
	if isBuy {
		upper = limit.Mul(p.ReserveBase).Sub(p.ReserveQuote.DivRound(keep, prec+4))
	} else {
		upper = p.ReserveQuote.DivRound(limit, prec+4).Sub(p.ReserveBase.DivRound(keep, prec+4))
	}
	upper = upper.Truncate(prec)
	if !upper.IsPositive() {
		return decimal.Zero
	}
	return upper
}

// WithinLimit 投入 in 换出 out 的均价是否不劣于 limit
func WithinLimit(in, out, limit decimal.Decimal, isBuy bool) bool {
	if !in.IsPositive() || !out.IsPositive() {
		return false
	}
	if isBuy {
		return in.LessThanOrEqual(out.Mul(limit))
	}
	return out.GreaterThanOrEqual(in.Mul(limit))
}

// applySwap 把报价落到储备上；储备必须保持为正
func applySwap(p *domain.Pool, in, out decimal.Decimal, isBuy bool, prec int32) error {
	base, quote := p.ReserveBase, p.ReserveQuote
	if isBuy {
		quote = quote.Add(in)
		base = base.Sub(out)
	} else {
		base = base.Add(in)
		quote = quote.Sub(out)
	}
	if !base.IsPositive() || !quote.IsPositive() {
		return fmt.Errorf("pool %s would drain: %w", p.Asset, domain.ErrInsufficientLiquidity)
	}
	p.ReserveBase, p.ReserveQuote = base, quote
	p.PreviousPrice = p.CurrentPrice
	p.CurrentPrice = quote.DivRound(base, prec)
	p.Volume = p.Volume.Add(in)
	return nil
}

// NewPool 按种子价建池
func NewPool(asset, quoteAsset string, seedPrice decimal.Decimal, cfg Config) (*domain.Pool, error) {
	cfg = cfg.withDefaults()
	if !seedPrice.IsPositive() {
		return nil, fmt.Errorf("seed price %s for %s: %w", seedPrice, asset, domain.ErrInvalidArgument)
	}
	base := cfg.SeedReserveBase
	quote := seedPrice.Mul(base)
	return &domain.Pool{
		Asset:         asset,
		QuoteAsset:    quoteAsset,
		ReserveBase:   base,
		ReserveQuote:  quote,
		FeeRate:       cfg.FeeRate,
		CurrentPrice:  quote.DivRound(base, cfg.Precision),
		PreviousPrice: decimal.Zero,
		Volume:        decimal.Zero,
	}, nil
}
