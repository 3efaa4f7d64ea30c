package amm

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"ammex.com/internal/domain"
	"ammex.com/pkg/logger"
	"ammex.com/pkg/metrics"
	"ammex.com/pkg/trace"
	"ammex.com/pkg/xerr"
)

const errInsufficientLiquidity = "Insufficient liquidity"

// Store 池子读写 + 事务
type Store interface {
	domain.Transactor
	domain.PoolRepo
}

// SwapResult 业务失败（没流动性、超限价）放在 Error 里，不走 error 返回
type SwapResult struct {
	Success bool
	// Input 实际投入，限价时可能小于请求值
	Input          decimal.Decimal
	OutputAmount   decimal.Decimal
	ExecutionPrice decimal.Decimal
	PriceImpact    decimal.Decimal
	Fee            decimal.Decimal
	Error          string
	// Cause 业务失败对应的哨兵错误，成功时为 nil
	Cause error
	// Pool 成交后的池子快照
	Pool *domain.Pool
}

type Pricer struct {
	store  Store
	cfg    Config
	quote  func(asset string) string
	seeds  map[string]decimal.Decimal
	sf     singleflight.Group
	log    *zap.Logger
	tracer oteltrace.Tracer
}

type Option func(*Pricer)

// WithSeedPrices 池子不存在时按这里的价格懒建
func WithSeedPrices(seeds map[string]decimal.Decimal) Option {
	return func(p *Pricer) {
		for k, v := range seeds {
			p.seeds[k] = v
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pricer) { p.log = logger.OrNop(l) }
}

func NewPricer(store Store, cfg Config, quote func(asset string) string, opts ...Option) *Pricer {
	p := &Pricer{
		store:  store,
		cfg:    cfg.withDefaults(),
		quote:  quote,
		seeds:  make(map[string]decimal.Decimal),
		log:    zap.NewNop(),
		tracer: trace.Tracer("ammex/amm"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pricer) Config() Config { return p.cfg }

// EnsurePool 没有就按 seedPrice 建，已有就原样返回。
// 同一个资产并发建池只会打一次库
func (p *Pricer) EnsurePool(ctx context.Context, asset string, seedPrice decimal.Decimal) (*domain.Pool, error) {
	pool, err := p.store.GetPool(ctx, asset)
	if err == nil {
		return pool, nil
	}
	if !errors.Is(err, domain.ErrPoolNotFound) {
		return nil, err
	}

	v, err, _ := p.sf.Do(asset, func() (interface{}, error) {
		np, err := NewPool(asset, p.quote(asset), seedPrice, p.cfg)
		if err != nil {
			return nil, err
		}
		created, err := p.store.CreatePool(ctx, np)
		if err != nil {
			return nil, err
		}
		p.log.Info("pool created",
			zap.String("asset", asset),
			zap.String("seed_price", seedPrice.String()),
			zap.String("reserve_base", created.ReserveBase.String()),
			zap.String("reserve_quote", created.ReserveQuote.String()))
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Pool).Clone(), nil
}

// Pool 读池子；配置了种子价的资产第一次读会建池
func (p *Pricer) Pool(ctx context.Context, asset string) (*domain.Pool, error) {
	if seed, ok := p.seeds[asset]; ok {
		return p.EnsurePool(ctx, asset, seed)
	}
	return p.store.GetPool(ctx, asset)
}

// Quote 无副作用
func (p *Pricer) Quote(ctx context.Context, asset string, in decimal.Decimal, isBuy bool) (Quote, error) {
	pool, err := p.Pool(ctx, asset)
	if err != nil {
		return Quote{}, err
	}
	return QuotePool(pool, in, isBuy, p.cfg)
}

// ExecuteSwap 独立事务里执行一次 swap
func (p *Pricer) ExecuteSwap(ctx context.Context, asset string, in decimal.Decimal, isBuy bool) SwapResult {
	if _, err := p.Pool(ctx, asset); err != nil {
		return SwapResult{Error: err.Error()}
	}
	var res SwapResult
	err := p.store.Transaction(ctx, func(txCtx context.Context) error {
		var err error
		res, err = p.Swap(txCtx, asset, in, isBuy)
		if err != nil {
			return err
		}
		if !res.Success {
			return domain.ErrInsufficientLiquidity
		}
		return nil
	})
	if err != nil && res.Error == "" {
		res = SwapResult{Error: err.Error()}
	}
	return res
}

// Swap 必须在调用方事务里执行：锁池子 -> 报价 -> 改储备 -> 落库。
// 调用方可以在同一个事务里继续记账，任何一步失败都整体回滚。
// 没流动性时返回 Success=false 且不改池子
func (p *Pricer) Swap(ctx context.Context, asset string, in decimal.Decimal, isBuy bool) (SwapResult, error) {
	return p.swap(ctx, asset, in, isBuy, decimal.Zero)
}

// SwapWithin 同 Swap，但成交均价不能劣于 limit（buy 为上限，sell 为下限）。
// 输入会被压到 limit 允许的最大值，实际投入见 SwapResult.Input；
// limit 内一点都换不到时 Success=false，Cause 为 domain.ErrPriceLimit
func (p *Pricer) SwapWithin(ctx context.Context, asset string, in decimal.Decimal, isBuy bool, limit decimal.Decimal) (SwapResult, error) {
	if !limit.IsPositive() {
		return SwapResult{}, fmt.Errorf("limit %s: %w", limit, domain.ErrInvalidArgument)
	}
	return p.swap(ctx, asset, in, isBuy, limit)
}

// limit 为 0 表示不限价
func (p *Pricer) swap(ctx context.Context, asset string, in decimal.Decimal, isBuy bool, limit decimal.Decimal) (SwapResult, error) {
	ctx, span := p.tracer.Start(ctx, "amm.Swap")
	defer span.End()
	span.SetAttributes(
		attribute.String("asset", asset),
		attribute.Bool("buy", isBuy),
		attribute.String("input", in.String()),
		attribute.String("limit", limit.String()),
	)
	side := domain.SideAsk.String()
	if isBuy {
		side = domain.SideBid.String()
	}

	pool, err := p.store.GetPool(ctx, asset)
	if err != nil {
		metrics.SwapsTotal.WithLabelValues(asset, side, "error").Inc()
		return SwapResult{}, err
	}
	if limit.IsPositive() {
		in = decimal.Min(in, MaxInputWithin(pool, limit, isBuy, p.cfg))
		if !in.IsPositive() {
			metrics.SwapsTotal.WithLabelValues(asset, side, "price_limit").Inc()
			return SwapResult{Error: domain.ErrPriceLimit.Error(), Cause: domain.ErrPriceLimit}, nil
		}
	}
	q, err := QuotePool(pool, in, isBuy, p.cfg)
	if err != nil {
		if xerr.Is(err, xerr.InsufficientLiquidity) {
			metrics.SwapsTotal.WithLabelValues(asset, side, "no_liquidity").Inc()
			return SwapResult{Error: errInsufficientLiquidity, Cause: domain.ErrInsufficientLiquidity}, nil
		}
		metrics.SwapsTotal.WithLabelValues(asset, side, "error").Inc()
		return SwapResult{}, err
	}
	if !q.OutputAmount.IsPositive() {
		metrics.SwapsTotal.WithLabelValues(asset, side, "no_liquidity").Inc()
		return SwapResult{Error: errInsufficientLiquidity, Cause: domain.ErrInsufficientLiquidity, PriceImpact: q.PriceImpact, Fee: q.Fee}, nil
	}
	if limit.IsPositive() {
		if in, q, err = p.fitLimit(pool, in, q, isBuy, limit); err != nil {
			metrics.SwapsTotal.WithLabelValues(asset, side, "price_limit").Inc()
			return SwapResult{Error: err.Error(), Cause: domain.ErrPriceLimit}, nil
		}
	}

	if err := applySwap(pool, in, q.OutputAmount, isBuy, p.cfg.Precision); err != nil {
		metrics.SwapsTotal.WithLabelValues(asset, side, "no_liquidity").Inc()
		return SwapResult{Error: errInsufficientLiquidity, Cause: domain.ErrInsufficientLiquidity}, nil
	}
	if err := p.store.SavePool(ctx, pool); err != nil {
		metrics.SwapsTotal.WithLabelValues(asset, side, "error").Inc()
		return SwapResult{}, fmt.Errorf("save pool %s: %w", asset, err)
	}

	metrics.SwapsTotal.WithLabelValues(asset, side, "ok").Inc()
	p.log.Debug("swap executed",
		zap.String("asset", asset),
		zap.String("side", side),
		zap.String("in", in.String()),
		zap.String("out", q.OutputAmount.String()),
		zap.String("price", pool.CurrentPrice.String()))

	return SwapResult{
		Success:        true,
		Input:          in,
		OutputAmount:   q.OutputAmount,
		ExecutionPrice: q.OutputAmount.DivRound(in, p.cfg.Precision),
		PriceImpact:    q.PriceImpact,
		Fee:            q.Fee,
		Pool:           pool,
	}, nil
}

// fitLimit 输出按精度截断后均价可能越过 limit 一点点，按截断后的输出回推输入再报一次价
func (p *Pricer) fitLimit(pool *domain.Pool, in decimal.Decimal, q Quote, isBuy bool, limit decimal.Decimal) (decimal.Decimal, Quote, error) {
	prec := p.cfg.Precision
	for i := 0; i < 4; i++ {
		if WithinLimit(in, q.OutputAmount, limit, isBuy) {
			return in, q, nil
		}
		if isBuy {
			in = q.OutputAmount.Mul(limit).Truncate(prec)
		} else {
			in = q.OutputAmount.DivRound(limit, prec+4).Truncate(prec)
		}
		if !in.IsPositive() {
			break
		}
		var err error
		if q, err = QuotePool(pool, in, isBuy, p.cfg); err != nil {
			break
		}
	}
	return in, q, fmt.Errorf("pool %s price beyond %s: %w", pool.Asset, limit, domain.ErrPriceLimit)
}
