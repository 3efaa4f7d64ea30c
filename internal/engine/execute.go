package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"ammex.com/internal/domain"
	"ammex.com/internal/matching"
	"ammex.com/pkg/logger"
	"ammex.com/pkg/metrics"
)

var one = decimal.NewFromInt(1)

type ledgerStep struct {
	asset string
	delta decimal.Decimal
}

type poolFill struct {
	amount decimal.Decimal
	cost   decimal.Decimal
	fee    decimal.Decimal
	trade  *domain.Trade
	order  *domain.Order
}

// ExecuteOrder 先吃簿上的对手单，剩下的打到池子里。
// 单子不存在或不是 PENDING 时直接返回失败，不改任何状态
func (e *Engine) ExecuteOrder(ctx context.Context, orderID uint64) ExecutionResult {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.ExecuteOrder",
		oteltrace.WithAttributes(attribute.Int64("order_id", int64(orderID))))
	defer func() {
		span.End()
		observe("execute", start)
	}()

	res := newExecutionResult(orderID)
	o, err := e.repo.GetOrder(ctx, orderID)
	if err != nil {
		res.Error = err.Error()
		metrics.OrdersTotal.WithLabelValues("", "execute", "fail").Inc()
		return res
	}
	if o.Status != domain.OrderStatusPending {
		res.Error = fmt.Sprintf("order %d is %s, only PENDING orders can be executed", orderID, o.Status)
		res.Status = o.Status
		metrics.OrdersTotal.WithLabelValues(o.Asset, "execute", "fail").Inc()
		return res
	}

	err = e.do(ctx, o.Asset, func(ctx context.Context, a *assetActor) error {
		res = e.execute(ctx, a, orderID)
		return nil
	})
	if err != nil {
		res.Error = err.Error()
	}
	metrics.OrdersTotal.WithLabelValues(o.Asset, "execute", resultOf(res)).Inc()
	span.SetAttributes(
		attribute.String("executed", res.ExecutedAmount.String()),
		attribute.String("book", res.BookAmount.String()),
		attribute.String("pool", res.PoolAmount.String()))
	return res
}

func resultOf(r ExecutionResult) string {
	switch {
	case r.Success():
		return "ok"
	case r.ExecutedAmount.IsPositive():
		return "partial"
	default:
		return "fail"
	}
}

// execute 在 actor 里跑
func (e *Engine) execute(ctx context.Context, a *assetActor, orderID uint64) ExecutionResult {
	res := newExecutionResult(orderID)

	taker, ok := a.book.Get(orderID)
	if !ok {
		// 簿上没有：别的实例下的单，或者已经被撤/成交
		o, err := e.repo.GetOrder(ctx, orderID)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		taker = o
		a.book.Add(taker)
	}
	res.Status = taker.Status
	if taker.Status != domain.OrderStatusPending {
		res.Error = fmt.Sprintf("order %d is %s, only PENDING orders can be executed", orderID, taker.Status)
		return res
	}

	opp := taker.Side.Opposite()
	res.Slippage = estimateSlippage(a.book, opp, taker.Remaining, e.cfg.SlippageCap)

	// 1. 订单簿
	notional := decimal.Zero
	takerShort := false
	for _, maker := range crossingMakers(a.book, taker) {
		if !taker.Open() {
			break
		}
		if !maker.Open() {
			continue
		}
		qty := decimal.Min(taker.Remaining, maker.Remaining)
		bid, ask := taker, maker
		if taker.Side == domain.SideAsk {
			bid, ask = maker, taker
		}
		st := e.settler.Settle(ctx, bid, ask, qty, maker.Price)
		switch st.Outcome {
		case matching.OutcomeSettled:
			res.BookAmount = res.BookAmount.Add(qty)
			notional = notional.Add(st.Trade.Total)
			res.Trades = append(res.Trades, st.Trade)
			a.book.Refresh(maker)
			metrics.TradesTotal.WithLabelValues(a.asset, string(domain.TradeSourceBook)).Inc()
		case matching.OutcomeInsufficient:
			metrics.FailedMatchesTotal.WithLabelValues(a.asset, st.Outcome.String()).Inc()
			if (taker.Side == domain.SideBid && st.BuyerShort) || (taker.Side == domain.SideAsk && st.SellerShort) {
				takerShort = true
			}
		case matching.OutcomeConflict:
			// 对手单（或 taker 自己）在库里已被撤/成交：按库里的状态校正簿，不再反复撞上
			metrics.FailedMatchesTotal.WithLabelValues(a.asset, st.Outcome.String()).Inc()
			e.resync(ctx, a, maker, taker)
		default:
			metrics.FailedMatchesTotal.WithLabelValues(a.asset, st.Outcome.String()).Inc()
		}
		if takerShort {
			break
		}
	}
	a.book.Refresh(taker)
	res.Fee = notional.Mul(e.cfg.ExecFeeRate)
	res.TotalCost = notional

	// 2. 剩余打到池子
	switch {
	case takerShort:
		res.Error = domain.ErrInsufficientBalance.Error()
	case taker.Status == domain.OrderStatusCancelled:
		res.Error = fmt.Sprintf("order %d was cancelled during execution", orderID)
	case taker.Open():
		fill, err := e.fillFromPool(ctx, a, taker, res.Slippage)
		if err != nil {
			res.Error = err.Error()
			logf := logger.Warn
			if domain.IsBusiness(err) {
				logf = logger.Info
			}
			logf(ctx, "pool fill skipped",
				zap.Uint64("order_id", orderID),
				zap.String("asset", a.asset),
				zap.String("remaining", taker.Remaining.String()),
				zap.Error(err))
			break
		}
		res.PoolAmount = fill.amount
		res.TotalCost = res.TotalCost.Add(fill.cost)
		res.Fee = res.Fee.Add(fill.fee)
		res.Trades = append(res.Trades, fill.trade)
	}

	res.ExecutedAmount = res.BookAmount.Add(res.PoolAmount)
	if res.ExecutedAmount.IsPositive() {
		res.AveragePrice = res.TotalCost.DivRound(res.ExecutedAmount, e.pricer.Config().Precision)
	}
	res.Status = taker.Status

	e.log.Info("order executed",
		zap.Uint64("order_id", orderID),
		zap.String("asset", a.asset),
		zap.String("book", res.BookAmount.String()),
		zap.String("pool", res.PoolAmount.String()),
		zap.String("avg_price", res.AveragePrice.String()),
		zap.String("slippage", res.Slippage.String()),
		zap.String("status", res.Status.String()),
		zap.String("error", res.Error))
	return res
}

// resync 用库里的最新状态覆盖簿上的订单，已关闭的会被移出簿
func (e *Engine) resync(ctx context.Context, a *assetActor, orders ...*domain.Order) {
	for _, o := range orders {
		fresh, err := e.repo.GetOrder(ctx, o.ID)
		if err != nil {
			e.log.Warn("resync order failed", zap.Uint64("order_id", o.ID), zap.Error(err))
			continue
		}
		o.Remaining = fresh.Remaining
		o.Status = fresh.Status
		o.ExecutedAt = fresh.ExecutedAt
		o.UpdatedAt = fresh.UpdatedAt
		a.book.Refresh(o)
	}
}

// crossingMakers 按价格时间优先取出和 taker 价格交叉的对手单
func crossingMakers(b *matching.Book, taker *domain.Order) []*domain.Order {
	out := make([]*domain.Order, 0, 16)
	b.Walk(taker.Side.Opposite(), func(m *domain.Order) bool {
		if taker.Side == domain.SideBid && m.Price.GreaterThan(taker.Price) {
			return false
		}
		if taker.Side == domain.SideAsk && m.Price.LessThan(taker.Price) {
			return false
		}
		out = append(out, m)
		return true
	})
	return out
}

// estimateSlippage 沿对手盘吃 amount，按数量加权的 |价格-最优价|/最优价，封顶 ceiling。
// 对手盘为空时为 0
func estimateSlippage(b *matching.Book, side domain.Side, amount, ceiling decimal.Decimal) decimal.Decimal {
	best, ok := b.Best(side)
	if !ok || !amount.IsPositive() {
		return decimal.Zero
	}
	bp := best.Price
	left, walked, weighted := amount, decimal.Zero, decimal.Zero
	b.Walk(side, func(o *domain.Order) bool {
		q := decimal.Min(left, o.Remaining)
		weighted = weighted.Add(o.Price.Sub(bp).Abs().Mul(q))
		walked = walked.Add(q)
		left = left.Sub(q)
		return left.IsPositive()
	})
	if !walked.IsPositive() {
		return decimal.Zero
	}
	s := weighted.DivRound(walked.Mul(bp), 18)
	return decimal.Min(s, ceiling)
}

// limitPrice 池子腿的限价：price × (1 ± slippage)，买单上浮为上限，卖单下浮为下限
func limitPrice(o *domain.Order, slippage decimal.Decimal) decimal.Decimal {
	if o.Side == domain.SideBid {
		return o.Price.Mul(one.Add(slippage))
	}
	return o.Price.Mul(one.Sub(slippage))
}

// fillFromPool 同一个事务里：改池子储备 + 用户两笔记账 + 更新订单 + 写成交。
// 成交均价不会劣于 limitPrice；池子价格在限价外时订单原样保留
func (e *Engine) fillFromPool(ctx context.Context, a *assetActor, taker *domain.Order, slippage decimal.Decimal) (poolFill, error) {
	pool, err := e.pricer.Pool(ctx, a.asset)
	if err != nil {
		return poolFill{}, err
	}
	prec := e.pricer.Config().Precision
	isBuy := taker.Side == domain.SideBid
	limit := limitPrice(taker, slippage)

	var in decimal.Decimal
	if isBuy {
		// 预算按限价算；够买满剩余数量就只花需要的那部分
		budget := taker.Remaining.Mul(limit).Truncate(prec)
		in = budget
		if need, ok := exactQuoteIn(pool, taker.Remaining, prec); ok {
			in = decimal.Min(budget, need)
		}
	} else {
		in = taker.Remaining
	}
	if !in.IsPositive() || !limit.IsPositive() {
		return poolFill{}, fmt.Errorf("order %d pool input %s limit %s: %w", taker.ID, in, limit, domain.ErrInvalidArgument)
	}

	var fill poolFill
	quote := e.quoteOf(a.asset)
	err = e.repo.Transaction(ctx, func(txCtx context.Context) error {
		locked, err := e.repo.LockOrder(txCtx, taker.ID)
		if err != nil {
			return err
		}
		if !locked.Open() || !locked.Remaining.Equal(taker.Remaining) {
			return fmt.Errorf("order %d changed concurrently: %w", taker.ID, domain.ErrConflict)
		}

		sw, err := e.pricer.SwapWithin(txCtx, a.asset, in, isBuy, limit)
		if err != nil {
			return err
		}
		if !sw.Success {
			return fmt.Errorf("pool %s limit %s: %w", a.asset, limit, sw.Cause)
		}
		// 限价可能压低实际投入
		paid := sw.Input

		var filled, cost decimal.Decimal
		var steps [2]ledgerStep
		if isBuy {
			filled, cost = decimal.Min(sw.OutputAmount, locked.Remaining), paid
			steps = [2]ledgerStep{{quote, paid.Neg()}, {a.asset, sw.OutputAmount}}
		} else {
			filled, cost = paid, sw.OutputAmount
			steps = [2]ledgerStep{{a.asset, paid.Neg()}, {quote, sw.OutputAmount}}
		}
		for _, s := range steps {
			if err := e.repo.ApplyDelta(txCtx, locked.OwnerID, s.asset, s.delta); err != nil {
				return err
			}
		}

		now := e.now()
		if err := locked.Fill(filled); err != nil {
			return err
		}
		locked.MarkExecuted(now)
		if err := e.repo.SaveOrder(txCtx, locked); err != nil {
			return err
		}

		price := cost.DivRound(filled, prec)
		var t *domain.Trade
		if isBuy {
			t = domain.NewTrade(a.asset, quote, locked.OwnerID, domain.PoolAccountID, filled, price, domain.TradeSourcePool, now).
				WithOrders(locked, nil)
		} else {
			t = domain.NewTrade(a.asset, quote, domain.PoolAccountID, locked.OwnerID, filled, price, domain.TradeSourcePool, now).
				WithOrders(nil, locked)
		}
		if err := e.repo.CreateTrade(txCtx, t); err != nil {
			return err
		}
		fill = poolFill{amount: filled, cost: cost, fee: sw.Fee, trade: t, order: locked}
		return nil
	})
	if err != nil {
		return poolFill{}, err
	}

	taker.Remaining = fill.order.Remaining
	taker.Status = fill.order.Status
	taker.ExecutedAt = fill.order.ExecutedAt
	taker.UpdatedAt = fill.order.UpdatedAt
	a.book.Refresh(taker)

	metrics.TradesTotal.WithLabelValues(a.asset, string(domain.TradeSourcePool)).Inc()
	e.emit.TradeSettled(ctx, fill.trade)
	e.emit.OrderUpdated(ctx, taker)
	return fill, nil
}

// exactQuoteIn 恰好换出 amount 个 base 需要投入的 quote（已含手续费），向上取整
func exactQuoteIn(p *domain.Pool, amount decimal.Decimal, prec int32) (decimal.Decimal, bool) {
	left := p.ReserveBase.Sub(amount)
	feeLeft := one.Sub(p.FeeRate)
	if !left.IsPositive() || !feeLeft.IsPositive() {
		return decimal.Zero, false
	}
	need := amount.Mul(p.ReserveQuote).DivRound(left.Mul(feeLeft), prec+4)
	return need.RoundCeil(prec), true
}
