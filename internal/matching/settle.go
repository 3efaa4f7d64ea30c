package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ammex.com/internal/domain"
	"ammex.com/internal/events"
	"ammex.com/pkg/logger"
	"ammex.com/pkg/xerr"
)

type Outcome uint8

const (
	OutcomeSettled      Outcome = iota + 1
	OutcomeInsufficient         // 买方计价资产或卖方 base 不足
	OutcomeConflict             // 锁冲突 / 订单已被并发修改
	OutcomeError                // 其它（数据库等）
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSettled:
		return "settled"
	case OutcomeInsufficient:
		return "insufficient_funds"
	case OutcomeConflict:
		return "conflict"
	default:
		return "error"
	}
}

// Settlement 一对订单的结算结果
type Settlement struct {
	Outcome Outcome
	Trade   *domain.Trade
	// 哪一方余额不足，可能两边都不足
	BuyerShort  bool
	SellerShort bool
	Err         error
}

func (s Settlement) OK() bool { return s.Outcome == OutcomeSettled }

type shortfall struct {
	buyer, seller bool
}

func (e *shortfall) Error() string {
	return fmt.Sprintf("insufficient funds (buyer=%v seller=%v)", e.buyer, e.seller)
}

func (e *shortfall) Unwrap() error { return domain.ErrInsufficientBalance }

// QuoteResolver 资产 -> 计价资产
type QuoteResolver func(asset string) string

// Settler 单对结算：一个事务里 锁余额 -> 校验 -> 四笔记账 -> 写成交 -> 更新两张订单
type Settler struct {
	repo  domain.Repository
	quote QuoteResolver
	emit  events.Emitter
	log   *zap.Logger
	now   func() time.Time
}

type SettlerOption func(*Settler)

func WithEmitter(e events.Emitter) SettlerOption {
	return func(s *Settler) {
		if e != nil {
			s.emit = e
		}
	}
}

func WithLogger(l *zap.Logger) SettlerOption {
	return func(s *Settler) { s.log = logger.OrNop(l) }
}

func WithClock(now func() time.Time) SettlerOption {
	return func(s *Settler) { s.now = now }
}

func NewSettler(repo domain.Repository, quote QuoteResolver, opts ...SettlerOption) *Settler {
	s := &Settler{
		repo:  repo,
		quote: quote,
		emit:  events.Nop{},
		log:   zap.NewNop(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Settler) Quote(asset string) string { return s.quote(asset) }

// Settle 成交 amount @ price。成功后把成交结果同步回 bid/ask（调用方持有的对象），
// 失败时两边都不变
func (s *Settler) Settle(ctx context.Context, bid, ask *domain.Order, amount, price decimal.Decimal) Settlement {
	if bid.Asset != ask.Asset || bid.Side != domain.SideBid || ask.Side != domain.SideAsk {
		return Settlement{Outcome: OutcomeError, Err: fmt.Errorf("bad pair %d/%d: %w", bid.ID, ask.ID, domain.ErrInvalidArgument)}
	}
	if !amount.IsPositive() || !price.IsPositive() {
		return Settlement{Outcome: OutcomeError, Err: fmt.Errorf("amount %s price %s: %w", amount, price, domain.ErrInvalidArgument)}
	}

	asset, quote := bid.Asset, s.quote(bid.Asset)
	total := amount.Mul(price)
	var (
		trade                *domain.Trade
		lockedBid, lockedAsk *domain.Order
	)

	err := s.repo.Transaction(ctx, func(txCtx context.Context) error {
		var err error
		// 订单行锁：和撤单互斥，防止对已撤的单成交
		if lockedBid, err = s.lockOpen(txCtx, bid.ID, amount); err != nil {
			return err
		}
		if lockedAsk, err = s.lockOpen(txCtx, ask.ID, amount); err != nil {
			return err
		}

		// 余额行锁按 key 排序获取，避免两个事务交叉等待
		for _, k := range sortedKeys(
			domain.BalanceKey{OwnerID: bid.OwnerID, Asset: quote},
			domain.BalanceKey{OwnerID: bid.OwnerID, Asset: asset},
			domain.BalanceKey{OwnerID: ask.OwnerID, Asset: asset},
			domain.BalanceKey{OwnerID: ask.OwnerID, Asset: quote},
		) {
			if _, err := s.repo.LockedBalance(txCtx, k.OwnerID, k.Asset); err != nil {
				return err
			}
		}

		buyerQuote, err := s.repo.LockedBalance(txCtx, bid.OwnerID, quote)
		if err != nil {
			return err
		}
		sellerBase, err := s.repo.LockedBalance(txCtx, ask.OwnerID, asset)
		if err != nil {
			return err
		}
		short := &shortfall{
			buyer:  buyerQuote.LessThan(total),
			seller: sellerBase.LessThan(amount),
		}
		if short.buyer || short.seller {
			return short
		}

		for _, step := range []struct {
			owner uint64
			asset string
			delta decimal.Decimal
		}{
			{bid.OwnerID, quote, total.Neg()},
			{bid.OwnerID, asset, amount},
			{ask.OwnerID, asset, amount.Neg()},
			{ask.OwnerID, quote, total},
		} {
			if err := s.repo.ApplyDelta(txCtx, step.owner, step.asset, step.delta); err != nil {
				return err
			}
		}

		now := s.now()
		for _, o := range []*domain.Order{lockedBid, lockedAsk} {
			if err := o.Fill(amount); err != nil {
				return err
			}
			o.MarkExecuted(now)
			if err := s.repo.SaveOrder(txCtx, o); err != nil {
				return err
			}
		}

		trade = domain.NewTrade(asset, quote, bid.OwnerID, ask.OwnerID, amount, price, domain.TradeSourceBook, now).
			WithOrders(lockedBid, lockedAsk)
		return s.repo.CreateTrade(txCtx, trade)
	})

	if err != nil {
		res := classify(err)
		s.log.Warn("settlement aborted",
			zap.String("asset", asset),
			zap.Uint64("bid_id", bid.ID),
			zap.Uint64("ask_id", ask.ID),
			zap.String("amount", amount.String()),
			zap.String("price", price.String()),
			zap.String("reason", res.Outcome.String()),
			zap.Error(err))
		return res
	}

	// 提交之后才回写内存对象并发事件
	syncOrder(bid, lockedBid)
	syncOrder(ask, lockedAsk)
	s.emit.TradeSettled(ctx, trade)
	s.emit.OrderUpdated(ctx, bid)
	s.emit.OrderUpdated(ctx, ask)
	return Settlement{Outcome: OutcomeSettled, Trade: trade}
}

func (s *Settler) lockOpen(ctx context.Context, id uint64, amount decimal.Decimal) (*domain.Order, error) {
	o, err := s.repo.LockOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.Open() || o.Remaining.LessThan(amount) {
		return nil, fmt.Errorf("order %d is %s remaining %s: %w", id, o.Status, o.Remaining, domain.ErrConflict)
	}
	return o, nil
}

func classify(err error) Settlement {
	var short *shortfall
	if errors.As(err, &short) {
		return Settlement{Outcome: OutcomeInsufficient, BuyerShort: short.buyer, SellerShort: short.seller, Err: err}
	}
	switch xerr.CodeOf(err) {
	case xerr.InsufficientBalance:
		// 校验通过但记账时仍不足，只能是并发改了余额
		return Settlement{Outcome: OutcomeConflict, Err: err}
	case xerr.LockConflict, xerr.OrderStateError, xerr.RecordNotFound:
		return Settlement{Outcome: OutcomeConflict, Err: err}
	}
	return Settlement{Outcome: OutcomeError, Err: err}
}

func syncOrder(dst, src *domain.Order) {
	dst.Remaining = src.Remaining
	dst.Status = src.Status
	dst.ExecutedAt = src.ExecutedAt
	dst.UpdatedAt = src.UpdatedAt
}

func sortedKeys(keys ...domain.BalanceKey) []domain.BalanceKey {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	out := make([]domain.BalanceKey, 0, len(keys))
	for _, k := range keys {
		if len(out) > 0 && out[len(out)-1] == k {
			continue
		}
		out = append(out, k)
	}
	return out
}
