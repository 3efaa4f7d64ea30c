package matching

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ammex.com/internal/domain"
	"ammex.com/pkg/logger"
	"ammex.com/pkg/metrics"
)

// CursorPolicy 结算失败后游标怎么走
type CursorPolicy string

const (
	// AdvanceFailed 只跳过余额不足的那一方，对手单继续和下一张单撮合
	AdvanceFailed CursorPolicy = "advance_failed"
	// AdvanceBoth 两边都跳过（旧行为）
	AdvanceBoth CursorPolicy = "advance_both"
)

// MatchResult 一轮批量撮合的统计
type MatchResult struct {
	TradesExecuted int
	// TotalVolume base 数量之和；TotalValue 计价资产金额之和
	TotalVolume decimal.Decimal
	TotalValue  decimal.Decimal
	// FailedMatches = InsufficientFunds + Conflicts + Errors
	FailedMatches     int
	InsufficientFunds int
	Conflicts         int
	Errors            int
	ExecutionTime     time.Duration
	Trades            []*domain.Trade
}

func (r MatchResult) ExecutionTimeMs() int64 { return r.ExecutionTime.Milliseconds() }

type Matcher struct {
	settler *Settler
	policy  CursorPolicy
	log     *zap.Logger
}

func NewMatcher(settler *Settler, policy CursorPolicy, log *zap.Logger) *Matcher {
	if policy != AdvanceBoth {
		policy = AdvanceFailed
	}
	return &Matcher{settler: settler, policy: policy, log: logger.OrNop(log)}
}

func (m *Matcher) Policy() CursorPolicy { return m.policy }

// Match 两个游标按价格时间优先推进，买价 < 卖价 立刻停止。
// 每一对单独一个事务；失败只计数，不中断整批。
// 传入的订单必须已经落库；成交后会原地更新 Remaining/Status
func (m *Matcher) Match(ctx context.Context, bids, asks []*domain.Order) MatchResult {
	start := time.Now()
	res := MatchResult{TotalVolume: decimal.Zero, TotalValue: decimal.Zero}

	bids = append([]*domain.Order(nil), bids...)
	asks = append([]*domain.Order(nil), asks...)
	SortBids(bids)
	SortAsks(asks)

	i, j := 0, 0
	for i < len(bids) && j < len(asks) {
		// 只在两对之间检查取消，已提交的不回滚
		if ctx.Err() != nil {
			break
		}
		bid, ask := bids[i], asks[j]
		if !bid.Open() {
			i++
			continue
		}
		if !ask.Open() {
			j++
			continue
		}
		if !Crosses(bid, ask) {
			break
		}

		qty := decimal.Min(bid.Remaining, ask.Remaining)
		// 成交价永远取挂单（卖单）价
		st := m.settler.Settle(ctx, bid, ask, qty, ask.Price)
		switch st.Outcome {
		case OutcomeSettled:
			res.TradesExecuted++
			res.TotalVolume = res.TotalVolume.Add(st.Trade.Amount)
			res.TotalValue = res.TotalValue.Add(st.Trade.Total)
			res.Trades = append(res.Trades, st.Trade)
			metrics.TradesTotal.WithLabelValues(bid.Asset, string(domain.TradeSourceBook)).Inc()
			// 吃完的一方下一轮会被 Open() 跳过
		case OutcomeInsufficient:
			res.FailedMatches++
			res.InsufficientFunds++
			metrics.FailedMatchesTotal.WithLabelValues(bid.Asset, st.Outcome.String()).Inc()
			if m.policy == AdvanceBoth {
				i++
				j++
				break
			}
			if st.BuyerShort {
				i++
			}
			if st.SellerShort {
				j++
			}
		default:
			res.FailedMatches++
			if st.Outcome == OutcomeConflict {
				res.Conflicts++
			} else {
				res.Errors++
			}
			metrics.FailedMatchesTotal.WithLabelValues(bid.Asset, st.Outcome.String()).Inc()
			i++
			j++
		}
	}

	res.ExecutionTime = time.Since(start)
	if res.TradesExecuted > 0 || res.FailedMatches > 0 {
		m.log.Info("match pass done",
			zap.Int("trades", res.TradesExecuted),
			zap.String("volume", res.TotalVolume.String()),
			zap.Int("failed", res.FailedMatches),
			zap.Int("insufficient", res.InsufficientFunds),
			zap.Int("conflicts", res.Conflicts),
			zap.Int64("elapsed_ms", res.ExecutionTimeMs()))
	}
	return res
}
