package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ammex.com/internal/domain"
	"ammex.com/internal/events"
	"ammex.com/internal/infra/memory"
	"ammex.com/internal/matching"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	eng   *Engine
	store *memory.Store
	bus   *events.Bus
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Markets = []Market{
		{Asset: "BTC", SeedPrice: d("50000")},
		{Asset: "ETH"},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	store := memory.NewStore(memory.WithLockTimeout(100 * time.Millisecond))
	bus := events.NewBus(1024)
	// 时钟单调递增，保证同价单的先后顺序确定
	clock := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	eng := New(store, cfg,
		WithEmitter(events.NewDispatcher(nil, bus)),
		WithClock(func() time.Time {
			clock = clock.Add(time.Millisecond)
			return clock
		}))
	t.Cleanup(eng.Close)
	return &fixture{eng: eng, store: store, bus: bus}
}

func (f *fixture) fund(t *testing.T, owner uint64, asset, amount string) {
	t.Helper()
	require.NoError(t, f.store.Transaction(context.Background(), func(tx context.Context) error {
		return f.store.ApplyDelta(tx, owner, asset, d(amount))
	}))
}

func (f *fixture) bal(t *testing.T, owner uint64, asset string) decimal.Decimal {
	t.Helper()
	b, err := f.store.Balance(context.Background(), owner, asset)
	require.NoError(t, err)
	return b
}

func (f *fixture) place(t *testing.T, owner uint64, side domain.Side, amount, price string) *domain.Order {
	t.Helper()
	o, err := f.eng.PlaceOrder(context.Background(), owner, "BTC", side, d(amount), d(price))
	require.NoError(t, err)
	return o
}

func TestPlaceOrder_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		asset   string
		side    domain.Side
		amount  string
		price   string
		wantErr error
	}{
		{"未知交易对", "DOGE", domain.SideBid, "1", "1", domain.ErrUnknownMarket},
		{"数量为 0", "BTC", domain.SideBid, "0", "1", domain.ErrInvalidArgument},
		{"价格为负", "BTC", domain.SideAsk, "1", "-1", domain.ErrInvalidArgument},
		{"方向非法", "BTC", domain.Side(9), "1", "1", domain.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.PlaceOrder(ctx, 1, tt.asset, tt.side, d(tt.amount), d(tt.price))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	o, err := f.eng.PlaceOrder(ctx, 1, "BTC", domain.SideBid, d("1.5"), d("49000"))
	require.NoError(t, err)
	assert.NotZero(t, o.ID)
	assert.Equal(t, domain.OrderStatusPending, o.Status)
	assert.True(t, o.Remaining.Equal(d("1.5")))
}

func TestGetBook_Ordering(t *testing.T) {
	f := newFixture(t)
	b1 := f.place(t, 1, domain.SideBid, "1", "100")
	b2 := f.place(t, 2, domain.SideBid, "1", "101")
	b3 := f.place(t, 3, domain.SideBid, "1", "100")
	a1 := f.place(t, 4, domain.SideAsk, "1", "103")
	a2 := f.place(t, 5, domain.SideAsk, "1", "102")

	snap, err := f.eng.GetBook(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, []uint64{b2.ID, b1.ID, b3.ID}, orderIDs(snap.Bids))
	assert.Equal(t, []uint64{a2.ID, a1.ID}, orderIDs(snap.Asks))

	bids, asks, err := f.eng.Depth(context.Background(), "BTC", 1)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.True(t, bids[0].Price.Equal(d("101")))
	require.Len(t, asks, 1)
	assert.True(t, asks[0].Price.Equal(d("102")))
}

func orderIDs(os []*domain.Order) []uint64 {
	out := make([]uint64, 0, len(os))
	for _, o := range os {
		out = append(out, o.ID)
	}
	return out
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.place(t, 1, domain.SideBid, "1", "100")

	assert.False(t, f.eng.CancelOrder(ctx, o.ID, 2), "不是本人")
	assert.False(t, f.eng.CancelOrder(ctx, 999, 1), "不存在")
	assert.True(t, f.eng.CancelOrder(ctx, o.ID, 1))

	stored, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, stored.Status)
	assert.True(t, stored.Remaining.Equal(d("1")))

	// 幂等：再撤一次失败，字段不变
	assert.False(t, f.eng.CancelOrder(ctx, o.ID, 1))
	again, _ := f.store.GetOrder(ctx, o.ID)
	assert.Equal(t, stored.Status, again.Status)
	assert.True(t, stored.Remaining.Equal(again.Remaining))

	snap, err := f.eng.GetBook(ctx, "BTC")
	require.NoError(t, err)
	assert.Empty(t, snap.Bids)
}

func TestCancelOrder_PartialAllowedFilledRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 1, "USDT", "1000")
	f.fund(t, 2, "BTC", "10")

	ask := f.place(t, 2, domain.SideAsk, "3", "100")
	bid := f.place(t, 1, domain.SideBid, "1", "100")
	res := f.eng.ExecuteOrder(ctx, bid.ID)
	require.True(t, res.Success(), res.Error)

	stored, _ := f.store.GetOrder(ctx, ask.ID)
	require.Equal(t, domain.OrderStatusPartial, stored.Status)
	assert.True(t, f.eng.CancelOrder(ctx, ask.ID, 2), "PARTIAL 可以撤剩余部分")
	stored, _ = f.store.GetOrder(ctx, ask.ID)
	assert.Equal(t, domain.OrderStatusCancelled, stored.Status)
	assert.True(t, stored.Remaining.Equal(d("2")))

	assert.False(t, f.eng.CancelOrder(ctx, bid.ID, 1), "FILLED 不能撤")
}

func TestExecuteOrder_FullyAgainstBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 1, "USDT", "60000")
	f.fund(t, 2, "BTC", "2")

	f.place(t, 2, domain.SideAsk, "1", "50000")
	bid := f.place(t, 1, domain.SideBid, "1", "50000")

	res := f.eng.ExecuteOrder(ctx, bid.ID)
	require.True(t, res.Success(), res.Error)
	assert.True(t, res.ExecutedAmount.Equal(d("1")))
	assert.True(t, res.BookAmount.Equal(d("1")))
	assert.True(t, res.PoolAmount.IsZero())
	assert.True(t, res.AveragePrice.Equal(d("50000")))
	assert.True(t, res.TotalCost.Equal(d("50000")))
	assert.True(t, res.Fee.Equal(d("50")))
	assert.True(t, res.Slippage.IsZero())
	assert.Equal(t, domain.OrderStatusFilled, res.Status)

	assert.True(t, f.bal(t, 1, "USDT").Equal(d("10000")))
	assert.True(t, f.bal(t, 1, "BTC").Equal(d("1")))
	assert.True(t, f.bal(t, 2, "USDT").Equal(d("50000")))
	assert.True(t, f.bal(t, 2, "BTC").Equal(d("1")))

	stored, _ := f.store.GetOrder(ctx, bid.ID)
	assert.NotNil(t, stored.ExecutedAt)

	snap, _ := f.eng.GetBook(ctx, "BTC")
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)
}

func TestExecuteOrder_RemainderToPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 1, "USDT", "100000")
	f.fund(t, 2, "BTC", "1")

	f.place(t, 2, domain.SideAsk, "0.5", "49000")
	// 池子含费均价约 50150，限价要给够
	bid := f.place(t, 1, domain.SideBid, "1", "51000")

	poolBefore, err := f.eng.Pricer().Pool(ctx, "BTC")
	require.NoError(t, err)

	res := f.eng.ExecuteOrder(ctx, bid.ID)
	require.True(t, res.Success(), res.Error)
	assert.True(t, res.BookAmount.Equal(d("0.5")))
	assert.True(t, res.PoolAmount.IsPositive())
	assert.True(t, res.PoolAmount.LessThanOrEqual(d("0.5")))
	require.Len(t, res.Trades, 2)

	poolTrade := res.Trades[1]
	assert.Equal(t, domain.TradeSourcePool, poolTrade.Source)
	assert.Equal(t, domain.PoolAccountID, poolTrade.SellerID)
	require.NotNil(t, poolTrade.BidOrderID)
	assert.Nil(t, poolTrade.AskOrderID)

	poolAfter, _ := f.store.GetPool(ctx, "BTC")
	assert.True(t, poolAfter.CurrentPrice.GreaterThan(poolBefore.CurrentPrice))

	// 守恒：用户 + 池子储备
	spent := d("100000").Sub(f.bal(t, 1, "USDT"))
	assert.True(t, spent.Equal(d("24500").Add(poolAfter.ReserveQuote.Sub(poolBefore.ReserveQuote))))
	got := f.bal(t, 1, "BTC")
	assert.True(t, got.Equal(d("0.5").Add(poolBefore.ReserveBase.Sub(poolAfter.ReserveBase))))
	assert.True(t, res.TotalCost.Equal(spent))

	stored, _ := f.store.GetOrder(ctx, bid.ID)
	assert.NotNil(t, stored.ExecutedAt)
	assert.True(t, stored.Remaining.Equal(d("1").Sub(res.ExecutedAmount)))
}

func TestExecuteOrder_SellIntoPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 7, "BTC", "2")

	ask := f.place(t, 7, domain.SideAsk, "1", "49000")
	res := f.eng.ExecuteOrder(ctx, ask.ID)
	require.True(t, res.Success(), res.Error)
	assert.True(t, res.PoolAmount.Equal(d("1")))
	assert.Equal(t, domain.OrderStatusFilled, res.Status)
	// 池子抽 0.3%，外加价格冲击
	assert.True(t, res.TotalCost.LessThan(d("49850")))
	assert.True(t, res.TotalCost.GreaterThan(d("49800")))
	assert.True(t, res.Fee.Equal(d("150")))

	assert.True(t, f.bal(t, 7, "BTC").Equal(d("1")))
	assert.True(t, f.bal(t, 7, "USDT").Equal(res.TotalCost))
	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.PoolAccountID, res.Trades[0].BuyerID)
}

func TestExecuteOrder_PoolOutsideLimitLeavesOrder(t *testing.T) {
	tests := []struct {
		name  string
		side  domain.Side
		price string
	}{
		// 池子现价 50000
		{"卖单下限高于池价", domain.SideAsk, "90000"},
		{"买单上限低于池价", domain.SideBid, "100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.fund(t, 1, "USDT", "1000")
			f.fund(t, 1, "BTC", "2")

			o := f.place(t, 1, tt.side, "1", tt.price)
			poolBefore, err := f.eng.Pricer().Pool(ctx, "BTC")
			require.NoError(t, err)
			balances := f.store.Balances()

			res := f.eng.ExecuteOrder(ctx, o.ID)
			assert.False(t, res.Success())
			assert.Contains(t, res.Error, domain.ErrPriceLimit.Error())
			assert.True(t, res.ExecutedAmount.IsZero())
			assert.Equal(t, domain.OrderStatusPending, res.Status)
			assert.Empty(t, res.Trades)

			assert.Equal(t, balances, f.store.Balances())
			poolAfter, _ := f.store.GetPool(ctx, "BTC")
			assert.True(t, poolAfter.ReserveBase.Equal(poolBefore.ReserveBase))
			assert.True(t, poolAfter.ReserveQuote.Equal(poolBefore.ReserveQuote))
			stored, _ := f.store.GetOrder(ctx, o.ID)
			assert.Equal(t, domain.OrderStatusPending, stored.Status)
			assert.Nil(t, stored.ExecutedAt)
		})
	}
}

func TestExecuteOrder_PoolLegClampedToLimit(t *testing.T) {
	tests := []struct {
		name   string
		side   domain.Side
		price  string
		fund   string
		amount string
	}{
		// 买：in <= 50200*1e6 - 5e10/0.997，约换出 987 个
		{"买单按上限截断", domain.SideBid, "50200", "USDT", "200000000"},
		// 卖：in <= 5e10/49800 - 1e6/0.997，约 1007 个
		{"卖单按下限截断", domain.SideAsk, "49800", "BTC", "2000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.fund(t, 1, tt.fund, tt.amount)

			o := f.place(t, 1, tt.side, "2000", tt.price)
			res := f.eng.ExecuteOrder(ctx, o.ID)
			require.True(t, res.Success(), res.Error)
			assert.True(t, res.PoolAmount.IsPositive())
			assert.True(t, res.PoolAmount.LessThan(d("2000")))
			assert.Equal(t, domain.OrderStatusPartial, res.Status)

			limit := d(tt.price)
			if tt.side == domain.SideBid {
				assert.True(t, res.AveragePrice.LessThanOrEqual(limit), res.AveragePrice.String())
				assert.True(t, res.PoolAmount.GreaterThan(d("980")))
			} else {
				assert.True(t, res.AveragePrice.GreaterThanOrEqual(limit), res.AveragePrice.String())
				assert.True(t, res.PoolAmount.GreaterThan(d("1000")))
			}

			stored, _ := f.store.GetOrder(ctx, o.ID)
			assert.True(t, stored.Remaining.Equal(d("2000").Sub(res.PoolAmount)))
			// 剩余仍挂在簿上
			wantBids, wantAsks := 0, 1
			if tt.side == domain.SideBid {
				wantBids, wantAsks = 1, 0
			}
			snap, _ := f.eng.GetBook(ctx, "BTC")
			assert.Len(t, snap.Bids, wantBids)
			assert.Len(t, snap.Asks, wantAsks)
		})
	}
}

func TestLimitPrice(t *testing.T) {
	bid := &domain.Order{Side: domain.SideBid, Price: d("100")}
	ask := &domain.Order{Side: domain.SideAsk, Price: d("100")}
	assert.True(t, limitPrice(bid, d("0.05")).Equal(d("105")))
	assert.True(t, limitPrice(ask, d("0.05")).Equal(d("95")))
	assert.True(t, limitPrice(bid, decimal.Zero).Equal(d("100")))
}

func TestExecuteOrder_ConflictEvictsStaleMaker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 1, "USDT", "1000")
	f.fund(t, 2, "ETH", "1")

	maker, err := f.eng.PlaceOrder(ctx, 2, "ETH", domain.SideAsk, d("1"), d("100"))
	require.NoError(t, err)
	taker, err := f.eng.PlaceOrder(ctx, 1, "ETH", domain.SideBid, d("1"), d("100"))
	require.NoError(t, err)

	// 另一个实例绕过本引擎把卖单撤了
	require.NoError(t, f.store.Transaction(ctx, func(tx context.Context) error {
		o, err := f.store.LockOrder(tx, maker.ID)
		if err != nil {
			return err
		}
		if err := o.Cancel(); err != nil {
			return err
		}
		return f.store.SaveOrder(tx, o)
	}))

	res := f.eng.ExecuteOrder(ctx, taker.ID)
	// ETH 没有池子，剩余走不出去
	assert.False(t, res.Success())
	assert.True(t, res.ExecutedAmount.IsZero())

	snap, err := f.eng.GetBook(ctx, "ETH")
	require.NoError(t, err)
	assert.Empty(t, snap.Asks)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, taker.ID, snap.Bids[0].ID)

	trades, _ := f.store.TradesByAsset(ctx, "ETH", 0, 0)
	assert.Empty(t, trades)
}

func TestExecuteOrder_TakerShortLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 1, "USDT", "10000")
	f.fund(t, 2, "BTC", "2")

	ask := f.place(t, 2, domain.SideAsk, "1", "50000")
	bid := f.place(t, 1, domain.SideBid, "1", "50000")
	before := f.store.Balances()

	res := f.eng.ExecuteOrder(ctx, bid.ID)
	assert.False(t, res.Success())
	assert.True(t, res.ExecutedAmount.IsZero())
	assert.Equal(t, before, f.store.Balances())

	trades, _ := f.store.TradesByAsset(ctx, "BTC", 0, 0)
	assert.Empty(t, trades)
	for _, id := range []uint64{ask.ID, bid.ID} {
		o, _ := f.store.GetOrder(ctx, id)
		assert.Equal(t, domain.OrderStatusPending, o.Status)
	}
}

func TestExecuteOrder_PoolLegShortRollsBackPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// 买方没钱，簿上也没对手单
	bid := f.place(t, 1, domain.SideBid, "1", "51000")
	before, err := f.eng.Pricer().Pool(ctx, "BTC")
	require.NoError(t, err)

	res := f.eng.ExecuteOrder(ctx, bid.ID)
	assert.False(t, res.Success())
	after, _ := f.store.GetPool(ctx, "BTC")
	assert.True(t, after.ReserveQuote.Equal(before.ReserveQuote))
	assert.True(t, after.Volume.Equal(before.Volume))

	o, _ := f.store.GetOrder(ctx, bid.ID)
	assert.Equal(t, domain.OrderStatusPending, o.Status)
	assert.Nil(t, o.ExecutedAt)
}

func TestExecuteOrder_SkipsShortMaker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 1, "USDT", "1000")
	f.fund(t, 3, "BTC", "5")

	broke := f.place(t, 2, domain.SideAsk, "1", "99")
	good := f.place(t, 3, domain.SideAsk, "1", "100")
	bid := f.place(t, 1, domain.SideBid, "1", "100")

	res := f.eng.ExecuteOrder(ctx, bid.ID)
	require.True(t, res.Success(), res.Error)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, uint64(3), res.Trades[0].SellerID)
	assert.True(t, res.AveragePrice.Equal(d("100")))

	o, _ := f.store.GetOrder(ctx, broke.ID)
	assert.Equal(t, domain.OrderStatusPending, o.Status)
	o, _ = f.store.GetOrder(ctx, good.ID)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
}

func TestExecuteOrder_SlippageWeighted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 1, "USDT", "10000")
	f.fund(t, 2, "BTC", "10")

	f.place(t, 2, domain.SideAsk, "1", "100")
	f.place(t, 2, domain.SideAsk, "1", "110")
	bid := f.place(t, 1, domain.SideBid, "2", "120")

	res := f.eng.ExecuteOrder(ctx, bid.ID)
	require.True(t, res.Success(), res.Error)
	// (0*1 + 10*1) / (2 * 100)
	assert.True(t, res.Slippage.Equal(d("0.05")))
	assert.True(t, res.AveragePrice.Equal(d("105")))
	assert.True(t, res.Fee.Equal(d("0.21")))
}

func TestExecuteOrder_SlippageCapped(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.SlippageCap = d("0.02") })
	b := matching.NewBook("BTC")
	b.Add(&domain.Order{ID: 1, Asset: "BTC", Side: domain.SideAsk, Price: d("100"), Amount: d("1"), Remaining: d("1"), Status: domain.OrderStatusPending})
	b.Add(&domain.Order{ID: 2, Asset: "BTC", Side: domain.SideAsk, Price: d("200"), Amount: d("1"), Remaining: d("1"), Status: domain.OrderStatusPending})
	assert.True(t, estimateSlippage(b, domain.SideAsk, d("2"), f.eng.cfg.SlippageCap).Equal(d("0.02")))
	assert.True(t, estimateSlippage(b, domain.SideAsk, d("1"), d("0.1")).IsZero())
	assert.True(t, estimateSlippage(matching.NewBook("BTC"), domain.SideAsk, d("1"), d("0.1")).IsZero())
}

func TestExecuteOrder_OnlyPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.eng.ExecuteOrder(ctx, 42)
	assert.False(t, res.Success())

	o := f.place(t, 1, domain.SideBid, "1", "100")
	require.True(t, f.eng.CancelOrder(ctx, o.ID, 1))
	res = f.eng.ExecuteOrder(ctx, o.ID)
	assert.False(t, res.Success())
	assert.Equal(t, domain.OrderStatusCancelled, res.Status)
	assert.True(t, res.ExecutedAmount.IsZero())
}

func TestExecuteOrder_NoPoolForMarket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 1, "USDT", "1000")

	o, err := f.eng.PlaceOrder(ctx, 1, "ETH", domain.SideBid, d("1"), d("100"))
	require.NoError(t, err)
	res := f.eng.ExecuteOrder(ctx, o.ID)
	assert.False(t, res.Success())
	assert.True(t, res.ExecutedAmount.IsZero())
	assert.True(t, f.bal(t, 1, "USDT").Equal(d("1000")))
}

func TestMatchAsset_ScheduledCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 1, "USDT", "60000")
	f.fund(t, 2, "BTC", "2")

	f.place(t, 1, domain.SideBid, "1", "50000")
	f.place(t, 2, domain.SideAsk, "1", "50000")
	f.place(t, 2, domain.SideAsk, "1", "51000")

	res, err := f.eng.MatchAsset(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, 1, res.TradesExecuted)
	assert.Equal(t, 0, res.FailedMatches)

	snap, _ := f.eng.GetBook(ctx, "BTC")
	assert.Empty(t, snap.Bids)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Price.Equal(d("51000")))

	// 再跑一遍没有可成交的
	res, err = f.eng.MatchAsset(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, 0, res.TradesExecuted)
}

func TestMatch_RawEntrySyncsBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 1, "USDT", "100")
	f.fund(t, 2, "BTC", "1")

	bid := f.place(t, 1, domain.SideBid, "1", "100")
	ask := f.place(t, 2, domain.SideAsk, "1", "100")

	res := f.eng.Match(ctx, []*domain.Order{bid}, []*domain.Order{ask})
	assert.Equal(t, 1, res.TradesExecuted)
	snap, _ := f.eng.GetBook(ctx, "BTC")
	assert.Empty(t, snap.Bids)
	assert.Empty(t, snap.Asks)

	empty := f.eng.Match(ctx, nil, nil)
	assert.Equal(t, 0, empty.TradesExecuted)
}

func TestPlaceOrder_RateLimited(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.PlaceRate = 0.001
		c.PlaceBurst = 2
	})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := f.eng.PlaceOrder(ctx, 1, "BTC", domain.SideBid, d("1"), d("1"))
		require.NoError(t, err)
	}
	_, err := f.eng.PlaceOrder(ctx, 1, "BTC", domain.SideBid, d("1"), d("1"))
	assert.ErrorIs(t, err, ErrRateLimited)

	// 别的用户不受影响
	_, err = f.eng.PlaceOrder(ctx, 2, "BTC", domain.SideBid, d("1"), d("1"))
	assert.NoError(t, err)
}

func TestEngine_RebuildsBookFromStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.place(t, 1, domain.SideAsk, "1", "100")
	b := f.place(t, 2, domain.SideBid, "1", "90")
	f.eng.Close()

	cfg := DefaultConfig()
	cfg.Markets = []Market{{Asset: "BTC", SeedPrice: d("50000")}}
	eng := New(f.store, cfg)
	defer eng.Close()

	snap, err := eng.GetBook(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, []uint64{b.ID}, orderIDs(snap.Bids))
	assert.Equal(t, []uint64{a.ID}, orderIDs(snap.Asks))
}

func TestEngine_EmitsEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 1, "USDT", "100")
	f.fund(t, 2, "BTC", "1")

	f.place(t, 2, domain.SideAsk, "1", "100")
	bid := f.place(t, 1, domain.SideBid, "1", "100")
	res := f.eng.ExecuteOrder(ctx, bid.ID)
	require.True(t, res.Success(), res.Error)

	var types []events.Type
	for len(f.bus.C()) > 0 {
		ev := <-f.bus.C()
		types = append(types, ev.Type)
	}
	// 两次下单 + 一笔成交 + 两次订单更新
	assert.Equal(t, []events.Type{
		events.TypeOrderUpdated, events.TypeOrderUpdated,
		events.TypeTradeSettled, events.TypeOrderUpdated, events.TypeOrderUpdated,
	}, types)
}
