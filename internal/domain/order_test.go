package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ammex.com/pkg/xerr"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNewOrder_Validation(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		asset  string
		side   Side
		amount string
		price  string
		ok     bool
	}{
		{"正常买单", "BTC", SideBid, "1", "50000", true},
		{"正常卖单", "BTC", SideAsk, "0.5", "1", true},
		{"数量为0", "BTC", SideBid, "0", "50000", false},
		{"负价格", "BTC", SideBid, "1", "-1", false},
		{"空资产", "", SideBid, "1", "1", false},
		{"非法方向", "BTC", Side(9), "1", "1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := NewOrder(7, tt.asset, tt.side, d(tt.amount), d(tt.price), now)
			if !tt.ok {
				require.Error(t, err)
				assert.True(t, xerr.Is(err, xerr.RequestParamsError))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, OrderStatusPending, o.Status)
			assert.True(t, o.Remaining.Equal(o.Amount))
		})
	}
}

func TestOrder_StateMachine(t *testing.T) {
	o, err := NewOrder(1, "BTC", SideBid, d("2"), d("100"), time.Now())
	require.NoError(t, err)

	require.NoError(t, o.Fill(d("0.5")))
	assert.Equal(t, OrderStatusPartial, o.Status)
	assert.True(t, o.FilledAmount().Equal(d("0.5")))

	// 超量成交被拒，字段不变
	require.ErrorIs(t, o.Fill(d("5")), ErrInvalidArgument)
	assert.True(t, o.Remaining.Equal(d("1.5")))

	require.NoError(t, o.Fill(d("1.5")))
	assert.Equal(t, OrderStatusFilled, o.Status)
	assert.True(t, o.Remaining.IsZero())

	// 终态：既不能成交也不能撤
	assert.ErrorIs(t, o.Fill(d("0.1")), ErrOrderState)
	assert.ErrorIs(t, o.Cancel(), ErrOrderState)
	assert.Equal(t, OrderStatusFilled, o.Status)
}

func TestOrder_CancelPartial(t *testing.T) {
	o, _ := NewOrder(1, "BTC", SideAsk, d("2"), d("100"), time.Now())
	require.NoError(t, o.Fill(d("1")))
	require.NoError(t, o.Cancel())
	assert.Equal(t, OrderStatusCancelled, o.Status)
	assert.True(t, o.Remaining.Equal(d("1")), "撤单冻结剩余量")

	// 重复撤单失败
	assert.ErrorIs(t, o.Cancel(), ErrOrderState)
	assert.False(t, o.Open())
}

func TestTrade_Total(t *testing.T) {
	bid := &Order{ID: 3}
	tr := NewTrade("BTC", "USDT", 1, 2, d("0.25"), d("50000"), TradeSourceBook, time.Now()).WithOrders(bid, nil)
	assert.True(t, tr.Total.Equal(d("12500")))
	require.NotNil(t, tr.BidOrderID)
	assert.Equal(t, uint64(3), *tr.BidOrderID)
	assert.Nil(t, tr.AskOrderID)
	assert.NotEmpty(t, tr.ID)
}

func TestBalanceKey_Less(t *testing.T) {
	a := BalanceKey{OwnerID: 1, Asset: "USDT"}
	b := BalanceKey{OwnerID: 1, Asset: "BTC"}
	c := BalanceKey{OwnerID: 2, Asset: "AAA"}
	assert.True(t, b.Less(a))
	assert.True(t, a.Less(c))
	assert.False(t, c.Less(b))
}
