package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ammex.com/internal/domain"
)

type Type string

const (
	TypeTradeSettled Type = "trade_settled"
	TypeOrderUpdated Type = "order_updated"
)

// Event 对外事件，Seq 在进程内单调递增
type Event struct {
	Seq   uint64        `json:"seq"`
	Type  Type          `json:"type"`
	Asset string        `json:"asset"`
	At    time.Time     `json:"at"`
	Trade *TradePayload `json:"trade,omitempty"`
	Order *OrderPayload `json:"order,omitempty"`
}

type TradePayload struct {
	TradeID    string          `json:"trade_id"`
	BuyerID    uint64          `json:"buyer_id"`
	SellerID   uint64          `json:"seller_id"`
	QuoteAsset string          `json:"quote_asset"`
	Amount     decimal.Decimal `json:"amount"`
	Price      decimal.Decimal `json:"price"`
	Total      decimal.Decimal `json:"total"`
	Source     string          `json:"source"`
}

type OrderPayload struct {
	OrderID   uint64          `json:"order_id"`
	OwnerID   uint64          `json:"owner_id"`
	Side      string          `json:"side"`
	Status    string          `json:"status"`
	Filled    decimal.Decimal `json:"filled"`
	Remaining decimal.Decimal `json:"remaining"`
}

// Emitter 结算完成后的钩子，实现方不能阻塞、不能影响结算结果
type Emitter interface {
	TradeSettled(ctx context.Context, t *domain.Trade)
	OrderUpdated(ctx context.Context, o *domain.Order)
}

// Nop 什么都不做
type Nop struct{}

func (Nop) TradeSettled(context.Context, *domain.Trade) {}
func (Nop) OrderUpdated(context.Context, *domain.Order) {}

func tradeEvent(t *domain.Trade) Event {
	return Event{
		Type:  TypeTradeSettled,
		Asset: t.Asset,
		At:    t.CreatedAt,
		Trade: &TradePayload{
			TradeID:    t.ID,
			BuyerID:    t.BuyerID,
			SellerID:   t.SellerID,
			QuoteAsset: t.QuoteAsset,
			Amount:     t.Amount,
			Price:      t.Price,
			Total:      t.Total,
			Source:     string(t.Source),
		},
	}
}

func orderEvent(o *domain.Order, now time.Time) Event {
	return Event{
		Type:  TypeOrderUpdated,
		Asset: o.Asset,
		At:    now,
		Order: &OrderPayload{
			OrderID:   o.ID,
			OwnerID:   o.OwnerID,
			Side:      o.Side.String(),
			Status:    o.Status.String(),
			Filled:    o.FilledAmount(),
			Remaining: o.Remaining,
		},
	}
}
