package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TradeSource string

const (
	TradeSourceBook TradeSource = "book" // 订单簿撮合
	TradeSourcePool TradeSource = "pool" // 流动性池成交
)

// PoolAccountID 池子成交时的对手方账户
const PoolAccountID uint64 = 1<<63 - 1

// Trade 成交记录，写入后不可变
type Trade struct {
	ID         string          `gorm:"primaryKey;size:36"`
	Asset      string          `gorm:"size:20;not null;index:idx_trades_asset_time,priority:1"`
	QuoteAsset string          `gorm:"size:20;not null"`
	BuyerID    uint64          `gorm:"index;not null"`
	SellerID   uint64          `gorm:"index;not null"`
	BidOrderID *uint64         `gorm:"index"`
	AskOrderID *uint64         `gorm:"index"`
	Amount     decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Price      decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Total      decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Source     TradeSource     `gorm:"size:8;not null"`
	CreatedAt  time.Time       `gorm:"precision:6;index:idx_trades_asset_time,priority:2"`
}

func (Trade) TableName() string { return "trades" }

// NewTrade total = amount * price，同一精度下计算
func NewTrade(asset, quote string, buyer, seller uint64, amount, price decimal.Decimal, source TradeSource, now time.Time) *Trade {
	return &Trade{
		ID:         uuid.NewString(),
		Asset:      asset,
		QuoteAsset: quote,
		BuyerID:    buyer,
		SellerID:   seller,
		Amount:     amount,
		Price:      price,
		Total:      amount.Mul(price),
		Source:     source,
		CreatedAt:  now,
	}
}

// WithOrders 记录来源订单，nil 表示这一侧是池子
func (t *Trade) WithOrders(bid, ask *Order) *Trade {
	if bid != nil {
		id := bid.ID
		t.BidOrderID = &id
	}
	if ask != nil {
		id := ask.ID
		t.AskOrderID = &id
	}
	return t
}
