package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Side uint8

const (
	SideBid Side = iota + 1 // 买
	SideAsk                 // 卖
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "BID"
	case SideAsk:
		return "ASK"
	default:
		return fmt.Sprintf("Side(%d)", uint8(s))
	}
}

func (s Side) Valid() bool { return s == SideBid || s == SideAsk }

func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

type OrderStatus uint8

const (
	OrderStatusPending   OrderStatus = iota + 1 // 挂单中，未成交
	OrderStatusPartial                          // 部分成交
	OrderStatusFilled                           // 全部成交（终态）
	OrderStatusCancelled                        // 已撤单（终态）
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "PENDING"
	case OrderStatusPartial:
		return "PARTIAL"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("OrderStatus(%d)", uint8(s))
	}
}

// Open 还在簿上，可以被撮合/撤单
func (s OrderStatus) Open() bool {
	return s == OrderStatusPending || s == OrderStatusPartial
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// Order 限价单。Asset 是 base 资产，计价资产由市场配置决定
type Order struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement"`
	OwnerID    uint64          `gorm:"index;not null"`
	Asset      string          `gorm:"size:20;not null;index:idx_orders_book,priority:1"`
	Side       Side            `gorm:"not null;index:idx_orders_book,priority:3"`
	Price      decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Amount     decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Remaining  decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Status     OrderStatus     `gorm:"not null;index:idx_orders_book,priority:2"`
	CreatedAt  time.Time       `gorm:"precision:6"`
	ExecutedAt *time.Time      `gorm:"precision:6"`
	UpdatedAt  time.Time       `gorm:"precision:6"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) Open() bool { return o.Status.Open() && o.Remaining.IsPositive() }

// FilledAmount 已成交数量
func (o *Order) FilledAmount() decimal.Decimal { return o.Amount.Sub(o.Remaining) }

// Fill 成交 qty：remaining 递减，归零即 FILLED
func (o *Order) Fill(qty decimal.Decimal) error {
	if !o.Status.Open() {
		return fmt.Errorf("order %d fill in state %s: %w", o.ID, o.Status, ErrOrderState)
	}
	if !qty.IsPositive() || qty.GreaterThan(o.Remaining) {
		return fmt.Errorf("order %d fill %s of remaining %s: %w", o.ID, qty, o.Remaining, ErrInvalidArgument)
	}
	o.Remaining = o.Remaining.Sub(qty)
	if o.Remaining.IsZero() {
		o.Status = OrderStatusFilled
	} else {
		o.Status = OrderStatusPartial
	}
	return nil
}

// Cancel PENDING/PARTIAL -> CANCELLED，remaining 保持不变
func (o *Order) Cancel() error {
	if !o.Status.Open() {
		return fmt.Errorf("order %d cancel in state %s: %w", o.ID, o.Status, ErrOrderState)
	}
	o.Status = OrderStatusCancelled
	return nil
}

func (o *Order) MarkExecuted(at time.Time) {
	t := at
	o.ExecutedAt = &t
}

func (o *Order) Clone() *Order {
	c := *o
	if o.ExecutedAt != nil {
		t := *o.ExecutedAt
		c.ExecutedAt = &t
	}
	return &c
}

// NewOrder 校验参数后构造一个 PENDING 单
func NewOrder(owner uint64, asset string, side Side, amount, price decimal.Decimal, now time.Time) (*Order, error) {
	if err := ValidateOrder(asset, side, amount, price); err != nil {
		return nil, err
	}
	return &Order{
		OwnerID:   owner,
		Asset:     asset,
		Side:      side,
		Price:     price,
		Amount:    amount,
		Remaining: amount,
		Status:    OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func ValidateOrder(asset string, side Side, amount, price decimal.Decimal) error {
	switch {
	case asset == "":
		return fmt.Errorf("empty asset: %w", ErrInvalidArgument)
	case !side.Valid():
		return fmt.Errorf("bad side %d: %w", side, ErrInvalidArgument)
	case !amount.IsPositive():
		return fmt.Errorf("amount must be positive, got %s: %w", amount, ErrInvalidArgument)
	case !price.IsPositive():
		return fmt.Errorf("price must be positive, got %s: %w", price, ErrInvalidArgument)
	}
	return nil
}
