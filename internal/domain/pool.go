package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pool 恒定乘积池，CurrentPrice 只由储备推导
type Pool struct {
	Asset         string          `gorm:"primaryKey;size:20"`
	QuoteAsset    string          `gorm:"size:20;not null"`
	ReserveBase   decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	ReserveQuote  decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	FeeRate       decimal.Decimal `gorm:"type:decimal(10,6);not null"`
	CurrentPrice  decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	PreviousPrice decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Volume        decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (Pool) TableName() string { return "pools" }

func (p *Pool) Clone() *Pool {
	c := *p
	return &c
}
