package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance 每个 (owner, asset) 一行，不允许为负
type Balance struct {
	OwnerID   uint64          `gorm:"primaryKey;autoIncrement:false"`
	Asset     string          `gorm:"primaryKey;size:20"`
	Amount    decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0"`
	Version   int64           `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

func (Balance) TableName() string { return "balances" }

// BalanceKey 加锁用的 key，按字典序排序可避免死锁
type BalanceKey struct {
	OwnerID uint64
	Asset   string
}

func (k BalanceKey) Less(o BalanceKey) bool {
	if k.OwnerID != o.OwnerID {
		return k.OwnerID < o.OwnerID
	}
	return k.Asset < o.Asset
}
