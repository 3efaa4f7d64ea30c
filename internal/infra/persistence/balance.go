package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ammex.com/internal/domain"
	"ammex.com/pkg/xerr"
)

func lockBalanceRow(tx *gorm.DB, owner uint64, asset string) (*domain.Balance, error) {
	var row domain.Balance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_id = ? AND asset = ?", owner, asset).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, xerr.Wrap(xerr.DbError, err, "lock balance")
	}
	return &row, nil
}

// LockedBalance 行锁读；没有记录视为 0
func (r *Repo) LockedBalance(ctx context.Context, owner uint64, asset string) (decimal.Decimal, error) {
	tx, ok := txFrom(ctx)
	if !ok {
		return decimal.Zero, domain.ErrTxRequired
	}
	row, err := lockBalanceRow(tx, owner, asset)
	if err != nil || row == nil {
		return decimal.Zero, err
	}
	return row.Amount, nil
}

// ApplyDelta 先锁行再在 Go 里算新余额，版本号兜底并发写
func (r *Repo) ApplyDelta(ctx context.Context, owner uint64, asset string, delta decimal.Decimal) error {
	tx, ok := txFrom(ctx)
	if !ok {
		return domain.ErrTxRequired
	}
	if delta.IsZero() {
		return nil
	}

	row, err := lockBalanceRow(tx, owner, asset)
	if err != nil {
		return err
	}

	if row == nil {
		if delta.IsNegative() {
			return fmt.Errorf("owner %d %s: 0 %s: %w", owner, asset, delta, domain.ErrInsufficientBalance)
		}
		err := tx.Create(&domain.Balance{OwnerID: owner, Asset: asset, Amount: delta, Version: 1}).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("owner %d %s created concurrently: %w", owner, asset, domain.ErrConflict)
		}
		if err != nil {
			return xerr.Wrap(xerr.DbError, err, "create balance")
		}
		return nil
	}

	next := row.Amount.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("owner %d %s: %s %s: %w", owner, asset, row.Amount, delta, domain.ErrInsufficientBalance)
	}

	res := tx.Model(&domain.Balance{}).
		Where("owner_id = ? AND asset = ? AND version = ?", owner, asset, row.Version).
		Updates(map[string]interface{}{
			"amount":     next,
			"version":    row.Version + 1,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return xerr.Wrap(xerr.DbError, res.Error, "update balance")
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("owner %d %s version %d: %w", owner, asset, row.Version, domain.ErrConflict)
	}
	return nil
}

func (r *Repo) Balance(ctx context.Context, owner uint64, asset string) (decimal.Decimal, error) {
	var row domain.Balance
	err := r.getDb(ctx).Where("owner_id = ? AND asset = ?", owner, asset).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, xerr.Wrap(xerr.DbError, err, "query balance")
	}
	return row.Amount, nil
}
