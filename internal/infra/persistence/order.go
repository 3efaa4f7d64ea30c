package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ammex.com/internal/domain"
	"ammex.com/pkg/orm"
	"ammex.com/pkg/xerr"
)

func (r *Repo) CreateOrder(ctx context.Context, o *domain.Order) error {
	if err := r.getDb(ctx).Create(o).Error; err != nil {
		return xerr.Wrap(xerr.DbError, err, "create order")
	}
	return nil
}

func (r *Repo) GetOrder(ctx context.Context, id uint64) (*domain.Order, error) {
	return r.takeOrder(r.getDb(ctx), id)
}

func (r *Repo) LockOrder(ctx context.Context, id uint64) (*domain.Order, error) {
	tx, ok := txFrom(ctx)
	if !ok {
		return nil, domain.ErrTxRequired
	}
	return r.takeOrder(tx.Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *Repo) takeOrder(db *gorm.DB, id uint64) (*domain.Order, error) {
	var o domain.Order
	err := db.Where("id = ?", id).Take(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("order %d: %w", id, domain.ErrOrderNotFound)
	}
	if err != nil {
		return nil, xerr.Wrap(xerr.DbError, err, "query order")
	}
	return &o, nil
}

func (r *Repo) SaveOrder(ctx context.Context, o *domain.Order) error {
	o.UpdatedAt = time.Now().UTC()
	if err := r.getDb(ctx).Save(o).Error; err != nil {
		return xerr.Wrap(xerr.DbError, err, "save order")
	}
	return nil
}

func (r *Repo) OpenOrders(ctx context.Context, asset string) ([]*domain.Order, error) {
	orders := make([]*domain.Order, 0)
	err := r.getDb(ctx).
		Where("asset = ? AND status IN ?", asset, []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusPartial}).
		Order("created_at ASC, id ASC").
		Find(&orders).Error
	if err != nil {
		return nil, xerr.Wrap(xerr.DbError, err, "query open orders")
	}
	return orders, nil
}

func (r *Repo) CreateTrade(ctx context.Context, t *domain.Trade) error {
	if err := r.getDb(ctx).Create(t).Error; err != nil {
		return xerr.Wrap(xerr.DbError, err, "create trade")
	}
	return nil
}

func (r *Repo) TradesByAsset(ctx context.Context, asset string, page, limit int) ([]*domain.Trade, error) {
	trades := make([]*domain.Trade, 0)
	q := r.getDb(ctx).Where("asset = ?", asset).Order("created_at DESC")
	if err := orm.ApplyPagination(q, page, limit).Find(&trades).Error; err != nil {
		return nil, xerr.Wrap(xerr.DbError, err, "query trades")
	}
	return trades, nil
}
