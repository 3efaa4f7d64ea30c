package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ammex.com/internal/domain"
	"ammex.com/pkg/xerr"
)

// GetPool 事务内带行锁，池子单写
func (r *Repo) GetPool(ctx context.Context, asset string) (*domain.Pool, error) {
	db := r.getDb(ctx)
	if _, ok := txFrom(ctx); ok {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var p domain.Pool
	err := db.Where("asset = ?", asset).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("pool %s: %w", asset, domain.ErrPoolNotFound)
	}
	if err != nil {
		return nil, xerr.Wrap(xerr.DbError, err, "query pool")
	}
	return &p, nil
}

// CreatePool INSERT ... ON CONFLICT DO NOTHING，然后读回库里的版本
func (r *Repo) CreatePool(ctx context.Context, p *domain.Pool) (*domain.Pool, error) {
	err := r.getDb(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(p).Error
	if err != nil {
		return nil, xerr.Wrap(xerr.DbError, err, "create pool")
	}
	return r.GetPool(ctx, p.Asset)
}

func (r *Repo) SavePool(ctx context.Context, p *domain.Pool) error {
	p.UpdatedAt = time.Now().UTC()
	if err := r.getDb(ctx).Save(p).Error; err != nil {
		return xerr.Wrap(xerr.DbError, err, "save pool")
	}
	return nil
}
