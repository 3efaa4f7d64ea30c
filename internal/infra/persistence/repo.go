package persistence

import (
	"context"

	"gorm.io/gorm"

	"ammex.com/internal/domain"
)

type txKey struct{}

// Repo gorm 实现，MySQL 生产 / sqlite 测试
type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repo { return &Repo{db: db} }

var _ domain.Repository = (*Repo)(nil)

// Migrate 建表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Order{},
		&domain.Trade{},
		&domain.Pool{},
		&domain.Balance{},
	)
}

// Transaction 把 tx 放进 ctx；ctx 里已经有事务时直接复用
func (r *Repo) Transaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func txFrom(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return tx, ok && tx != nil
}

func (r *Repo) getDb(ctx context.Context) *gorm.DB {
	if tx, ok := txFrom(ctx); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}
