package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Transactor 事务边界：fn 里的 ctx 携带事务，同一 ctx 嵌套调用会复用外层事务
type Transactor interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Ledger 余额账本
type Ledger interface {
	// LockedBalance 加行锁读余额（SELECT ... FOR UPDATE 语义），只能在事务里调用
	LockedBalance(ctx context.Context, owner uint64, asset string) (decimal.Decimal, error)
	// ApplyDelta 原子加减；结果为负时返回 ErrInsufficientBalance 且不做任何修改
	ApplyDelta(ctx context.Context, owner uint64, asset string, delta decimal.Decimal) error
	// Balance 不加锁读，给查询用
	Balance(ctx context.Context, owner uint64, asset string) (decimal.Decimal, error)
}

type OrderRepo interface {
	CreateOrder(ctx context.Context, o *Order) error
	// GetOrder 找不到返回 ErrOrderNotFound
	GetOrder(ctx context.Context, id uint64) (*Order, error)
	// LockOrder 事务内加锁读
	LockOrder(ctx context.Context, id uint64) (*Order, error)
	SaveOrder(ctx context.Context, o *Order) error
	// OpenOrders 某个资产所有 PENDING/PARTIAL 单，顺序不保证
	OpenOrders(ctx context.Context, asset string) ([]*Order, error)
}

type TradeRepo interface {
	CreateTrade(ctx context.Context, t *Trade) error
	// TradesByAsset 按时间倒序，page 从 1 开始；page<=0 不分页
	TradesByAsset(ctx context.Context, asset string, page, limit int) ([]*Trade, error)
}

type PoolRepo interface {
	// GetPool 找不到返回 ErrPoolNotFound；在事务里调用时加锁
	GetPool(ctx context.Context, asset string) (*Pool, error)
	// CreatePool 已存在时不覆盖，返回库里的那一份
	CreatePool(ctx context.Context, p *Pool) (*Pool, error)
	SavePool(ctx context.Context, p *Pool) error
}

// Repository 撮合/结算需要的全部存储能力
type Repository interface {
	Transactor
	Ledger
	OrderRepo
	TradeRepo
	PoolRepo
}
