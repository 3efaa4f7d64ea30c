package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ammex.com/internal/domain"
)

const defaultLockTimeout = 2 * time.Second

// Store 进程内实现：行锁用 KeyedLocker，事务用 undo log 回滚
type Store struct {
	mu       sync.Mutex
	balances map[domain.BalanceKey]decimal.Decimal
	orders   map[uint64]*domain.Order
	trades   []*domain.Trade
	pools    map[string]*domain.Pool
	nextID   uint64

	locks       *KeyedLocker
	lockTimeout time.Duration
}

var _ domain.Repository = (*Store)(nil)

type Option func(*Store)

// WithLockTimeout 等锁超时，超时视为并发冲突
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		balances:    make(map[domain.BalanceKey]decimal.Decimal),
		orders:      make(map[uint64]*domain.Order),
		pools:       make(map[string]*domain.Pool),
		locks:       NewKeyedLocker(),
		lockTimeout: defaultLockTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type txKey struct{}

type memTx struct {
	undo []func()
	held map[string]struct{}
	keys []string
}

func txFrom(ctx context.Context) (*memTx, bool) {
	tx, ok := ctx.Value(txKey{}).(*memTx)
	return tx, ok
}

// Transaction fn 返回错误（或 panic）时按逆序执行 undo；结束后释放本事务持有的锁
func (s *Store) Transaction(ctx context.Context, fn func(txCtx context.Context) error) (err error) {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}
	tx := &memTx{held: make(map[string]struct{})}
	defer func() {
		if r := recover(); r != nil {
			s.rollback(tx)
			s.release(tx)
			panic(r)
		}
		if err != nil {
			s.rollback(tx)
		}
		s.release(tx)
	}()
	return fn(context.WithValue(ctx, txKey{}, tx))
}

func (s *Store) rollback(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
}

func (s *Store) release(tx *memTx) {
	for i := len(tx.keys) - 1; i >= 0; i-- {
		s.locks.Unlock(tx.keys[i])
	}
}

// acquire 事务内可重入
func (s *Store) acquire(ctx context.Context, tx *memTx, key string) error {
	if _, ok := tx.held[key]; ok {
		return nil
	}
	if err := s.locks.Lock(ctx, key, s.lockTimeout); err != nil {
		return err
	}
	tx.held[key] = struct{}{}
	tx.keys = append(tx.keys, key)
	return nil
}

// record 登记 undo，调用方需持有 s.mu
func record(ctx context.Context, fn func()) {
	if tx, ok := txFrom(ctx); ok {
		tx.undo = append(tx.undo, fn)
	}
}

func balanceLockKey(owner uint64, asset string) string {
	return fmt.Sprintf("bal:%d:%s", owner, asset)
}

// ========== Ledger ==========

func (s *Store) LockedBalance(ctx context.Context, owner uint64, asset string) (decimal.Decimal, error) {
	tx, ok := txFrom(ctx)
	if !ok {
		return decimal.Zero, domain.ErrTxRequired
	}
	if err := s.acquire(ctx, tx, balanceLockKey(owner, asset)); err != nil {
		return decimal.Zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[domain.BalanceKey{OwnerID: owner, Asset: asset}], nil
}

func (s *Store) ApplyDelta(ctx context.Context, owner uint64, asset string, delta decimal.Decimal) error {
	tx, ok := txFrom(ctx)
	if !ok {
		return domain.ErrTxRequired
	}
	if err := s.acquire(ctx, tx, balanceLockKey(owner, asset)); err != nil {
		return err
	}

	key := domain.BalanceKey{OwnerID: owner, Asset: asset}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.balances[key]
	next := prev.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("owner %d %s: %s %s: %w", owner, asset, prev, delta, domain.ErrInsufficientBalance)
	}
	s.balances[key] = next
	record(ctx, func() {
		if existed {
			s.balances[key] = prev
		} else {
			delete(s.balances, key)
		}
	})
	return nil
}

func (s *Store) Balance(_ context.Context, owner uint64, asset string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[domain.BalanceKey{OwnerID: owner, Asset: asset}], nil
}

// Balances 全量快照，测试里校验守恒用
func (s *Store) Balances() map[domain.BalanceKey]decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.BalanceKey]decimal.Decimal, len(s.balances))
	for k, v := range s.balances {
		out[k] = v
	}
	return out
}

// ========== Orders ==========

func (s *Store) CreateOrder(ctx context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	o.ID = s.nextID
	s.orders[o.ID] = o.Clone()
	id := o.ID
	record(ctx, func() { delete(s.orders, id) })
	return nil
}

func (s *Store) GetOrder(_ context.Context, id uint64) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, domain.ErrOrderNotFound)
	}
	return o.Clone(), nil
}

func (s *Store) LockOrder(ctx context.Context, id uint64) (*domain.Order, error) {
	tx, ok := txFrom(ctx)
	if !ok {
		return nil, domain.ErrTxRequired
	}
	if err := s.acquire(ctx, tx, fmt.Sprintf("order:%d", id)); err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, id)
}

func (s *Store) SaveOrder(ctx context.Context, o *domain.Order) error {
	if tx, ok := txFrom(ctx); ok {
		if err := s.acquire(ctx, tx, fmt.Sprintf("order:%d", o.ID)); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.orders[o.ID]
	if !ok {
		return fmt.Errorf("order %d: %w", o.ID, domain.ErrOrderNotFound)
	}
	o.UpdatedAt = time.Now().UTC()
	s.orders[o.ID] = o.Clone()
	record(ctx, func() { s.orders[prev.ID] = prev })
	return nil
}

func (s *Store) OpenOrders(_ context.Context, asset string) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Order, 0)
	for _, o := range s.orders {
		if o.Asset == asset && o.Status.Open() {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ========== Trades ==========

func (s *Store) CreateTrade(ctx context.Context, t *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.trades = append(s.trades, &cp)
	n := len(s.trades) - 1
	record(ctx, func() { s.trades = s.trades[:n] })
	return nil
}

func (s *Store) TradesByAsset(_ context.Context, asset string, page, limit int) ([]*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Trade, 0)
	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].Asset == asset {
			cp := *s.trades[i]
			out = append(out, &cp)
		}
	}
	if page > 0 && limit > 0 {
		start := (page - 1) * limit
		if start >= len(out) {
			return []*domain.Trade{}, nil
		}
		end := start + limit
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, nil
}

// ========== Pools ==========

func (s *Store) GetPool(ctx context.Context, asset string) (*domain.Pool, error) {
	if tx, ok := txFrom(ctx); ok {
		if err := s.acquire(ctx, tx, "pool:"+asset); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[asset]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", asset, domain.ErrPoolNotFound)
	}
	return p.Clone(), nil
}

func (s *Store) CreatePool(ctx context.Context, p *domain.Pool) (*domain.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.pools[p.Asset]; ok {
		return existing.Clone(), nil
	}
	now := time.Now().UTC()
	cp := p.Clone()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.pools[p.Asset] = cp
	asset := p.Asset
	record(ctx, func() { delete(s.pools, asset) })
	return cp.Clone(), nil
}

func (s *Store) SavePool(ctx context.Context, p *domain.Pool) error {
	if tx, ok := txFrom(ctx); ok {
		if err := s.acquire(ctx, tx, "pool:"+p.Asset); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.pools[p.Asset]
	cp := p.Clone()
	cp.UpdatedAt = time.Now().UTC()
	s.pools[p.Asset] = cp
	asset := p.Asset
	record(ctx, func() {
		if existed {
			s.pools[asset] = prev
		} else {
			delete(s.pools, asset)
		}
	})
	return nil
}
