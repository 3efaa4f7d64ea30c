package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ammex.com/internal/amm"
	"ammex.com/internal/domain"
	"ammex.com/internal/events"
	"ammex.com/internal/matching"
	"ammex.com/pkg/logger"
	"ammex.com/pkg/metrics"
	"ammex.com/pkg/ratelimit"
	"ammex.com/pkg/safe"
	"ammex.com/pkg/trace"
)

/*
Engine 按资产分发请求：每个资产一个 actor，串行修改该资产的挂单簿和池子；
结算走 Settler（一对一事务），池子走 amm.Pricer
*/
type Engine struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	repo    domain.Repository
	cfg     Config
	markets map[string]Market

	settler *matching.Settler
	matcher *matching.Matcher
	pricer  *amm.Pricer
	emit    events.Emitter
	limiter *ratelimit.Store

	mu     sync.RWMutex
	actors map[string]*assetActor

	log    *zap.Logger
	tracer oteltrace.Tracer
	now    func() time.Time
}

type Option func(*Engine)

func WithEmitter(em events.Emitter) Option {
	return func(e *Engine) {
		if em != nil {
			e.emit = em
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = logger.OrNop(l) }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(repo domain.Repository, cfg Config, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		ctx:     ctx,
		cancel:  cancel,
		repo:    repo,
		cfg:     cfg,
		markets: make(map[string]Market, len(cfg.Markets)),
		emit:    events.Nop{},
		actors:  make(map[string]*assetActor, len(cfg.Markets)),
		log:     zap.NewNop(),
		tracer:  trace.Tracer("ammex/engine"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}

	seeds := make(map[string]decimal.Decimal)
	for _, m := range cfg.Markets {
		if m.Quote == "" {
			m.Quote = cfg.QuoteAsset
		}
		e.markets[m.Asset] = m
		if m.SeedPrice.IsPositive() {
			seeds[m.Asset] = m.SeedPrice
		}
	}

	e.settler = matching.NewSettler(repo, e.quoteOf,
		matching.WithEmitter(e.emit),
		matching.WithLogger(e.log.Named("settle")),
		matching.WithClock(e.now))
	e.matcher = matching.NewMatcher(e.settler, cfg.CursorPolicy, e.log.Named("match"))
	e.pricer = amm.NewPricer(repo, cfg.AMM, e.quoteOf,
		amm.WithSeedPrices(seeds),
		amm.WithLogger(e.log.Named("amm")))

	if cfg.PlaceRate > 0 {
		e.limiter = ratelimit.NewStore(rate.Limit(cfg.PlaceRate), cfg.PlaceBurst, 10*time.Minute)
		e.wg.Add(1)
		safe.Go(func() {
			defer e.wg.Done()
			e.limiter.StartJanitor(e.ctx, time.Minute)
		})
	}
	return e
}

func (e *Engine) quoteOf(asset string) string {
	if m, ok := e.markets[asset]; ok && m.Quote != "" {
		return m.Quote
	}
	return e.cfg.QuoteAsset
}

func (e *Engine) Pricer() *amm.Pricer           { return e.pricer }
func (e *Engine) Policy() matching.CursorPolicy { return e.matcher.Policy() }
func (e *Engine) Markets() map[string]Market    { return e.markets }
func (e *Engine) Repository() domain.Repository { return e.repo }

// Close 停掉所有 actor；已经提交的事务不受影响
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) actor(ctx context.Context, asset string) (*assetActor, error) {
	e.mu.RLock()
	a := e.actors[asset]
	e.mu.RUnlock()
	if a != nil {
		return a, nil
	}

	m, ok := e.markets[asset]
	if !ok {
		return nil, fmt.Errorf("asset %q: %w", asset, domain.ErrUnknownMarket)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if a = e.actors[asset]; a != nil {
		return a, nil
	}
	if e.ctx.Err() != nil {
		return nil, ErrClosed
	}

	// 从库里把还挂着的单重建成簿
	book := matching.NewBook(asset)
	open, err := e.repo.OpenOrders(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("load open orders %s: %w", asset, err)
	}
	for _, o := range open {
		book.Add(o)
	}
	if m.SeedPrice.IsPositive() {
		if _, err := e.pricer.EnsurePool(ctx, asset, m.SeedPrice); err != nil {
			return nil, fmt.Errorf("ensure pool %s: %w", asset, err)
		}
	}

	a = newAssetActor(m, book, e.cfg.MailboxSize, e.cfg.BatchMax)
	e.actors[asset] = a
	e.wg.Add(1)
	safe.Go(func() {
		defer e.wg.Done()
		a.run(e.ctx)
	})
	e.log.Info("actor started", zap.String("asset", asset), zap.Int("resting", book.Len()))
	return a, nil
}

// do 把 fn 投递到资产的 actor 里执行并等结果。
// 调用方 ctx 取消后不再等待，但已入队的命令仍会执行完
func (e *Engine) do(ctx context.Context, asset string, fn func(ctx context.Context, a *assetActor) error) error {
	a, err := e.actor(ctx, asset)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	cmd := func() {
		var err error
		if safe.Call(ctx, "engine."+asset, func() { err = fn(ctx, a) }) {
			err = errActorPanic
		}
		done <- err
	}
	if err := a.tryEnqueue(cmd); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrClosed
	}
}

func observe(op string, start time.Time) {
	metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func result(err error) string {
	if err != nil {
		return "fail"
	}
	return "ok"
}

// PlaceOrder 校验、限流、落库、挂簿。不做撮合
func (e *Engine) PlaceOrder(ctx context.Context, owner uint64, asset string, side domain.Side, amount, price decimal.Decimal) (_ *domain.Order, err error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.PlaceOrder")
	defer func() {
		span.End()
		observe("place", start)
		metrics.OrdersTotal.WithLabelValues(asset, "place", result(err)).Inc()
	}()

	if _, ok := e.markets[asset]; !ok {
		return nil, fmt.Errorf("asset %q: %w", asset, domain.ErrUnknownMarket)
	}
	o, err := domain.NewOrder(owner, asset, side, amount, price, e.now())
	if err != nil {
		return nil, err
	}
	if e.limiter != nil && !e.limiter.Allow(strconv.FormatUint(owner, 10)) {
		metrics.RateLimitBlockTotal.WithLabelValues("engine", "place_order", "owner").Inc()
		return nil, ErrRateLimited
	}

	var placed *domain.Order
	err = e.do(ctx, asset, func(ctx context.Context, a *assetActor) error {
		if err := e.repo.CreateOrder(ctx, o); err != nil {
			return err
		}
		a.book.Add(o)
		placed = o.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("order_id", int64(placed.ID)))
	e.emit.OrderUpdated(ctx, placed)
	logger.Debug(ctx, "order placed",
		zap.Uint64("order_id", placed.ID),
		zap.Uint64("owner", owner),
		zap.String("asset", asset),
		zap.String("side", side.String()),
		zap.String("amount", amount.String()),
		zap.String("price", price.String()))
	return placed, nil
}

// CancelOrder 只有本人、且还挂着（PENDING/PARTIAL）的单能撤；失败返回 false
func (e *Engine) CancelOrder(ctx context.Context, orderID, owner uint64) bool {
	start := time.Now()
	defer observe("cancel", start)

	o, err := e.repo.GetOrder(ctx, orderID)
	if err != nil || o.OwnerID != owner || !o.Status.Open() {
		metrics.OrdersTotal.WithLabelValues(assetOf(o), "cancel", "fail").Inc()
		return false
	}

	var cancelled *domain.Order
	err = e.do(ctx, o.Asset, func(ctx context.Context, a *assetActor) error {
		err := e.repo.Transaction(ctx, func(txCtx context.Context) error {
			locked, err := e.repo.LockOrder(txCtx, orderID)
			if err != nil {
				return err
			}
			if locked.OwnerID != owner {
				return domain.ErrOrderState
			}
			if err := locked.Cancel(); err != nil {
				return err
			}
			cancelled = locked
			return e.repo.SaveOrder(txCtx, locked)
		})
		if err != nil {
			return err
		}
		a.book.Remove(orderID)
		return nil
	})
	metrics.OrdersTotal.WithLabelValues(o.Asset, "cancel", result(err)).Inc()
	if err != nil {
		logger.Info(ctx, "cancel rejected", zap.Uint64("order_id", orderID), zap.Error(err))
		return false
	}
	e.emit.OrderUpdated(ctx, cancelled)
	return true
}

func assetOf(o *domain.Order) string {
	if o == nil {
		return ""
	}
	return o.Asset
}

// GetBook 当前挂单快照
func (e *Engine) GetBook(ctx context.Context, asset string) (BookSnapshot, error) {
	snap := BookSnapshot{Asset: asset}
	err := e.do(ctx, asset, func(_ context.Context, a *assetActor) error {
		snap.Bids = a.book.Orders(domain.SideBid)
		snap.Asks = a.book.Orders(domain.SideAsk)
		return nil
	})
	return snap, err
}

// Depth 前 n 档聚合
func (e *Engine) Depth(ctx context.Context, asset string, n int) (bids, asks []matching.Level, err error) {
	err = e.do(ctx, asset, func(_ context.Context, a *assetActor) error {
		bids = a.book.Depth(domain.SideBid, n)
		asks = a.book.Depth(domain.SideAsk, n)
		return nil
	})
	return bids, asks, err
}

// MatchAsset 定时撮合：把该资产簿上的挂单整体跑一遍 match
func (e *Engine) MatchAsset(ctx context.Context, asset string) (matching.MatchResult, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.MatchAsset", oteltrace.WithAttributes(attribute.String("asset", asset)))
	defer func() {
		span.End()
		observe("match", start)
	}()

	var res matching.MatchResult
	err := e.do(ctx, asset, func(ctx context.Context, a *assetActor) error {
		bids := collect(a.book, domain.SideBid)
		asks := collect(a.book, domain.SideAsk)
		res = e.matcher.Match(ctx, bids, asks)
		// 簿里的对象已被 Settler 原地更新，这里只摘掉不再挂着的
		for _, o := range append(bids, asks...) {
			a.book.Refresh(o)
		}
		return nil
	})
	span.SetAttributes(attribute.Int("trades", res.TradesExecuted), attribute.Int("failed", res.FailedMatches))
	return res, err
}

// Match 原始批量入口：bids/asks 必须已经落库且属于同一资产。
// 该资产有 actor 时在 actor 里执行并同步簿
func (e *Engine) Match(ctx context.Context, bids, asks []*domain.Order) matching.MatchResult {
	asset := ""
	switch {
	case len(bids) > 0:
		asset = bids[0].Asset
	case len(asks) > 0:
		asset = asks[0].Asset
	}
	if _, ok := e.markets[asset]; !ok {
		return e.matcher.Match(ctx, bids, asks)
	}

	var res matching.MatchResult
	err := e.do(ctx, asset, func(ctx context.Context, a *assetActor) error {
		res = e.matcher.Match(ctx, bids, asks)
		for _, t := range res.Trades {
			refreshByID(a.book, t.BidOrderID, bids)
			refreshByID(a.book, t.AskOrderID, asks)
		}
		return nil
	})
	if err != nil {
		e.log.Warn("match rejected", zap.String("asset", asset), zap.Error(err))
	}
	return res
}

func collect(b *matching.Book, side domain.Side) []*domain.Order {
	out := make([]*domain.Order, 0, b.Len())
	b.Walk(side, func(o *domain.Order) bool {
		out = append(out, o)
		return true
	})
	return out
}

func refreshByID(b *matching.Book, id *uint64, from []*domain.Order) {
	if id == nil {
		return
	}
	for _, o := range from {
		if o.ID == *id {
			b.Refresh(o)
			return
		}
	}
}
