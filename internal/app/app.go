package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ammex.com/internal/amm"
	"ammex.com/internal/domain"
	"ammex.com/internal/engine"
	"ammex.com/internal/events"
	"ammex.com/internal/infra/memory"
	"ammex.com/internal/infra/persistence"
	"ammex.com/pkg/config"
	"ammex.com/pkg/logger"
	"ammex.com/pkg/metrics"
	"ammex.com/pkg/orm"
	"ammex.com/pkg/ratelimit"
	"ammex.com/pkg/trace"
	"ammex.com/pkg/xredis"
)

var one = decimal.NewFromInt(1)

// DefaultCfg yaml 里没写的字段保持这里的值
func DefaultCfg() *Cfg {
	return &Cfg{
		Name:   "exchange",
		DB:     orm.Config{Driver: "mysql"},
		Engine: EngineCfg{Config: engine.DefaultConfig()},
		AMM:    amm.DefaultConfig(),
		Matching: MatchingCfg{
			Interval: time.Second,
		},
		Events: EventsCfg{
			RedisChannel: "ammex:events",
			NatsPrefix:   "ammex.events",
			BusSize:      4096,
		},
	}
}

// Run 启动撮合服务：外层只需传入 ctx，ctx 取消即优雅退出
func Run(ctx context.Context) error {
	cfg := DefaultCfg()
	if _, err := config.LoadAndWatch("exchange", cfg, func() {
		logger.Warn(ctx, "config changed, engine settings take effect after restart")
	}); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// 热更新会原地改 cfg，这里拷一份
	snapshot := *cfg
	snapshot.Markets = append([]engine.Market(nil), cfg.Markets...)
	return Serve(ctx, &snapshot)
}

// Serve 按已加载的配置组装依赖并阻塞到 ctx 结束
func Serve(ctx context.Context, cfg *Cfg) error {
	if err := cfg.normalize(); err != nil {
		return err
	}
	logger.InitWithOptions(cfg.Name, cfg.Log)
	defer logger.Sync()
	metrics.MustRegister()
	logger.Info(ctx, "service starting", zap.Strings("markets", cfg.assets()))

	if cfg.OTel.Enabled {
		shutdownTracer, err := trace.InitTrace(ctx, cfg.Name, cfg.OTel)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() {
			// 最多给 5 秒 flush
			c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracer(c); err != nil {
				logger.Error(ctx, "shutdown tracer error", zap.Error(err))
			}
		}()
	}

	repo, sqlDB, err := openRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init db: %w", err)
	}
	if sqlDB != nil {
		defer func() { _ = sqlDB.Close() }()
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		if rdb, err = xredis.NewRedis(ctx, &cfg.Redis); err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		defer func() { _ = rdb.Close() }()
	}

	var nc *nats.Conn
	if cfg.Nats.URL != "" {
		if nc, err = nats.Connect(cfg.Nats.URL, nats.Name(cfg.Name)); err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Close()
	}

	bus := events.NewBus(cfg.Events.BusSize)
	sinks := []events.Sink{bus}
	breakers := ratelimit.NewManager(cfg.Name, ratelimit.Rule{}, nil)
	if rdb != nil {
		sinks = append(sinks, events.NewRedisSink(rdb, cfg.Events.RedisChannel, breakers))
	}
	if nc != nil {
		sinks = append(sinks, events.NewNatsSink(nc, cfg.Events.NatsPrefix, breakers))
	}
	if cfg.Events.JournalPath != "" {
		j, err := events.OpenJournal(cfg.Events.JournalPath, cfg.Events.JournalSync)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer func() {
			if err := j.Close(); err != nil {
				logger.Error(ctx, "close journal error", zap.Error(err))
			}
		}()
		sinks = append(sinks, j)
	}
	dispatcher := events.NewDispatcher(logger.Named("events"), sinks...)

	eng := engine.New(repo, cfg.engineConfig(),
		engine.WithEmitter(dispatcher),
		engine.WithLogger(logger.Named("engine")))
	defer eng.Close()

	var leader *xredis.LeaderLock
	if rdb != nil {
		leader = xredis.NewLeaderLock(rdb, cfg.Matching.LeaderKey, cfg.Matching.LeaderTTL)
	}
	sched := &scheduler{
		eng:      eng,
		assets:   cfg.assets(),
		interval: cfg.Matching.Interval,
		leader:   leader,
		log:      logger.Named("scheduler"),
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		g.Go(func() error { return serveHTTP(gctx, "metrics", cfg.MetricsAddr, mux) })
	}
	if cfg.PprofAddr != "" {
		g.Go(func() error { return serveHTTP(gctx, "pprof", cfg.PprofAddr, pprofMux()) })
	}
	if sqlDB != nil {
		g.Go(func() error { metrics.ObserveDBStats(gctx, sqlDB); return nil })
	}
	if rdb != nil {
		g.Go(func() error { metrics.ObserveRedisStats(gctx, rdb); return nil })
	}
	g.Go(func() error { sched.run(gctx); return nil })
	g.Go(func() error { drainBus(gctx, bus); return nil })

	logger.Info(ctx, "service started",
		zap.String("db", cfg.DB.Driver),
		zap.Bool("redis", rdb != nil),
		zap.Bool("nats", nc != nil),
		zap.String("cursor_policy", string(eng.Policy())))

	err = g.Wait()
	if leader != nil {
		c, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = leader.Release(c)
		cancel()
	}
	if nc != nil {
		_ = nc.Flush()
	}
	logger.Info(ctx, "service stopped", zap.Uint64("events", dispatcher.Seq()), zap.Uint64("bus_dropped", bus.Dropped()))
	return err
}

// openRepository driver=memory 时用进程内存储（单进程演示），否则 MySQL + gorm
func openRepository(ctx context.Context, cfg *Cfg) (domain.Repository, *sql.DB, error) {
	if cfg.DB.Driver == "memory" {
		return memory.NewStore(memory.WithLockTimeout(cfg.Engine.LockTimeout)), nil, nil
	}
	sqlDB, err := orm.OpenSQL(ctx, &cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	gdb, err := orm.NewGorm(sqlDB, cfg.DB.LogLevel)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	if err := persistence.Migrate(gdb); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return persistence.New(gdb), sqlDB, nil
}

func serveHTTP(ctx context.Context, name, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(c)
	}()
	logger.Info(ctx, name+" listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func pprofMux() *http.ServeMux {
	runtime.SetMutexProfileFraction(10)
	runtime.SetBlockProfileRate(10000)
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// drainBus 进程内订阅者：目前只打 debug 日志，下游推送接在这里
func drainBus(ctx context.Context, bus *events.Bus) {
	log := logger.Named("bus")
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-bus.C():
			log.Debug("event",
				zap.Uint64("seq", ev.Seq),
				zap.String("type", string(ev.Type)),
				zap.String("asset", ev.Asset))
		}
	}
}
