package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ammex.com/internal/engine"
	"ammex.com/pkg/common"
	"ammex.com/pkg/xredis"
)

// scheduler 定时对每个资产跑一轮批量撮合。
// 配了 redis 时只有拿到租约的实例才跑
type scheduler struct {
	eng      *engine.Engine
	assets   []string
	interval time.Duration
	leader   *xredis.LeaderLock
	log      *zap.Logger

	leading bool
}

func (s *scheduler) run(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("scheduled matching disabled")
		return
	}
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.cycle(ctx)
		}
	}
}

// cycle 返回本轮总成交笔数
func (s *scheduler) cycle(ctx context.Context) int {
	ctx, cycleID := common.WithRequestID(ctx)
	if s.leader != nil {
		ok := s.leader.TryAcquire(ctx)
		if ok != s.leading {
			s.leading = ok
			s.log.Info("leadership changed", zap.Bool("leading", ok), zap.String("id", s.leader.ID()))
		}
		if !ok {
			return 0
		}
	}

	total := 0
	for _, asset := range s.assets {
		res, err := s.eng.MatchAsset(ctx, asset)
		if err != nil {
			s.log.Warn("match cycle failed", zap.String("cycle", cycleID), zap.String("asset", asset), zap.Error(err))
			continue
		}
		total += res.TradesExecuted
		if res.TradesExecuted > 0 || res.FailedMatches > 0 {
			s.log.Info("match cycle",
				zap.String("cycle", cycleID),
				zap.String("asset", asset),
				zap.Int("trades", res.TradesExecuted),
				zap.String("volume", res.TotalVolume.String()),
				zap.String("value", res.TotalValue.String()),
				zap.Int("insufficient", res.InsufficientFunds),
				zap.Int("conflicts", res.Conflicts),
				zap.Int("errors", res.Errors),
				zap.Int64("ms", res.ExecutionTimeMs()))
		}
	}
	return total
}
