package scheduler

import (
	"context"
	"time"

	"kestrel/internal/logger"
)

// Interval 固定周期调度器。到点执行 task，ctx 取消后退出。
type Interval struct {
	Name           string
	Every          time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewInterval(ctx context.Context, name string, every time.Duration) *Interval {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Interval{
		Name:  name,
		Every: every,
		ctx:   ctx,
		nowFn: time.Now,
	}
}

// Start 阻塞运行，直到 ctx 取消。task panic 不做恢复，由上层决定。
func (s *Interval) Start(task func()) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("Interval[%s]: task is nil, exit", s.Name)
		return
	}
	if s.Every <= 0 {
		logger.Warnf("Interval[%s]: invalid interval=%s, exit", s.Name, s.Every)
		return
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("Interval[%s]: started every=%s run_immediately=%v at=%s",
		s.Name, s.Every, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		task()
	}

	timer := time.NewTimer(s.Every)
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			logger.Infof("Interval[%s]: ctx done, exit | uptime=%s",
				s.Name, s.nowFn().UTC().Sub(startAt).Truncate(time.Second))
			return
		case <-timer.C:
		}
		task()
		timer.Reset(s.Every)
	}
}
