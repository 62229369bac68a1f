package service

import (
	"context"
	"time"

	"singularity-sleep/internal/repository"

	"go.uber.org/zap"
)

// Scheduler 每分钟检查一次同步计划，到点的用户触发一次同步。
// 按计划自己的时区判断"到点"；同一本地日期只跑一次。
type Scheduler struct {
	schedulesRepo repository.SchedulesRepository
	service       EightSleepService
	logger        *zap.Logger

	interval time.Duration
	now      func() time.Time
}

// NewScheduler 创建 Scheduler 实例
func NewScheduler(schedulesRepo repository.SchedulesRepository, service EightSleepService, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		schedulesRepo: schedulesRepo,
		service:       service,
		logger:        logger,
		interval:      time.Minute,
		now:           time.Now,
	}
}

// Start 阻塞运行，ctx 取消后返回
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Sync scheduler started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sync scheduler stopped")
			return nil
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue 依次执行所有到点的计划。顺序执行：厂家客户端自身限速，
// 并发只会更快触发 429。
func (s *Scheduler) runDue(ctx context.Context) {
	schedules, err := s.schedulesRepo.ListEnabled(ctx)
	if err != nil {
		s.logger.Error("Failed to list sync schedules", zap.Error(err))
		return
	}

	for _, schedule := range schedules {
		loc, err := time.LoadLocation(schedule.Timezone)
		if err != nil {
			s.logger.Warn("Schedule has invalid timezone, skipping",
				zap.String("user_id", schedule.UserID),
				zap.String("timezone", schedule.Timezone),
			)
			continue
		}

		local := s.now().In(loc)
		localDate := local.Format(dateLayout)
		if schedule.LastRunDate == localDate {
			continue
		}
		if local.Format("15:04") < schedule.SyncTime {
			continue
		}

		s.logger.Info("Running scheduled sync",
			zap.String("user_id", schedule.UserID),
			zap.String("local_date", localDate),
		)

		if _, err := s.service.Sync(ctx, SyncRequest{UserID: schedule.UserID}); err != nil {
			// 失败已由同步服务记入集成状态；这里只记日志
			s.logger.Error("Scheduled sync failed",
				zap.String("user_id", schedule.UserID),
				zap.Error(err),
			)
		}

		// 成败都记 last_run_date，避免失败账号被每分钟重试
		if err := s.schedulesRepo.MarkRun(ctx, schedule.ScheduleID, localDate); err != nil {
			s.logger.Error("Failed to mark schedule run",
				zap.String("user_id", schedule.UserID),
				zap.Error(err),
			)
		}
	}
}
