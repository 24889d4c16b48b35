package scheduler

import (
	"context"

	"github.com/dushixiang/otter/internal/service"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ETLScheduler 行情抽取调度器：按 cron 表达式定时触发抽取任务
type ETLScheduler struct {
	logger  *zap.Logger
	cron    *cron.Cron
	extract *service.ExtractService
	spec    string
}

// NewETLScheduler 创建调度器
func NewETLScheduler(logger *zap.Logger, extract *service.ExtractService, spec string) *ETLScheduler {
	return &ETLScheduler{
		logger:  logger,
		cron:    cron.New(cron.WithSeconds()), // 支持秒级调度
		extract: extract,
		spec:    spec,
	}
}

// Start 启动调度器
func (s *ETLScheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		rows, err := s.extract.Run(ctx)
		if err != nil {
			s.logger.Error("定时抽取执行失败", zap.Error(err))
			return
		}
		s.logger.Info("定时抽取执行完成", zap.Int("rows", rows))
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("行情抽取调度器已启动", zap.String("cron", s.spec))
	return nil
}

// Stop 停止调度器并等待在途任务完成
func (s *ETLScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("行情抽取调度器已停止")
}
