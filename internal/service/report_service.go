package service

import (
	"context"

	"github.com/dushixiang/otter/internal/models"
	"github.com/dushixiang/otter/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReportService 指标汇总服务（只读）
type ReportService struct {
	logger     *zap.Logger
	metricRepo *repo.MetricRepo
}

// NewReportService 创建服务
func NewReportService(logger *zap.Logger, db *gorm.DB) *ReportService {
	return &ReportService{
		logger:     logger,
		metricRepo: repo.NewMetricRepo(db),
	}
}

// Summarize 计算指定指标的汇总：条数、均值、最近观测时间
// 没有匹配记录时返回条数为 0、均值和最近时间为 null 的结果，不报错
func (s *ReportService) Summarize(ctx context.Context, metric string) (*models.AggregateResult, error) {
	// 仓库可能还没有任何写入，先确保表结构存在
	if err := s.metricRepo.EnsureSchema(ctx); err != nil {
		s.logger.Error("初始化仓库表结构失败", zap.String("metric", metric), zap.Error(err))
		return nil, err
	}

	result, err := s.metricRepo.Summarize(ctx, metric)
	if err != nil {
		s.logger.Error("计算指标汇总失败", zap.String("metric", metric), zap.Error(err))
		return nil, err
	}
	return result, nil
}
