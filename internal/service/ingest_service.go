package service

import (
	"context"
	"time"

	"github.com/dushixiang/otter/internal/models"
	"github.com/dushixiang/otter/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IngestRequest 指标写入请求
type IngestRequest struct {
	Source    string     `json:"source" validate:"required"`
	Metric    string     `json:"metric" validate:"required"`
	Value     *float64   `json:"value" validate:"required,finite"`
	Timestamp *time.Time `json:"timestamp,omitempty"` // 缺省为当前时间
}

// IngestResult 指标写入结果
type IngestResult struct {
	RowsIngested  int    `json:"rows_ingested"`
	WarehousePath string `json:"warehouse_path"`
}

// IngestService 指标写入服务
type IngestService struct {
	logger        *zap.Logger
	metricRepo    *repo.MetricRepo
	warehousePath string
}

// NewIngestService 创建服务
func NewIngestService(logger *zap.Logger, db *gorm.DB, warehousePath string) *IngestService {
	return &IngestService{
		logger:        logger,
		metricRepo:    repo.NewMetricRepo(db),
		warehousePath: warehousePath,
	}
}

// Ingest 确保表结构存在后追加一条记录
func (s *IngestService) Ingest(ctx context.Context, req *IngestRequest) (*IngestResult, error) {
	ts := time.Now()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	if err := s.metricRepo.EnsureSchema(ctx); err != nil {
		s.logger.Error("初始化仓库表结构失败",
			zap.String("warehouse", s.warehousePath),
			zap.Error(err))
		return nil, err
	}

	record := &models.MetricRecord{
		Source:    req.Source,
		Metric:    req.Metric,
		Value:     *req.Value,
		Timestamp: ts.UnixMilli(),
	}
	if err := s.metricRepo.Append(ctx, record); err != nil {
		s.logger.Error("写入指标记录失败",
			zap.String("source", req.Source),
			zap.String("metric", req.Metric),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("指标已入库",
		zap.String("source", req.Source),
		zap.String("metric", req.Metric),
		zap.String("warehouse", s.warehousePath))
	return &IngestResult{RowsIngested: 1, WarehousePath: s.warehousePath}, nil
}
