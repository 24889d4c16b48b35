package repo

import (
	"context"

	"github.com/dushixiang/otter/internal/models"
	"gorm.io/gorm"
)

// MetricRepo 指标数据访问层
type MetricRepo struct {
	db *gorm.DB
}

// NewMetricRepo 创建仓库
func NewMetricRepo(db *gorm.DB) *MetricRepo {
	return &MetricRepo{db: db}
}

// EnsureSchema 确保 metrics 表存在（幂等，首次写入前调用）
func (r *MetricRepo) EnsureSchema(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&models.MetricRecord{})
}

// Append 追加一条指标记录
func (r *MetricRepo) Append(ctx context.Context, record *models.MetricRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// AppendBatch 批量追加指标记录
func (r *MetricRepo) AppendBatch(ctx context.Context, records []models.MetricRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(records, 100).Error
}

// Count 统计记录总数
func (r *MetricRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.MetricRecord{}).Count(&count).Error
	return count, err
}

// FindByMetric 查询指定指标的所有记录
func (r *MetricRepo) FindByMetric(ctx context.Context, metric string) ([]models.MetricRecord, error) {
	var records []models.MetricRecord
	err := r.db.WithContext(ctx).
		Where("metric = ?", metric).
		Order("timestamp ASC").
		Find(&records).Error
	return records, err
}

// FindRecent 查询最近的记录（按时间倒序）
func (r *MetricRepo) FindRecent(ctx context.Context, limit int) ([]models.MetricRecord, error) {
	var records []models.MetricRecord
	err := r.db.WithContext(ctx).
		Order("timestamp DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// summaryRow 汇总查询的扫描结构
type summaryRow struct {
	Records  int64
	Average  *float64
	LastSeen *int64
}

// Summarize 计算指定指标的条数、均值和最近观测时间
func (r *MetricRepo) Summarize(ctx context.Context, metric string) (*models.AggregateResult, error) {
	var row summaryRow
	err := r.db.WithContext(ctx).
		Model(&models.MetricRecord{}).
		Select("count(*) as records, avg(value) as average, max(timestamp) as last_seen").
		Where("metric = ?", metric).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	result := &models.AggregateResult{
		Metric:  metric,
		Records: row.Records,
		Average: row.Average,
	}
	if row.LastSeen != nil {
		t := models.MetricRecord{Timestamp: *row.LastSeen}.Time()
		result.LastSeen = &t
	}
	return result, nil
}
