package models

import "time"

// MetricRecord 指标记录（仅追加，不更新不删除）
// 表结构固定四列：source/metric/value/timestamp
type MetricRecord struct {
	Source    string  `gorm:"column:source;index" json:"source"`       // 数据来源
	Metric    string  `gorm:"column:metric;index" json:"metric"`       // 指标名称
	Value     float64 `gorm:"column:value" json:"value"`               // 指标值
	Timestamp int64   `gorm:"column:timestamp;index" json:"timestamp"` // 观测时间（毫秒时间戳）
}

func (MetricRecord) TableName() string {
	return "metrics"
}

// Time 返回记录的观测时间
func (m MetricRecord) Time() time.Time {
	return time.UnixMilli(m.Timestamp).UTC()
}

// AggregateResult 指标汇总结果（按需计算，不落库）
type AggregateResult struct {
	Metric   string     `json:"metric"`
	Records  int64      `json:"records"`
	Average  *float64   `json:"average"`   // 无记录时为 null
	LastSeen *time.Time `json:"last_seen"` // 无记录时为 null
}
