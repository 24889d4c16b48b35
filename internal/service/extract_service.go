package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dushixiang/otter/internal/config"
	"github.com/dushixiang/otter/internal/models"
	"github.com/dushixiang/otter/internal/repo"
	"github.com/go-errors/errors"
	"github.com/go-orz/orz"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// sourceCoindesk 抽取任务写入的固定来源标识
const sourceCoindesk = "coindesk"

// priceDocument 行情接口返回的文档（仅取用到的字段）
type priceDocument struct {
	BPI map[string]struct {
		Code      string  `json:"code"`
		Rate      string  `json:"rate"`
		RateFloat float64 `json:"rate_float"`
	} `json:"bpi"`
}

// ExtractService 行情抽取任务：拉取比特币价格并批量写入仓库
// 该任务在进程内被调度器直接调用，写入不经过令牌校验
type ExtractService struct {
	logger      *zap.Logger
	Service     *orz.Service
	metricRepo  *repo.MetricRepo
	client      *http.Client
	url         string
	maxAttempts int
	retryDelay  time.Duration
}

// NewExtractService 创建抽取任务
func NewExtractService(logger *zap.Logger, db *gorm.DB, conf config.ETLConfig) *ExtractService {
	return &ExtractService{
		logger:     logger,
		Service:    orz.NewService(db),
		metricRepo: repo.NewMetricRepo(db),
		client: &http.Client{
			Timeout: time.Duration(conf.TimeoutSeconds) * time.Second,
		},
		url:         conf.URL,
		maxAttempts: conf.MaxAttempts,
		retryDelay:  time.Duration(conf.RetrySeconds) * time.Second,
	}
}

// Run 执行一次抽取：拉取行情、转换为指标记录、批量入库，返回写入条数
// 拉取失败按固定间隔重试，入库失败不重试直接报错
func (s *ExtractService) Run(ctx context.Context) (int, error) {
	doc, err := s.fetch(ctx)
	if err != nil {
		s.logger.Error("行情抽取失败", zap.String("url", s.url), zap.Error(err))
		return 0, err
	}

	records := s.convert(doc, time.Now())
	if len(records) == 0 {
		s.logger.Info("行情抽取完成，无可写入数据")
		return 0, nil
	}

	err = s.Service.Transaction(ctx, func(ctx context.Context) error {
		if err := s.metricRepo.EnsureSchema(ctx); err != nil {
			return err
		}
		return s.metricRepo.AppendBatch(ctx, records)
	})
	if err != nil {
		s.logger.Error("行情入库失败", zap.Int("records", len(records)), zap.Error(err))
		return 0, err
	}

	s.logger.Info("行情抽取完成", zap.Int("records", len(records)))
	return len(records), nil
}

// fetch 拉取行情，最多尝试 maxAttempts 次，失败后等待固定间隔再试
func (s *ExtractService) fetch(ctx context.Context) (*priceDocument, error) {
	b := &backoff.Backoff{
		Min:    s.retryDelay,
		Max:    s.retryDelay,
		Jitter: false,
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		doc, err := s.fetchOnce(ctx)
		if err == nil {
			return doc, nil
		}
		lastErr = err
		s.logger.Warn("拉取行情失败",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", s.maxAttempts),
			zap.Error(err))

		if attempt == s.maxAttempts {
			break
		}
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, errors.WrapPrefix(lastErr, fmt.Sprintf("拉取行情失败（已尝试 %d 次）", s.maxAttempts), 0)
}

func (s *ExtractService) fetchOnce(ctx context.Context) (*priceDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("行情接口返回异常状态: %d", resp.StatusCode)
	}

	var doc priceDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("解析行情响应失败: %w", err)
	}
	return &doc, nil
}

// convert 把每个币种的汇率转换为一条指标记录
func (s *ExtractService) convert(doc *priceDocument, now time.Time) []models.MetricRecord {
	records := make([]models.MetricRecord, 0, len(doc.BPI))
	for currency, meta := range doc.BPI {
		records = append(records, models.MetricRecord{
			Source:    sourceCoindesk,
			Metric:    "btc_price_" + strings.ToLower(currency),
			Value:     meta.RateFloat,
			Timestamp: now.UnixMilli(),
		})
	}
	return records
}
