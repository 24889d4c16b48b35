package handler

import (
	"net/http"
	"strconv"

	"github.com/dushixiang/otter/internal/repo"
	"github.com/dushixiang/otter/internal/service"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// IngestHandler 指标写入与查询处理器
type IngestHandler struct {
	logger        *zap.Logger
	ingestService *service.IngestService
	metricRepo    *repo.MetricRepo
}

// NewIngestHandler 创建处理器
func NewIngestHandler(logger *zap.Logger, ingestService *service.IngestService, metricRepo *repo.MetricRepo) *IngestHandler {
	return &IngestHandler{
		logger:        logger,
		ingestService: ingestService,
		metricRepo:    metricRepo,
	}
}

// Health 健康检查
// GET /health
func (h *IngestHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ingest 写入一条指标记录
// POST /ingest
func (h *IngestHandler) Ingest(c echo.Context) error {
	var req service.IngestRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "请求体格式错误",
		})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":  "请求参数校验失败",
			"fields": validationDetail(err),
		})
	}

	user := CurrentUser(c)
	result, err := h.ingestService.Ingest(c.Request().Context(), &req)
	if err != nil {
		h.logger.Error("指标写入失败",
			zap.String("username", user.Username),
			zap.String("metric", req.Metric),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "指标写入失败",
		})
	}

	h.logger.Info("指标写入成功",
		zap.String("username", user.Username),
		zap.String("source", req.Source),
		zap.String("metric", req.Metric))
	return c.JSON(http.StatusOK, result)
}

// ListMetrics 查询最近的指标记录（供外部看板读取）
// GET /api/metrics?limit=N
func (h *IngestHandler) ListMetrics(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	records, err := h.metricRepo.FindRecent(c.Request().Context(), limit)
	if err != nil {
		h.logger.Error("查询指标记录失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "查询失败",
		})
	}

	items := make([]map[string]interface{}, 0, len(records))
	for _, record := range records {
		items = append(items, map[string]interface{}{
			"source":    record.Source,
			"metric":    record.Metric,
			"value":     record.Value,
			"timestamp": record.Time(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}

// validationDetail 把校验错误展开为字段级别的说明
func validationDetail(err error) map[string]string {
	fields := make(map[string]string)
	if errs, ok := err.(validator.ValidationErrors); ok {
		for _, fieldErr := range errs {
			fields[fieldErr.Field()] = fieldErr.Tag()
		}
	}
	return fields
}
