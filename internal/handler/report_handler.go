package handler

import (
	"net/http"

	"github.com/dushixiang/otter/internal/queue"
	"github.com/dushixiang/otter/internal/worker"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ReportHandler 报表任务处理器：把汇总请求投递到任务队列
type ReportHandler struct {
	logger *zap.Logger
	queue  *queue.Queue
}

// NewReportHandler 创建处理器
func NewReportHandler(logger *zap.Logger, q *queue.Queue) *ReportHandler {
	return &ReportHandler{
		logger: logger,
		queue:  q,
	}
}

// summaryRequest 汇总任务请求
type summaryRequest struct {
	Metric string `json:"metric" validate:"required"`
}

// CreateSummaryTask 投递一个指标汇总任务
// POST /api/reports/summary
func (h *ReportHandler) CreateSummaryTask(c echo.Context) error {
	var req summaryRequest
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

	taskID, err := h.queue.Enqueue(queue.TaskGenerateSummary, worker.SummaryPayload{Metric: req.Metric})
	if err != nil {
		h.logger.Error("投递汇总任务失败", zap.String("metric", req.Metric), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "任务投递失败",
		})
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"task_id": taskID,
		"status":  queue.StatusPending,
	})
}

// GetTask 查询任务结果
// GET /api/reports/tasks/:id
func (h *ReportHandler) GetTask(c echo.Context) error {
	taskID := c.Param("id")
	result, err := h.queue.GetResult(taskID)
	if err != nil {
		h.logger.Error("查询任务结果失败", zap.String("id", taskID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "查询失败",
		})
	}
	if result == nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "任务不存在",
		})
	}
	return c.JSON(http.StatusOK, result)
}
