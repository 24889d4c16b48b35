package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dushixiang/otter/internal/queue"
	"github.com/dushixiang/otter/internal/service"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// SummaryPayload 指标汇总任务的参数
type SummaryPayload struct {
	Metric string `json:"metric"`
}

// Worker 队列消费者：轮询任务队列并执行已注册的任务
type Worker struct {
	logger        *zap.Logger
	queue         *queue.Queue
	reportService *service.ReportService
	pollInterval  time.Duration

	wg     conc.WaitGroup
	cancel context.CancelFunc
}

// New 创建消费者
func New(logger *zap.Logger, q *queue.Queue, reportService *service.ReportService) *Worker {
	return &Worker{
		logger:        logger,
		queue:         q,
		reportService: reportService,
		pollInterval:  500 * time.Millisecond,
	}
}

// Start 启动消费循环（非阻塞）
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.logger.Info("任务消费者已启动")

	w.wg.Go(func() {
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Drain(ctx)
			}
		}
	})
}

// Stop 停止消费并等待在途任务完成
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("任务消费者已停止")
}

// Drain 取空当前队列中的任务并逐个执行
func (w *Worker) Drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, ok, err := w.queue.Dequeue()
		if err != nil {
			w.logger.Error("读取任务队列失败", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		w.handle(ctx, task)
	}
}

// handle 执行一个任务并写入结果
func (w *Worker) handle(ctx context.Context, task *queue.Task) {
	result := &queue.TaskResult{
		ID:   task.ID,
		Name: task.Name,
	}

	switch task.Name {
	case queue.TaskGenerateSummary:
		payload, summary, err := w.generateSummary(ctx, task)
		if err != nil {
			result.Status = queue.StatusFailed
			result.Error = err.Error()
			w.logger.Error("任务执行失败",
				zap.String("task", task.Name),
				zap.String("id", task.ID),
				zap.Error(err))
		} else {
			result.Status = queue.StatusSuccess
			result.Result = summary
			w.logger.Info("任务执行完成",
				zap.String("task", task.Name),
				zap.String("id", task.ID),
				zap.String("metric", payload.Metric))
		}
	default:
		result.Status = queue.StatusFailed
		result.Error = fmt.Sprintf("未注册的任务: %s", task.Name)
		w.logger.Warn("收到未注册的任务", zap.String("task", task.Name), zap.String("id", task.ID))
	}

	result.FinishedAt = time.Now().UnixMilli()
	if err := w.queue.SetResult(result); err != nil {
		w.logger.Error("写入任务结果失败", zap.String("id", task.ID), zap.Error(err))
	}
}

func (w *Worker) generateSummary(ctx context.Context, task *queue.Task) (*SummaryPayload, json.RawMessage, error) {
	var payload SummaryPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return nil, nil, fmt.Errorf("解析任务参数失败: %w", err)
	}
	if payload.Metric == "" {
		return nil, nil, fmt.Errorf("任务参数缺少 metric 字段")
	}

	summary, err := w.reportService.Summarize(ctx, payload.Metric)
	if err != nil {
		return &payload, nil, err
	}

	data, err := json.Marshal(summary)
	if err != nil {
		return &payload, nil, err
	}
	return &payload, data, nil
}
