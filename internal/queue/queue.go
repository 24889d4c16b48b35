package queue

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-orz/cache"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// TaskGenerateSummary 指标汇总任务名
const TaskGenerateSummary = "reports.generate_summary"

// 任务状态
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

var (
	bucketTasks   = []byte("tasks")
	bucketResults = []byte("results")
)

// Task 队列中的一个任务
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt int64           `json:"enqueuedAt"` // 入队时间（毫秒）
}

// TaskResult 任务执行结果
type TaskResult struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Status     string          `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	FinishedAt int64           `json:"finishedAt,omitempty"` // 完成时间（毫秒）
}

// Queue 基于 bbolt 的持久化先进先出任务队列，附带结果存储
type Queue struct {
	logger *zap.Logger
	db     *bbolt.DB

	// 结果读缓存：避免轮询结果接口时反复读盘
	resultCache cache.Cache[string, *TaskResult]
}

// Open 打开（必要时创建）队列文件
func Open(path string, logger *zap.Logger) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建队列目录失败: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开队列文件失败: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketTasks); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketResults)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("初始化队列失败: %w", err)
	}

	return &Queue{
		logger:      logger,
		db:          db,
		resultCache: cache.New[string, *TaskResult](10 * time.Minute),
	}, nil
}

// Close 关闭队列文件
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue 入队一个任务，返回任务ID，同时写入 pending 状态的结果占位
func (q *Queue) Enqueue(name string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("序列化任务参数失败: %w", err)
	}

	task := Task{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    data,
		EnqueuedAt: time.Now().UnixMilli(),
	}
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return "", err
	}
	pending, err := json.Marshal(TaskResult{ID: task.ID, Name: name, Status: StatusPending})
	if err != nil {
		return "", err
	}

	err = q.db.Update(func(tx *bbolt.Tx) error {
		tasks := tx.Bucket(bucketTasks)
		seq, err := tasks.NextSequence()
		if err != nil {
			return err
		}
		if err := tasks.Put(itob(seq), taskBytes); err != nil {
			return err
		}
		return tx.Bucket(bucketResults).Put([]byte(task.ID), pending)
	})
	if err != nil {
		return "", fmt.Errorf("任务入队失败: %w", err)
	}

	q.logger.Info("任务已入队", zap.String("task", name), zap.String("id", task.ID))
	return task.ID, nil
}

// Dequeue 取出最早入队的任务；队列为空时第二个返回值为 false
func (q *Queue) Dequeue() (*Task, bool, error) {
	var task Task
	var found bool

	err := q.db.Update(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketTasks).Cursor()
		key, value := cursor.First()
		if key == nil {
			return nil
		}
		if err := json.Unmarshal(value, &task); err != nil {
			return fmt.Errorf("解析队列任务失败: %w", err)
		}
		found = true
		return cursor.Delete()
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return &task, true, nil
}

// Pending 返回待处理任务数
func (q *Queue) Pending() (int, error) {
	var count int
	err := q.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket(bucketTasks).Stats().KeyN
		return nil
	})
	return count, err
}

// SetResult 写入任务结果
func (q *Queue) SetResult(result *TaskResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	err = q.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketResults).Put([]byte(result.ID), data)
	})
	if err != nil {
		return fmt.Errorf("写入任务结果失败: %w", err)
	}
	q.resultCache.Set(result.ID, result, 10*time.Minute)
	return nil
}

// GetResult 读取任务结果；不存在时返回 nil
func (q *Queue) GetResult(id string) (*TaskResult, error) {
	if result, ok := q.resultCache.Get(id); ok {
		return result, nil
	}

	var result *TaskResult
	err := q.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketResults).Get([]byte(id))
		if data == nil {
			return nil
		}
		result = &TaskResult{}
		return json.Unmarshal(data, result)
	})
	if err != nil {
		return nil, err
	}
	if result != nil {
		q.resultCache.Set(id, result, 10*time.Minute)
	}
	return result, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
