package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dushixiang/otter/internal/config"
	"github.com/dushixiang/otter/internal/handler"
	"github.com/dushixiang/otter/internal/queue"
	"github.com/dushixiang/otter/internal/repo"
	"github.com/dushixiang/otter/internal/scheduler"
	"github.com/dushixiang/otter/internal/server"
	"github.com/dushixiang/otter/internal/service"
	"github.com/dushixiang/otter/internal/worker"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// App 应用装配：按配置构建各组件，并提供各运行模式的入口
// 队列文件不在这里打开：bbolt 文件锁是进程独占的，只有 serve 模式持有队列
type App struct {
	Conf   *config.AppConfig
	Logger *zap.Logger

	db *gorm.DB

	UserService    *service.UserService
	TokenService   *service.TokenService
	IngestService  *service.IngestService
	ReportService  *service.ReportService
	ExtractService *service.ExtractService
}

// New 加载配置并装配所有组件
func New(configPath string) (*App, error) {
	conf, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := NewLogger(conf.Log)
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(conf.Warehouse)
	if err != nil {
		return nil, fmt.Errorf("打开数据仓库失败: %w", err)
	}

	userService := service.NewUserService(conf.Users)
	tokenService, err := service.NewTokenService(logger, userService, conf.JWT)
	if err != nil {
		return nil, err
	}

	return &App{
		Conf:           conf,
		Logger:         logger,
		db:             db,
		UserService:    userService,
		TokenService:   tokenService,
		IngestService:  service.NewIngestService(logger, db, conf.Warehouse.Location()),
		ReportService:  service.NewReportService(logger, db),
		ExtractService: service.NewExtractService(logger, db, conf.ETL),
	}, nil
}

// Close 释放资源
func (a *App) Close() {
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	_ = a.Logger.Sync()
}

// runtime serve 模式的运行时组件，队列文件由它独占持有
type runtime struct {
	queue     *queue.Queue
	worker    *worker.Worker
	scheduler *scheduler.ETLScheduler
	server    *server.Server
}

// buildRuntime 打开队列并装配 HTTP 服务、任务消费者与抽取调度器
func (a *App) buildRuntime() (*runtime, error) {
	q, err := queue.Open(a.Conf.Queue.Path, a.Logger)
	if err != nil {
		return nil, err
	}

	metricRepo := repo.NewMetricRepo(a.db)
	srv := server.New(a.Logger, a.Conf.Server, a.TokenService,
		handler.NewAuthHandler(a.Logger, a.TokenService),
		handler.NewIngestHandler(a.Logger, a.IngestService, metricRepo),
		handler.NewReportHandler(a.Logger, q),
	)

	return &runtime{
		queue:     q,
		worker:    worker.New(a.Logger, q, a.ReportService),
		scheduler: scheduler.NewETLScheduler(a.Logger, a.ExtractService, a.Conf.ETL.Cron),
		server:    srv,
	}, nil
}

// start 启动消费者和调度器（HTTP 监听由调用方控制）
func (rt *runtime) start(ctx context.Context) error {
	rt.worker.Start(ctx)
	if err := rt.scheduler.Start(ctx); err != nil {
		rt.worker.Stop()
		_ = rt.queue.Close()
		return fmt.Errorf("启动抽取调度器失败: %w", err)
	}
	return nil
}

// stop 停止消费者和调度器并关闭队列
func (rt *runtime) stop() {
	rt.scheduler.Stop()
	rt.worker.Stop()
	_ = rt.queue.Close()
}

// RunServe 运行HTTP服务、任务消费者与抽取调度器，直到上下文取消
// 三者在同一进程内共享同一个队列句柄
func (a *App) RunServe(ctx context.Context) error {
	rt, err := a.buildRuntime()
	if err != nil {
		return err
	}
	if err := rt.start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- rt.server.Start()
	}()

	select {
	case err := <-errCh:
		rt.stop()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = rt.server.Shutdown(shutdownCtx)
	rt.stop()
	if err != nil {
		return err
	}
	a.Logger.Info("HTTP服务已停止")
	return nil
}

// RunETL 立即执行一次行情抽取（不触碰队列文件，可与 serve 并行运行）
func (a *App) RunETL(ctx context.Context) (int, error) {
	return a.ExtractService.Run(ctx)
}

// SubmitSummary 向运行中的服务投递一个指标汇总任务并返回任务ID
// 队列文件被 serve 进程独占，命令行投递走 HTTP 接口；
// 令牌用本地配置的签名密钥现签，username 为空时取配置中的第一个用户
func (a *App) SubmitSummary(ctx context.Context, addr, username, metric string) (string, error) {
	if username == "" {
		if len(a.Conf.Users) == 0 {
			return "", fmt.Errorf("配置中没有可用用户")
		}
		username = a.Conf.Users[0].Username
	}
	user, err := a.UserService.Lookup(username)
	if err != nil {
		return "", err
	}
	token, err := a.TokenService.Issue(user, time.Now())
	if err != nil {
		return "", err
	}

	if addr == "" {
		addr = a.Conf.Server.Addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}

	body, err := json.Marshal(map[string]string{"metric": metric})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://"+addr+"/api/reports/summary", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("投递任务失败（服务是否在运行？）: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("投递任务失败: %d %s", resp.StatusCode, string(data))
	}

	var accepted struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(data, &accepted); err != nil {
		return "", fmt.Errorf("解析投递响应失败: %w", err)
	}
	return accepted.TaskID, nil
}

// openDatabase 按配置打开数据仓库
func openDatabase(conf config.WarehouseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch conf.Type {
	case "", "sqlite":
		if err := os.MkdirAll(filepath.Dir(conf.Path), 0o755); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(conf.Path)
	case "postgres":
		dialector = postgres.Open(conf.DSN)
	default:
		return nil, fmt.Errorf("不支持的仓库类型: %s", conf.Type)
	}

	return gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
}
