package server

import (
	"context"
	"net/http"

	"github.com/dushixiang/otter/internal/config"
	"github.com/dushixiang/otter/internal/handler"
	"github.com/dushixiang/otter/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Server HTTP服务
type Server struct {
	logger *zap.Logger
	echo   *echo.Echo
	addr   string
}

// New 创建HTTP服务并注册路由
func New(
	logger *zap.Logger,
	conf config.ServerConfig,
	tokenService *service.TokenService,
	authHandler *handler.AuthHandler,
	ingestHandler *handler.IngestHandler,
	reportHandler *handler.ReportHandler,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.Use(middleware.Recover())

	// 无需认证
	e.GET("/health", ingestHandler.Health)
	e.POST("/token", authHandler.Token)

	// 需要访问令牌
	auth := handler.BearerAuth(logger, tokenService)
	e.POST("/ingest", ingestHandler.Ingest, auth)

	api := e.Group("/api", auth)
	api.GET("/metrics", ingestHandler.ListMetrics)
	api.POST("/reports/summary", reportHandler.CreateSummaryTask)
	api.GET("/reports/tasks/:id", reportHandler.GetTask)

	return &Server{
		logger: logger,
		echo:   e,
		addr:   conf.Addr,
	}
}

// Echo 返回底层的 echo 实例（测试用）
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start 启动监听（阻塞直到 Shutdown）
func (s *Server) Start() error {
	s.logger.Info("HTTP服务已启动", zap.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown 优雅停止
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
