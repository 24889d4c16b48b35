package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dushixiang/otter/internal/config"
	"github.com/dushixiang/otter/internal/handler"
	"github.com/dushixiang/otter/internal/queue"
	"github.com/dushixiang/otter/internal/repo"
	"github.com/dushixiang/otter/internal/service"
	"github.com/dushixiang/otter/internal/worker"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type testStack struct {
	server *Server
	db     *gorm.DB
	queue  *queue.Queue
	worker *worker.Worker
	path   string
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop()

	path := filepath.Join(dir, "warehouse.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}

	q, err := queue.Open(filepath.Join(dir, "queue.db"), logger)
	if err != nil {
		t.Fatalf("打开队列失败: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("生成密码哈希失败: %v", err)
	}
	userService := service.NewUserService([]config.UserConfig{
		{Username: "data.engineer", DisplayName: "Data Engineer", PasswordHash: string(hash)},
	})
	tokenService, err := service.NewTokenService(logger, userService, config.JWTConfig{
		Secret:         "test-secret",
		Algorithm:      "HS256",
		ExpiresMinutes: 60,
	})
	if err != nil {
		t.Fatalf("创建令牌服务失败: %v", err)
	}

	ingestService := service.NewIngestService(logger, db, path)
	reportService := service.NewReportService(logger, db)
	metricRepo := repo.NewMetricRepo(db)

	srv := New(logger, config.ServerConfig{Addr: ":0"},
		tokenService,
		handler.NewAuthHandler(logger, tokenService),
		handler.NewIngestHandler(logger, ingestService, metricRepo),
		handler.NewReportHandler(logger, q),
	)

	return &testStack{
		server: srv,
		db:     db,
		queue:  q,
		worker: worker.New(logger, q, reportService),
		path:   path,
	}
}

func (s *testStack) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.server.Echo().ServeHTTP(rec, req)
	return rec
}

func (s *testStack) login(t *testing.T) string {
	t.Helper()
	form := url.Values{}
	form.Set("username", "data.engineer")
	form.Set("password", "changeme")
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := s.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("登录应该成功，实际状态码 %d: %s", rec.Code, rec.Body.String())
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("解析登录响应失败: %v", err)
	}
	if body["token_type"] != "bearer" {
		t.Errorf("令牌类型应该是 bearer，实际 %s", body["token_type"])
	}
	if body["access_token"] == "" {
		t.Fatal("登录响应缺少访问令牌")
	}
	return body["access_token"]
}

func TestHealth(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("健康检查状态码应该是 200，实际 %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("健康检查状态应该是 ok，实际 %s", body["status"])
	}
}

func TestTokenBadCredentials(t *testing.T) {
	s := newTestStack(t)

	form := url.Values{}
	form.Set("username", "data.engineer")
	form.Set("password", "wrong")
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := s.do(req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("错误凭据状态码应该是 401，实际 %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Errorf("401 响应应该携带 WWW-Authenticate: Bearer 头")
	}
}

// TestIngestEndToEnd 登录、写入、异步汇总的完整链路
func TestIngestEndToEnd(t *testing.T) {
	s := newTestStack(t)
	token := s.login(t)

	body := `{"source":"coindesk","metric":"btc_price_usd","value":50000.0}`
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	rec := s.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("写入状态码应该是 200，实际 %d: %s", rec.Code, rec.Body.String())
	}

	var result service.IngestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("解析写入响应失败: %v", err)
	}
	if result.RowsIngested != 1 {
		t.Errorf("写入条数应该是 1，实际 %d", result.RowsIngested)
	}
	if result.WarehousePath != s.path {
		t.Errorf("仓库路径不一致: %s != %s", result.WarehousePath, s.path)
	}

	// 通过队列投递汇总任务并由消费者执行
	taskID, err := s.queue.Enqueue(queue.TaskGenerateSummary, worker.SummaryPayload{Metric: "btc_price_usd"})
	if err != nil {
		t.Fatalf("入队失败: %v", err)
	}
	s.worker.Drain(context.Background())

	taskResult, err := s.queue.GetResult(taskID)
	if err != nil {
		t.Fatalf("读取任务结果失败: %v", err)
	}
	if taskResult.Status != queue.StatusSuccess {
		t.Fatalf("汇总任务应该成功，实际 %+v", taskResult)
	}

	var summary struct {
		Metric  string   `json:"metric"`
		Records int64    `json:"records"`
		Average *float64 `json:"average"`
	}
	if err := json.Unmarshal(taskResult.Result, &summary); err != nil {
		t.Fatalf("解析汇总结果失败: %v", err)
	}
	if summary.Metric != "btc_price_usd" || summary.Records != 1 {
		t.Errorf("汇总结果不一致: %+v", summary)
	}
	if summary.Average == nil || *summary.Average != 50000.0 {
		t.Errorf("均值应该是 50000，实际 %v", summary.Average)
	}
}

func TestIngestWithoutToken(t *testing.T) {
	s := newTestStack(t)

	body := `{"source":"coindesk","metric":"btc_price_usd","value":50000.0}`
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := s.do(req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("无令牌写入状态码应该是 401，实际 %d", rec.Code)
	}

	// 不应该有任何记录落库
	if err := repo.NewMetricRepo(s.db).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("建表失败: %v", err)
	}
	count, err := repo.NewMetricRepo(s.db).Count(context.Background())
	if err != nil {
		t.Fatalf("统计记录数失败: %v", err)
	}
	if count != 0 {
		t.Errorf("未认证的请求不应该写入记录，实际 %d 条", count)
	}
}

func TestIngestExpiredToken(t *testing.T) {
	s := newTestStack(t)

	// 构造一个已过期的令牌
	logger := zap.NewNop()
	hash, _ := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.MinCost)
	userService := service.NewUserService([]config.UserConfig{
		{Username: "data.engineer", PasswordHash: string(hash)},
	})
	expiredService, err := service.NewTokenService(logger, userService, config.JWTConfig{
		Secret: "test-secret", Algorithm: "HS256", ExpiresMinutes: 60,
	})
	if err != nil {
		t.Fatalf("创建令牌服务失败: %v", err)
	}
	user, _ := userService.Lookup("data.engineer")
	token, err := expiredService.Issue(user, time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("签发令牌失败: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/ingest",
		strings.NewReader(`{"source":"a","metric":"b","value":1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	rec := s.do(req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("过期令牌状态码应该是 401，实际 %d", rec.Code)
	}
}

func TestIngestValidation(t *testing.T) {
	s := newTestStack(t)
	token := s.login(t)

	cases := []struct {
		name string
		body string
	}{
		{"缺少指标名", `{"source":"a","value":1}`},
		{"缺少来源", `{"metric":"b","value":1}`},
		{"缺少数值", `{"source":"a","metric":"b"}`},
		{"数值非法", `{"source":"a","metric":"b","value":"abc"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+token)

			rec := s.do(req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("非法请求体状态码应该是 400，实际 %d: %s", rec.Code, rec.Body.String())
			}
		})
	}

	// 校验失败不应该写入任何记录
	if err := repo.NewMetricRepo(s.db).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("建表失败: %v", err)
	}
	count, err := repo.NewMetricRepo(s.db).Count(context.Background())
	if err != nil {
		t.Fatalf("统计记录数失败: %v", err)
	}
	if count != 0 {
		t.Errorf("校验失败的请求不应该写入记录，实际 %d 条", count)
	}
}

func TestListMetrics(t *testing.T) {
	s := newTestStack(t)
	token := s.login(t)

	for _, body := range []string{
		`{"source":"a","metric":"cpu","value":1,"timestamp":"2026-08-01T10:00:00Z"}`,
		`{"source":"a","metric":"cpu","value":2,"timestamp":"2026-08-01T11:00:00Z"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		if rec := s.do(req); rec.Code != http.StatusOK {
			t.Fatalf("写入失败: %d %s", rec.Code, rec.Body.String())
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/metrics?limit=10", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := s.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("查询状态码应该是 200，实际 %d", rec.Code)
	}

	var body struct {
		Items []map[string]interface{} `json:"items"`
		Total int                      `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if body.Total != 2 {
		t.Fatalf("应该查到 2 条记录，实际 %d", body.Total)
	}
	// 按时间倒序
	if body.Items[0]["value"].(float64) != 2 {
		t.Errorf("第一条应该是最新的记录，实际 %+v", body.Items[0])
	}
}

func TestReportTaskAPI(t *testing.T) {
	s := newTestStack(t)
	token := s.login(t)

	req := httptest.NewRequest(http.MethodPost, "/api/reports/summary",
		strings.NewReader(`{"metric":"btc_price_usd"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	rec := s.do(req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("任务投递状态码应该是 202，实际 %d: %s", rec.Code, rec.Body.String())
	}
	var created map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	taskID := created["task_id"]
	if taskID == "" {
		t.Fatal("响应缺少 task_id")
	}

	// 消费前任务处于 pending
	req = httptest.NewRequest(http.MethodGet, "/api/reports/tasks/"+taskID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = s.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("查询任务状态码应该是 200，实际 %d", rec.Code)
	}
	var result queue.TaskResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if result.Status != queue.StatusPending {
		t.Errorf("消费前任务状态应该是 pending，实际 %s", result.Status)
	}

	// 消费后能查到汇总结果
	s.worker.Drain(context.Background())
	rec = s.do(req.Clone(req.Context()))
	if rec.Code != http.StatusOK {
		t.Fatalf("查询任务状态码应该是 200，实际 %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if result.Status != queue.StatusSuccess {
		t.Errorf("消费后任务状态应该是 success，实际 %+v", result)
	}

	// 不存在的任务返回 404
	req = httptest.NewRequest(http.MethodGet, "/api/reports/tasks/no-such-task", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if rec := s.do(req); rec.Code != http.StatusNotFound {
		t.Errorf("不存在的任务状态码应该是 404，实际 %d", rec.Code)
	}
}
