package handler

import (
	"net/http"
	"time"

	"github.com/dushixiang/otter/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	logger       *zap.Logger
	tokenService *service.TokenService
}

// NewAuthHandler 创建处理器
func NewAuthHandler(logger *zap.Logger, tokenService *service.TokenService) *AuthHandler {
	return &AuthHandler{
		logger:       logger,
		tokenService: tokenService,
	}
}

// Token 用凭据换取访问令牌
// POST /token（表单: username/password）
func (h *AuthHandler) Token(c echo.Context) error {
	username := c.FormValue("username")
	password := c.FormValue("password")

	user, err := h.tokenService.Authenticate(username, password)
	if err != nil {
		// 不区分用户不存在和密码错误
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "用户名或密码错误",
		})
	}

	token, err := h.tokenService.Issue(user, time.Now())
	if err != nil {
		h.logger.Error("签发令牌失败", zap.String("username", user.Username), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "签发令牌失败",
		})
	}

	h.logger.Info("登录成功", zap.String("username", user.Username))
	return c.JSON(http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}
