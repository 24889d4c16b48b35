package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/dushixiang/otter/internal/models"
	"github.com/dushixiang/otter/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// currentUserKey 请求上下文中已认证用户的键
const currentUserKey = "otter:current-user"

// BearerAuth 访问令牌校验中间件
// 校验通过后把用户放入请求上下文，后续处理器通过 CurrentUser 获取
func BearerAuth(logger *zap.Logger, tokenService *service.TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authorization := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(authorization, "Bearer ")
			if !ok || token == "" {
				return unauthorized(c)
			}

			user, err := tokenService.Verify(token, time.Now())
			if err != nil {
				logger.Warn("令牌校验失败",
					zap.String("path", c.Path()),
					zap.Error(err))
				return unauthorized(c)
			}

			c.Set(currentUserKey, user)
			return next(c)
		}
	}
}

// CurrentUser 获取请求上下文中的已认证用户
func CurrentUser(c echo.Context) *models.User {
	user, _ := c.Get(currentUserKey).(*models.User)
	return user
}

func unauthorized(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
	return c.JSON(http.StatusUnauthorized, map[string]string{
		"error": "认证失败",
	})
}
