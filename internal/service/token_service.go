package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/dushixiang/otter/internal/config"
	"github.com/dushixiang/otter/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrAuthFailed 认证失败（用户不存在、已禁用或密码错误，对外不作区分）
	ErrAuthFailed = errors.New("用户名或密码错误")
	// ErrInvalidToken 令牌无效（签名错误、格式错误、已过期或主体不可用）
	ErrInvalidToken = errors.New("无效的访问令牌")
)

// TokenService 令牌服务：签发和校验自包含的 JWT 访问令牌
type TokenService struct {
	logger *zap.Logger
	users  *UserService
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
}

// NewTokenService 创建令牌服务
func NewTokenService(logger *zap.Logger, users *UserService, conf config.JWTConfig) (*TokenService, error) {
	method := jwt.GetSigningMethod(conf.Algorithm)
	if method == nil {
		return nil, fmt.Errorf("不支持的签名算法: %s", conf.Algorithm)
	}
	return &TokenService{
		logger: logger,
		users:  users,
		secret: []byte(conf.Secret),
		method: method,
		ttl:    time.Duration(conf.ExpiresMinutes) * time.Minute,
	}, nil
}

// TTL 返回令牌有效期
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Authenticate 校验用户名和密码，成功返回用户
func (s *TokenService) Authenticate(username, password string) (*models.User, error) {
	user, err := s.users.Lookup(username)
	if err != nil {
		s.logger.Warn("认证失败", zap.String("username", username))
		return nil, ErrAuthFailed
	}
	if user.Disabled {
		s.logger.Warn("认证失败，用户已禁用", zap.String("username", username))
		return nil, ErrAuthFailed
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Warn("认证失败", zap.String("username", username))
		return nil, ErrAuthFailed
	}
	return user, nil
}

// Issue 签发访问令牌，过期时间写入签名负载，校验时无需查询外部状态
func (s *TokenService) Issue(user *models.User, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   user.Username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(s.method, claims)
	return token.SignedString(s.secret)
}

// Verify 校验访问令牌并解析出用户
// 签名不合法、负载格式错误、已到期或用户不可用时均返回 ErrInvalidToken
func (s *TokenService) Verify(tokenString string, now time.Time) (*models.User, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	claims := &jwt.RegisteredClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}
	// 到期时刻本身视为已过期
	if !now.Before(claims.ExpiresAt.Time) {
		return nil, ErrInvalidToken
	}

	user, err := s.users.Lookup(claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if user.Disabled {
		return nil, ErrInvalidToken
	}
	return user, nil
}
