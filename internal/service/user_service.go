package service

import (
	"errors"

	"github.com/dushixiang/otter/internal/config"
	"github.com/dushixiang/otter/internal/models"
)

// ErrUserNotFound 用户不存在
var ErrUserNotFound = errors.New("用户不存在")

// UserService 凭据存储：进程启动时从配置构建，运行期只读
type UserService struct {
	users map[string]models.User
}

// NewUserService 从配置构建用户表
func NewUserService(users []config.UserConfig) *UserService {
	m := make(map[string]models.User, len(users))
	for _, u := range users {
		m[u.Username] = models.User{
			Username:     u.Username,
			DisplayName:  u.DisplayName,
			PasswordHash: u.PasswordHash,
			Disabled:     u.Disabled,
		}
	}
	return &UserService{users: m}
}

// Lookup 按用户名查找用户
func (s *UserService) Lookup(username string) (*models.User, error) {
	user, ok := s.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}
