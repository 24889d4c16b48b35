package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// AppConfig 应用配置
type AppConfig struct {
	Server    ServerConfig    `json:"Server"`    // HTTP服务配置
	Log       LogConfig       `json:"Log"`       // 日志配置
	JWT       JWTConfig       `json:"JWT"`       // JWT配置
	Users     []UserConfig    `json:"Users"`     // 静态用户列表（进程启动时加载，运行期不可变）
	Warehouse WarehouseConfig `json:"Warehouse"` // 数据仓库配置
	Queue     QueueConfig     `json:"Queue"`     // 任务队列配置
	ETL       ETLConfig       `json:"ETL"`       // 行情抽取任务配置
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Addr string `json:"Addr"` // 监听地址，如 :8080
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `json:"Level"`      // 日志级别
	Filename   string `json:"Filename"`   // 日志文件路径（为空则只输出到标准输出）
	MaxSizeMB  int    `json:"MaxSizeMB"`  // 单个日志文件大小上限（MB）
	MaxBackups int    `json:"MaxBackups"` // 保留的历史文件个数
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret         string `json:"Secret"`         // 签名密钥（不允许出现在日志中）
	Algorithm      string `json:"Algorithm"`      // 签名算法，如 HS256
	ExpiresMinutes int    `json:"ExpiresMinutes"` // 令牌有效期（分钟）
}

// UserConfig 静态用户配置
type UserConfig struct {
	Username     string `json:"Username"`     // 用户名
	DisplayName  string `json:"DisplayName"`  // 显示名称
	PasswordHash string `json:"PasswordHash"` // bcrypt加密的密码
	Disabled     bool   `json:"Disabled"`     // 是否禁用
}

// WarehouseConfig 数据仓库配置
type WarehouseConfig struct {
	Type string `json:"Type"` // sqlite 或 postgres
	Path string `json:"Path"` // sqlite 数据文件路径
	DSN  string `json:"DSN"`  // postgres 连接串
}

// Location 返回对外展示的仓库位置（sqlite 为文件路径，postgres 为 DSN）
func (c WarehouseConfig) Location() string {
	if c.Type == "postgres" {
		return c.DSN
	}
	return c.Path
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Path string `json:"Path"` // bbolt 队列文件路径
}

// ETLConfig 行情抽取任务配置
type ETLConfig struct {
	URL            string `json:"URL"`            // 行情接口地址
	Cron           string `json:"Cron"`           // 调度表达式（秒级，六段）
	TimeoutSeconds int    `json:"TimeoutSeconds"` // 单次请求超时（秒）
	MaxAttempts    int    `json:"MaxAttempts"`    // 最大尝试次数
	RetrySeconds   int    `json:"RetrySeconds"`   // 重试间隔（秒）
}

// Load 加载配置：读取可选的配置文件，并允许 OTTER_ 前缀的环境变量覆盖
func Load(path string) (*AppConfig, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.filename", "")
	v.SetDefault("log.maxsizemb", 50)
	v.SetDefault("log.maxbackups", 3)
	// 环境变量覆盖依赖已注册的键，密钥类键也需要显式注册默认值
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.algorithm", "HS256")
	v.SetDefault("jwt.expiresminutes", 60)
	v.SetDefault("warehouse.type", "sqlite")
	v.SetDefault("warehouse.path", "data/warehouse.db")
	v.SetDefault("warehouse.dsn", "")
	v.SetDefault("queue.path", "data/queue.db")
	v.SetDefault("etl.url", "https://api.coindesk.com/v1/bpi/currentprice.json")
	v.SetDefault("etl.cron", "0 */30 * * * *")
	v.SetDefault("etl.timeoutseconds", 10)
	v.SetDefault("etl.maxattempts", 3)
	v.SetDefault("etl.retryseconds", 10)

	v.SetEnvPrefix("OTTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		filename := filepath.Base(path)
		v.AddConfigPath(filepath.Dir(path))
		v.SetConfigName(strings.TrimSuffix(filename, filepath.Ext(filename)))
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			// 配置文件可选，缺失时仅依赖默认值和环境变量
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var conf AppConfig
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if conf.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT 签名密钥不能为空（OTTER_JWT_SECRET）")
	}
	return &conf, nil
}
