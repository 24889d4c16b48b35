package models

// User 认证用户（来自静态配置，运行期只读）
type User struct {
	Username     string `json:"username"`
	DisplayName  string `json:"displayName"`
	PasswordHash string `json:"-"` // bcrypt哈希，不参与序列化
	Disabled     bool   `json:"disabled"`
}
