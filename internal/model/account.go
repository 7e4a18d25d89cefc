package model

// Account 租户表，对应 accounts；所有业务数据按 account_id 隔离
type Account struct {
	AccountID string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"account_id"`
	Name      string `gorm:"type:varchar(200);not null"                     json:"name"`
	IsActive  bool   `gorm:"not null;default:true"                          json:"is_active"`
	BaseModel
}

// TableName 指定表名
func (Account) TableName() string { return "accounts" }

// 用户角色
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleSeller  = "seller"
)

// User 用户表，对应 users
type User struct {
	UserID       string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"user_id"`
	AccountID    string `gorm:"type:uuid;not null;index"                       json:"account_id"`
	Name         string `gorm:"type:varchar(100);not null"                     json:"name"`
	Email        string `gorm:"type:varchar(255);not null;uniqueIndex"         json:"email"`
	PasswordHash string `gorm:"type:varchar(255);not null"                     json:"-"`
	Role         string `gorm:"type:varchar(20);not null;default:'seller'"     json:"role"`
	IsActive     bool   `gorm:"not null;default:true"                          json:"is_active"`
	SoftDeleteModel
}

// TableName 指定表名
func (User) TableName() string { return "users" }
