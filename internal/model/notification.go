package model

import "gorm.io/datatypes"

// Notification 站内通知，对应 notifications
type Notification struct {
	NotificationID string            `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"notification_id"`
	AccountID      string            `gorm:"type:uuid;not null;index"                       json:"account_id"`
	UserID         string            `gorm:"type:uuid;not null;index"                       json:"user_id"`
	Type           string            `gorm:"type:varchar(50);not null"                      json:"type"` // automation | transfer
	Title          string            `gorm:"type:varchar(200);not null"                     json:"title"`
	Message        string            `gorm:"type:text;not null"                             json:"message"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"                                     json:"metadata,omitempty"`
	IsRead         bool              `gorm:"not null;default:false"                         json:"is_read"`
	BaseModel
}

// TableName 指定表名
func (Notification) TableName() string { return "notifications" }

// PointsEntry 游戏化积分流水，对应 points_entries（只追加）
type PointsEntry struct {
	EntryID   string  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"entry_id"`
	AccountID string  `gorm:"type:uuid;not null;index"                       json:"account_id"`
	UserID    string  `gorm:"type:uuid;not null;index"                       json:"user_id"`
	Points    int     `gorm:"not null"                                       json:"points"`
	Reason    string  `gorm:"type:varchar(255);not null"                     json:"reason"`
	Source    string  `gorm:"type:varchar(20);not null;default:'manual'"     json:"source"` // manual | automation
	SourceID  *string `gorm:"type:uuid"                                      json:"source_id,omitempty"`
	BaseModel
}

// TableName 指定表名
func (PointsEntry) TableName() string { return "points_entries" }
