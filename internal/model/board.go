package model

import (
	"time"

	"gorm.io/datatypes"
)

// Board 看板表，对应 boards
type Board struct {
	BoardID     string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"board_id"`
	AccountID   string `gorm:"type:uuid;not null;index"                       json:"account_id"`
	Name        string `gorm:"type:varchar(200);not null"                     json:"name"`
	Description string `gorm:"type:text"                                      json:"description,omitempty"`
	SoftDeleteModel

	Lists []BoardList `gorm:"foreignKey:BoardID;references:BoardID" json:"lists,omitempty"`
}

// TableName 指定表名
func (Board) TableName() string { return "boards" }

// BoardList 看板列（销售阶段），对应 board_lists
type BoardList struct {
	ListID   string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"list_id"`
	BoardID  string `gorm:"type:uuid;not null;index"                       json:"board_id"`
	Name     string `gorm:"type:varchar(100);not null"                     json:"name"`
	Position int    `gorm:"not null;default:0"                             json:"position"`
	BaseModel
}

// TableName 指定表名
func (BoardList) TableName() string { return "board_lists" }

// 卡片状态
const (
	CardStatusOpen = "open"
	CardStatusWon  = "won"
	CardStatusLost = "lost"
)

// Card 卡片（商机），对应 cards
type Card struct {
	CardID         string            `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"card_id"`
	AccountID      string            `gorm:"type:uuid;not null;index"                       json:"account_id"`
	BoardID        string            `gorm:"type:uuid;not null;index"                       json:"board_id"`
	ListID         string            `gorm:"type:uuid;not null;index"                       json:"list_id"`
	Title          string            `gorm:"type:varchar(255);not null"                     json:"title"`
	Description    string            `gorm:"type:text"                                      json:"description,omitempty"`
	Value          float64           `gorm:"type:numeric(14,2);not null;default:0"          json:"value"`
	Status         string            `gorm:"type:varchar(20);not null;default:'open'"       json:"status"`
	OwnerID        *string           `gorm:"type:uuid;index"                                json:"owner_id,omitempty"`
	DueDate        *time.Time        `json:"due_date,omitempty"`
	LastActivityAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"last_activity_at"`
	CustomFields   datatypes.JSONMap `gorm:"type:jsonb"                                     json:"custom_fields,omitempty"`
	VersionedModel

	List *BoardList `gorm:"foreignKey:ListID;references:ListID" json:"list,omitempty"`
}

// TableName 指定表名
func (Card) TableName() string { return "cards" }
