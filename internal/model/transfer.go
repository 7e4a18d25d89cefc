package model

import "time"

// 卡片转移状态
const (
	TransferStatusPendingApproval = "pending_approval"
	TransferStatusCompleted       = "completed"
	TransferStatusRejected        = "rejected"
	TransferStatusExpired         = "expired"
)

// CardTransfer 卡片归属转移记录，对应 card_transfers
type CardTransfer struct {
	TransferID  string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"       json:"transfer_id"`
	AccountID   string     `gorm:"type:uuid;not null;index"                             json:"account_id"`
	CardID      string     `gorm:"type:uuid;not null;index"                             json:"card_id"`
	FromUserID  *string    `gorm:"type:uuid"                                            json:"from_user_id,omitempty"`
	ToUserID    string     `gorm:"type:uuid;not null"                                   json:"to_user_id"`
	RequestedBy string     `gorm:"type:uuid;not null"                                   json:"requested_by"`
	Reason      string     `gorm:"type:varchar(500)"                                    json:"reason,omitempty"`
	Status      string     `gorm:"type:varchar(20);not null;default:'pending_approval'" json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	BaseModel

	Approval *TransferApproval `gorm:"foreignKey:TransferID;references:TransferID" json:"approval,omitempty"`
}

// TableName 指定表名
func (CardTransfer) TableName() string { return "card_transfers" }

// 审批状态：pending → approved | rejected | expired（终态）
const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
	ApprovalStatusExpired  = "expired"
)

// TransferApproval 转移审批，对应 transfer_approvals（与 card_transfers 1:1）
type TransferApproval struct {
	ApprovalID string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"approval_id"`
	AccountID  string     `gorm:"type:uuid;not null;index"                       json:"account_id"`
	TransferID string     `gorm:"type:uuid;not null;uniqueIndex"                 json:"transfer_id"`
	ApproverID *string    `gorm:"type:uuid"                                      json:"approver_id,omitempty"`
	Status     string     `gorm:"type:varchar(20);not null;default:'pending'"    json:"status"`
	ExpiresAt  time.Time  `gorm:"not null;index"                                 json:"expires_at"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
	Comments   string     `gorm:"type:varchar(1000)"                             json:"comments,omitempty"`
	BaseModel

	Transfer *CardTransfer `gorm:"foreignKey:TransferID;references:TransferID" json:"transfer,omitempty"`
}

// TableName 指定表名
func (TransferApproval) TableName() string { return "transfer_approvals" }

// IsTerminal 是否已处于终态
func (a *TransferApproval) IsTerminal() bool {
	return a.Status != ApprovalStatusPending
}
