package dto

// ── 卡片 DTO ──

// MoveCardRequest 移动卡片
type MoveCardRequest struct {
	ListID  string `json:"list_id" binding:"required,uuid"`
	Version int    `json:"version" binding:"required,min=1"`
}

// UpdateCardRequest 更新卡片；只更新非空字段
type UpdateCardRequest struct {
	Title        *string        `json:"title"         binding:"omitempty,min=1,max=255"`
	Description  *string        `json:"description"`
	Value        *float64       `json:"value"         binding:"omitempty,min=0"`
	Status       *string        `json:"status"        binding:"omitempty,oneof=open won lost"`
	DueDate      *string        `json:"due_date"`
	CustomFields map[string]any `json:"custom_fields"`
	Version      int            `json:"version"       binding:"required,min=1"`
}

// CardResponse 卡片响应
type CardResponse struct {
	ID             string         `json:"id"`
	BoardID        string         `json:"board_id"`
	ListID         string         `json:"list_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Value          float64        `json:"value"`
	Status         string         `json:"status"`
	OwnerID        string         `json:"owner_id,omitempty"`
	DueDate        string         `json:"due_date,omitempty"`
	CustomFields   map[string]any `json:"custom_fields,omitempty"`
	LastActivityAt string         `json:"last_activity_at"`
	Version        int            `json:"version"`
}

// ── 转移审批 DTO ──

// TransferRequest 发起卡片转移
type TransferRequest struct {
	ToUserID string `json:"to_user_id" binding:"required,uuid"`
	Reason   string `json:"reason"     binding:"max=500"`
}

// TransferResponse 转移记录响应
type TransferResponse struct {
	ID          string            `json:"id"`
	CardID      string            `json:"card_id"`
	FromUserID  string            `json:"from_user_id,omitempty"`
	ToUserID    string            `json:"to_user_id"`
	RequestedBy string            `json:"requested_by"`
	Reason      string            `json:"reason,omitempty"`
	Status      string            `json:"status"`
	CompletedAt string            `json:"completed_at,omitempty"`
	Approval    *ApprovalResponse `json:"approval,omitempty"`
	CreatedAt   string            `json:"created_at"`
}

// ApprovalListRequest 审批列表筛选
type ApprovalListRequest struct {
	Status string `form:"status" binding:"omitempty,oneof=pending approved rejected expired"`
	PaginationRequest
}

// DecisionRequest 审批决定
type DecisionRequest struct {
	Decision string `json:"decision" binding:"required,oneof=approve reject"`
	Comments string `json:"comments" binding:"max=1000"`
}

// ApprovalResponse 审批响应
type ApprovalResponse struct {
	ID         string            `json:"id"`
	TransferID string            `json:"transfer_id"`
	ApproverID string            `json:"approver_id,omitempty"`
	Status     string            `json:"status"`
	ExpiresAt  string            `json:"expires_at"`
	DecidedAt  string            `json:"decided_at,omitempty"`
	Comments   string            `json:"comments,omitempty"`
	Transfer   *TransferResponse `json:"transfer,omitempty"`
}
