package repository

import "gorm.io/gorm"

// Repository 所有 Repository 的聚合入口
type Repository struct {
	User                UserRepository
	Card                CardRepository
	BoardList           BoardListRepository
	Notification        NotificationRepository
	Points              PointsRepository
	AutomationRule      AutomationRuleRepository
	AutomationExecution AutomationExecutionRepository
	Transfer            TransferRepository
	TransferApproval    TransferApprovalRepository
}

// NewRepository 创建 Repository 聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		User:                NewUserRepo(db),
		Card:                NewCardRepo(db),
		BoardList:           NewBoardListRepo(db),
		Notification:        NewNotificationRepo(db),
		Points:              NewPointsRepo(db),
		AutomationRule:      NewAutomationRuleRepo(db),
		AutomationExecution: NewAutomationExecutionRepo(db),
		Transfer:            NewTransferRepo(db),
		TransferApproval:    NewTransferApprovalRepo(db),
	}
}
