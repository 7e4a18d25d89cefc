package handler

import "hsgrowth/backend/internal/service"

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Auth       *AuthHandler
	Card       *CardHandler
	Automation *AutomationHandler
	Execution  *ExecutionHandler
	Transfer   *TransferHandler
	Ops        *OpsHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service) *Handler {
	return &Handler{
		Auth:       NewAuthHandler(svc.Auth),
		Card:       NewCardHandler(svc.Card),
		Automation: NewAutomationHandler(svc.Rule, svc.Execution),
		Execution:  NewExecutionHandler(svc.Execution),
		Transfer:   NewTransferHandler(svc.Transfer),
		Ops:        NewOpsHandler(svc.Trigger, svc.Transfer),
	}
}
