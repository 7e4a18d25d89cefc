package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"hsgrowth/backend/internal/dto"
	"hsgrowth/backend/internal/model"
	pkgerrors "hsgrowth/backend/pkg/errors"
)

// newTransferEnv 卡片 card-1 归属 seller-a，seller-b 为目标负责人，mgr 为审批人
func newTransferEnv() (*testEnv, *Service) {
	env := newTestEnv()
	env.addUser("seller-a", testAccount, model.RoleSeller)
	env.addUser("seller-b", testAccount, model.RoleSeller)
	env.addUser("mgr", testAccount, model.RoleManager)
	env.addUser("outsider", testOtherAccount, model.RoleSeller)
	env.addCard("card-1", "seller-a")
	return env, env.service(nil)
}

func requestTransfer(t *testing.T, svc *Service) *dto.TransferResponse {
	t.Helper()
	resp, err := svc.Transfer.RequestTransfer(context.Background(), testAccount, "seller-a", "card-1",
		&dto.TransferRequest{ToUserID: "seller-b", Reason: "区域调整"})
	if err != nil {
		t.Fatalf("发起转移失败: %v", err)
	}
	return resp
}

func ownerOf(env *testEnv, cardID string) string {
	return derefString(env.card(cardID).OwnerID)
}

// ═══════════════════════════════════════════════════════════
// RequestTransfer
// ═══════════════════════════════════════════════════════════

func TestRequestTransfer_CreatesPendingApproval(t *testing.T) {
	env, svc := newTransferEnv()

	resp := requestTransfer(t, svc)

	if resp.Status != model.TransferStatusPendingApproval {
		t.Errorf("期望 pending_approval，实际=%s", resp.Status)
	}
	if resp.Approval == nil || resp.Approval.Status != model.ApprovalStatusPending {
		t.Fatalf("应同时创建 pending 审批，实际=%+v", resp.Approval)
	}
	wantExpiry := testStart.Add(72 * time.Hour).Format(time.RFC3339)
	if resp.Approval.ExpiresAt != wantExpiry {
		t.Errorf("过期时间应为 %s，实际=%s", wantExpiry, resp.Approval.ExpiresAt)
	}
	if resp.FromUserID != "seller-a" {
		t.Errorf("from_user_id 应为原负责人，实际=%s", resp.FromUserID)
	}
	if ownerOf(env, "card-1") != "seller-a" {
		t.Error("审批通过前不应修改负责人")
	}
}

func TestRequestTransfer_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cardID  string
		to      string
		wantErr error
	}{
		{"卡片不存在", "missing", "seller-b", ErrCardNotFound},
		{"目标为当前负责人", "card-1", "seller-a", ErrTransferSameOwner},
		{"目标用户属于其他租户", "card-1", "outsider", ErrUserNotInAccount},
		{"目标用户不存在", "card-1", "ghost", ErrUserNotInAccount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, svc := newTransferEnv()
			_, err := svc.Transfer.RequestTransfer(context.Background(), testAccount, "seller-a", tt.cardID,
				&dto.TransferRequest{ToUserID: tt.to})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("期望 %v，实际: %v", tt.wantErr, err)
			}
		})
	}
}

func TestRequestTransfer_RejectsWhilePending(t *testing.T) {
	_, svc := newTransferEnv()
	requestTransfer(t, svc)

	_, err := svc.Transfer.RequestTransfer(context.Background(), testAccount, "seller-a", "card-1",
		&dto.TransferRequest{ToUserID: "mgr"})
	if !errors.Is(err, ErrTransferPending) {
		t.Errorf("期望 ErrTransferPending，实际: %v", err)
	}
	if !errors.Is(err, pkgerrors.ErrStateConflict) {
		t.Error("待审批冲突应归类为状态冲突")
	}
}

func TestRequestTransfer_WithoutApproval(t *testing.T) {
	env := newTestEnv()
	env.cfg.Transfer.RequireApproval = false
	env.addUser("seller-a", testAccount, model.RoleSeller)
	env.addUser("seller-b", testAccount, model.RoleSeller)
	env.addCard("card-1", "seller-a")
	env.addEventRule(testAccount, "transferred", `{"field":"owner_id","operator":"eq","value":"seller-b"}`,
		`[{"type":"create_notification","user_id":"{{owner_id}}","template":"你接手了 {{title}}"}]`, true)
	svc := env.service(nil)

	resp := requestTransfer(t, svc)

	if resp.Status != model.TransferStatusCompleted || resp.Approval != nil {
		t.Errorf("无需审批时应直接完成，实际 status=%s approval=%v", resp.Status, resp.Approval)
	}
	if ownerOf(env, "card-1") != "seller-b" {
		t.Errorf("负责人应立即变更，实际=%s", ownerOf(env, "card-1"))
	}
	if len(env.queue.ids) != 1 {
		t.Errorf("应派发 card.transferred，实际入队=%d", len(env.queue.ids))
	}
}

// ═══════════════════════════════════════════════════════════
// Decide
// ═══════════════════════════════════════════════════════════

func TestDecide_ApproveReassignsOwner(t *testing.T) {
	env, svc := newTransferEnv()
	env.addEventRule(testAccount, "transferred", `{}`,
		`[{"type":"award_points","user_id":"{{requested_by}}","amount":1,"reason":"移交"}]`, true)
	transfer := requestTransfer(t, svc)

	resp, err := svc.Transfer.Decide(context.Background(), testAccount, "mgr", transfer.Approval.ID,
		&dto.DecisionRequest{Decision: "approve", Comments: "同意"})
	if err != nil {
		t.Fatalf("审批应成功: %v", err)
	}

	if resp.Status != model.ApprovalStatusApproved || resp.ApproverID != "mgr" || resp.DecidedAt == "" {
		t.Errorf("审批响应不符: %+v", resp)
	}
	if resp.Transfer == nil || resp.Transfer.Status != model.TransferStatusCompleted {
		t.Errorf("转移记录应为 completed，实际=%+v", resp.Transfer)
	}
	if ownerOf(env, "card-1") != "seller-b" {
		t.Errorf("负责人应变更为 seller-b，实际=%s", ownerOf(env, "card-1"))
	}

	if len(env.notifications.items) != 1 {
		t.Fatalf("应通知发起人，实际通知数=%d", len(env.notifications.items))
	}
	n := env.notifications.items[0]
	if n.UserID != "seller-a" || n.Type != "transfer" || !containsAll(n.Message, "同意") {
		t.Errorf("通知内容不符: %+v", n)
	}

	execs := env.execs.all()
	if len(execs) != 1 || execs[0].TriggerSource != "card.transferred" {
		t.Fatalf("应派发一次 card.transferred，实际=%d", len(execs))
	}
	if execs[0].Context["owner_id"] != "seller-b" || execs[0].Context["previous_owner_id"] != "seller-a" {
		t.Errorf("事件上下文应包含新旧负责人，实际=%v", execs[0].Context)
	}
}

func TestDecide_RejectKeepsOwner(t *testing.T) {
	env, svc := newTransferEnv()
	transfer := requestTransfer(t, svc)

	resp, err := svc.Transfer.Decide(context.Background(), testAccount, "mgr", transfer.Approval.ID,
		&dto.DecisionRequest{Decision: "reject", Comments: "客户仍在跟进"})
	if err != nil {
		t.Fatalf("驳回应成功: %v", err)
	}
	if resp.Status != model.ApprovalStatusRejected || resp.Transfer.Status != model.TransferStatusRejected {
		t.Errorf("期望 rejected，实际 approval=%s transfer=%s", resp.Status, resp.Transfer.Status)
	}
	if ownerOf(env, "card-1") != "seller-a" {
		t.Error("驳回后负责人不应变化")
	}
	if len(env.execs.all()) != 0 {
		t.Error("驳回不应派发转移事件")
	}

	// 驳回后可以重新发起
	if _, err := svc.Transfer.RequestTransfer(context.Background(), testAccount, "seller-a", "card-1",
		&dto.TransferRequest{ToUserID: "seller-b"}); err != nil {
		t.Errorf("驳回后应允许重新发起: %v", err)
	}
}

func TestDecide_AfterExpiry(t *testing.T) {
	env, svc := newTransferEnv()
	transfer := requestTransfer(t, svc)

	env.clock.Advance(72 * time.Hour)

	_, err := svc.Transfer.Decide(context.Background(), testAccount, "mgr", transfer.Approval.ID,
		&dto.DecisionRequest{Decision: "approve"})
	if !errors.Is(err, ErrApprovalExpired) {
		t.Errorf("到期时刻起不能再审批，实际: %v", err)
	}
	if !errors.Is(err, pkgerrors.ErrStateConflict) {
		t.Error("过期应归类为状态冲突")
	}
	if ownerOf(env, "card-1") != "seller-a" {
		t.Error("过期审批不应修改负责人")
	}
}

func TestDecide_SelfApproval(t *testing.T) {
	env, svc := newTransferEnv()
	transfer := requestTransfer(t, svc)

	_, err := svc.Transfer.Decide(context.Background(), testAccount, "seller-a", transfer.Approval.ID,
		&dto.DecisionRequest{Decision: "approve"})
	if !errors.Is(err, ErrSelfApproval) {
		t.Errorf("期望 ErrSelfApproval，实际: %v", err)
	}

	env.cfg.Transfer.ForbidSelfApproval = false
	svc = env.service(nil)
	if _, err := svc.Transfer.Decide(context.Background(), testAccount, "seller-a", transfer.Approval.ID,
		&dto.DecisionRequest{Decision: "approve"}); err != nil {
		t.Errorf("关闭限制后发起人可自行审批: %v", err)
	}
}

func TestDecide_Twice(t *testing.T) {
	env, svc := newTransferEnv()
	transfer := requestTransfer(t, svc)
	ctx := context.Background()

	if _, err := svc.Transfer.Decide(ctx, testAccount, "mgr", transfer.Approval.ID, &dto.DecisionRequest{Decision: "reject"}); err != nil {
		t.Fatalf("首次审批应成功: %v", err)
	}
	_, err := svc.Transfer.Decide(ctx, testAccount, "mgr", transfer.Approval.ID, &dto.DecisionRequest{Decision: "approve"})
	if !errors.Is(err, ErrApprovalNotPending) {
		t.Errorf("终态审批不能再次决定，实际: %v", err)
	}
	if ownerOf(env, "card-1") != "seller-a" {
		t.Error("第二次决定不应生效")
	}
}

func TestDecide_NotFound(t *testing.T) {
	_, svc := newTransferEnv()
	transfer := requestTransfer(t, svc)

	_, err := svc.Transfer.Decide(context.Background(), testOtherAccount, "mgr", transfer.Approval.ID,
		&dto.DecisionRequest{Decision: "approve"})
	if !errors.Is(err, ErrApprovalNotFound) {
		t.Errorf("其他租户不应看到该审批，实际: %v", err)
	}
}

// ═══════════════════════════════════════════════════════════
// ExpireSweep / ListApprovals
// ═══════════════════════════════════════════════════════════

func TestExpireSweep_Idempotent(t *testing.T) {
	env, svc := newTransferEnv()
	transfer := requestTransfer(t, svc)
	ctx := context.Background()

	n, err := svc.Transfer.ExpireSweep(ctx, testStart.Add(71*time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("未到期时不应过期任何审批: n=%d err=%v", n, err)
	}

	n, err = svc.Transfer.ExpireSweep(ctx, testStart.Add(72*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("期望过期 1 条，实际 n=%d err=%v", n, err)
	}
	n, _ = svc.Transfer.ExpireSweep(ctx, testStart.Add(73*time.Hour))
	if n != 0 {
		t.Errorf("重复巡检不应再次处理，实际=%d", n)
	}

	list, total, err := svc.Transfer.ListApprovals(ctx, testAccount, &dto.ApprovalListRequest{Status: model.ApprovalStatusExpired})
	if err != nil || total != 1 {
		t.Fatalf("应能按 expired 筛选，total=%d err=%v", total, err)
	}
	if list[0].ID != transfer.Approval.ID || list[0].Transfer.Status != model.TransferStatusExpired {
		t.Errorf("过期审批与转移记录状态不符: %+v", list[0])
	}
	if list[0].DecidedAt != "" || list[0].ApproverID != "" {
		t.Errorf("过期审批不应有决定时间与审批人: decided_at=%q approver=%q", list[0].DecidedAt, list[0].ApproverID)
	}
	if ownerOf(env, "card-1") != "seller-a" {
		t.Error("过期不应修改负责人")
	}

	// 过期后可重新发起
	if _, err := svc.Transfer.RequestTransfer(ctx, testAccount, "seller-a", "card-1",
		&dto.TransferRequest{ToUserID: "seller-b"}); err != nil {
		t.Errorf("过期后应允许重新发起: %v", err)
	}
}
