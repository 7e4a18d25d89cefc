package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"hsgrowth/backend/config"
	"hsgrowth/backend/internal/automation"
	"hsgrowth/backend/internal/model"
	"hsgrowth/backend/internal/repository"
	"hsgrowth/backend/pkg/clock"
	pkgerrors "hsgrowth/backend/pkg/errors"
	"hsgrowth/backend/pkg/jwt"
)

// ── Mock UserRepository ──

type mockUserRepo struct {
	users map[string]*model.User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*model.User)}
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockUserRepo) ExistsInAccount(_ context.Context, accountID, userID string) (bool, error) {
	u, ok := m.users[userID]
	return ok && u.AccountID == accountID && u.IsActive, nil
}

// ── Mock CardRepository ──

type mockCardRepo struct {
	mu    sync.Mutex
	cards map[string]*model.Card
}

func newMockCardRepo() *mockCardRepo {
	return &mockCardRepo{cards: make(map[string]*model.Card)}
}

func (m *mockCardRepo) GetByID(_ context.Context, accountID, id string) (*model.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[id]
	if !ok || c.AccountID != accountID {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCardRepo) ListOpenByAccount(_ context.Context, accountID string) ([]model.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Card
	for _, c := range m.cards {
		if c.AccountID == accountID && c.Status == model.CardStatusOpen {
			result = append(result, *c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CardID < result[j].CardID })
	return result, nil
}

func (m *mockCardRepo) UpdateFields(_ context.Context, card *model.Card, columns map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.cards[card.CardID]
	if !ok || stored.Version != card.Version {
		return pkgerrors.ErrOptimisticLock
	}
	for k, v := range columns {
		switch k {
		case "title":
			stored.Title = v.(string)
		case "description":
			stored.Description = v.(string)
		case "status":
			stored.Status = v.(string)
		case "value":
			stored.Value = v.(float64)
		case "list_id":
			stored.ListID = v.(string)
		case "owner_id":
			if v == nil {
				stored.OwnerID = nil
			} else {
				s := v.(string)
				stored.OwnerID = &s
			}
		case "due_date":
			if v == nil {
				stored.DueDate = nil
			} else {
				t := v.(time.Time)
				stored.DueDate = &t
			}
		case "custom_fields":
			stored.CustomFields = v.(datatypes.JSONMap)
		case "last_activity_at":
			stored.LastActivityAt = v.(time.Time)
		}
	}
	stored.Version++
	card.Version = stored.Version
	return nil
}

func (m *mockCardRepo) reassign(cardID, ownerID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cards[cardID]; ok {
		owner := ownerID
		c.OwnerID = &owner
		c.LastActivityAt = at
		c.Version++
	}
}

// ── Mock BoardListRepository ──

type mockBoardListRepo struct {
	lists map[string]*model.BoardList
}

func newMockBoardListRepo() *mockBoardListRepo {
	return &mockBoardListRepo{lists: make(map[string]*model.BoardList)}
}

func (m *mockBoardListRepo) GetByID(_ context.Context, id string) (*model.BoardList, error) {
	if l, ok := m.lists[id]; ok {
		return l, nil
	}
	return nil, gorm.ErrRecordNotFound
}

// ── Mock NotificationRepository / PointsRepository ──

type mockNotificationRepo struct {
	mu    sync.Mutex
	items []model.Notification
}

func (m *mockNotificationRepo) Create(_ context.Context, n *model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, *n)
	return nil
}

type mockPointsRepo struct {
	mu      sync.Mutex
	entries []model.PointsEntry
}

func (m *mockPointsRepo) Create(_ context.Context, e *model.PointsEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

// ── Mock AutomationRuleRepository ──

type mockRuleRepo struct {
	mu    sync.Mutex
	rules map[string]*model.AutomationRule
	seq   int
	// beforeCAS 在比较游标前调用，用于模拟并发巡检抢先推进游标
	beforeCAS func(rule *model.AutomationRule)
	// beforeUpdate 在 Update 写入前调用（不持锁），用于在读取与写入之间插入一次巡检
	beforeUpdate func()
	// getErrs 依次作为 GetByID 的返回错误，用完后恢复正常
	getErrs []error
}

func newMockRuleRepo() *mockRuleRepo {
	return &mockRuleRepo{rules: make(map[string]*model.AutomationRule)}
}

func (m *mockRuleRepo) Create(_ context.Context, rule *model.AutomationRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rule.RuleID == "" {
		m.seq++
		rule.RuleID = fmt.Sprintf("rule-%d", m.seq)
	}
	cp := *rule
	m.rules[rule.RuleID] = &cp
	return nil
}

func (m *mockRuleRepo) GetByID(_ context.Context, accountID, id string) (*model.AutomationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.getErrs) > 0 {
		err := m.getErrs[0]
		m.getErrs = m.getErrs[1:]
		return nil, err
	}
	r, ok := m.rules[id]
	if !ok || r.AccountID != accountID {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRuleRepo) List(_ context.Context, accountID string, filter repository.RuleFilter, offset, limit int) ([]model.AutomationRule, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.AutomationRule
	for _, r := range m.rules {
		if r.AccountID != accountID {
			continue
		}
		if filter.TriggerKind != "" && r.TriggerKind != filter.TriggerKind {
			continue
		}
		if filter.Enabled != nil && r.Enabled != *filter.Enabled {
			continue
		}
		result = append(result, *r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RuleID < result[j].RuleID })
	total := int64(len(result))
	if offset >= len(result) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], total, nil
}

func (m *mockRuleRepo) Update(_ context.Context, rule *model.AutomationRule, reset *repository.CursorReset) error {
	if hook := m.beforeUpdate; hook != nil {
		m.beforeUpdate = nil
		hook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rules[rule.RuleID]
	if !ok || existing.AccountID != rule.AccountID {
		return gorm.ErrRecordNotFound
	}
	if reset != nil && !sameCursor(existing.LastFiredAt, reset.Prev) {
		return pkgerrors.ErrStateConflict
	}

	cp := *rule
	cp.LastFiredAt, cp.State = existing.LastFiredAt, existing.State
	if reset != nil {
		cp.LastFiredAt, cp.State = reset.LastFiredAt, reset.State
	}
	m.rules[rule.RuleID] = &cp
	return nil
}

func sameCursor(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (m *mockRuleRepo) SetEnabled(_ context.Context, accountID, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok || r.AccountID != accountID {
		return gorm.ErrRecordNotFound
	}
	r.Enabled = enabled
	return nil
}

func (m *mockRuleRepo) Delete(_ context.Context, accountID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok || r.AccountID != accountID {
		return gorm.ErrRecordNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *mockRuleRepo) ListEnabledByEvent(_ context.Context, accountID, entity, event string) ([]model.AutomationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.AutomationRule
	for _, r := range m.rules {
		if r.AccountID == accountID && r.Enabled && r.TriggerKind == model.TriggerOnEvent &&
			derefString(r.EventEntity) == entity && derefString(r.EventName) == event {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RuleID < result[j].RuleID })
	return result, nil
}

func (m *mockRuleRepo) ListEnabledScheduled(_ context.Context) ([]model.AutomationRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.AutomationRule
	for _, r := range m.rules {
		if r.Enabled && r.TriggerKind == model.TriggerScheduled {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RuleID < result[j].RuleID })
	return result, nil
}

func (m *mockRuleRepo) AdvanceCursor(_ context.Context, ruleID string, prev *time.Time, next time.Time, state datatypes.JSONMap) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[ruleID]
	if !ok {
		return false, nil
	}
	if m.beforeCAS != nil {
		m.beforeCAS(r)
	}
	if !sameCursor(r.LastFiredAt, prev) {
		return false, nil
	}
	n := next
	r.LastFiredAt = &n
	r.State = state
	return true, nil
}

// ── Mock AutomationExecutionRepository ──

type mockExecutionRepo struct {
	mu    sync.Mutex
	execs map[string]*model.AutomationExecution
	order []string
	rules *mockRuleRepo
	clock clock.Clock

	// completeErrs 依次作为 Complete 的返回错误，用完后恢复正常
	completeErrs  []error
	completeCalls int
}

func newMockExecutionRepo(rules *mockRuleRepo, clk clock.Clock) *mockExecutionRepo {
	return &mockExecutionRepo{execs: make(map[string]*model.AutomationExecution), rules: rules, clock: clk}
}

func (m *mockExecutionRepo) Create(_ context.Context, exec *model.AutomationExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exec.ExecutionID == "" {
		exec.ExecutionID = fmt.Sprintf("exec-%d", len(m.order)+1)
	}
	exec.CreatedAt = m.clock.Now()
	cp := *exec
	m.execs[exec.ExecutionID] = &cp
	m.order = append(m.order, exec.ExecutionID)
	return nil
}

func (m *mockExecutionRepo) GetByID(_ context.Context, id string) (*model.AutomationExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *mockExecutionRepo) GetForAccount(ctx context.Context, accountID, id string) (*model.AutomationExecution, error) {
	e, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.AccountID != accountID {
		return nil, gorm.ErrRecordNotFound
	}
	if r, err := m.rules.GetByID(ctx, accountID, e.RuleID); err == nil {
		e.Rule = r
	}
	return e, nil
}

func (m *mockExecutionRepo) List(_ context.Context, accountID string, filter repository.ExecutionFilter, offset, limit int) ([]model.AutomationExecution, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.AutomationExecution
	for i := len(m.order) - 1; i >= 0; i-- {
		e := m.execs[m.order[i]]
		if e.AccountID != accountID {
			continue
		}
		if filter.RuleID != "" && e.RuleID != filter.RuleID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.From != nil && e.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !e.CreatedAt.Before(*filter.To) {
			continue
		}
		result = append(result, *e)
	}
	total := int64(len(result))
	if offset >= len(result) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], total, nil
}

func (m *mockExecutionRepo) Claim(_ context.Context, id string, at, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok || e.Status != model.ExecutionStatusPending {
		return false, nil
	}
	if e.StartedAt != nil && !e.StartedAt.Before(staleBefore) {
		return false, nil
	}
	t := at
	e.StartedAt = &t
	return true, nil
}

func (m *mockExecutionRepo) Complete(_ context.Context, exec *model.AutomationExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeCalls++
	if len(m.completeErrs) > 0 {
		err := m.completeErrs[0]
		m.completeErrs = m.completeErrs[1:]
		return err
	}
	e, ok := m.execs[exec.ExecutionID]
	if !ok || e.Status != model.ExecutionStatusPending {
		return pkgerrors.ErrStateConflict
	}
	cp := *exec
	m.execs[exec.ExecutionID] = &cp
	return nil
}

func (m *mockExecutionRepo) ListStalled(_ context.Context, before time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, id := range m.order {
		e := m.execs[id]
		if e.Status != model.ExecutionStatusPending {
			continue
		}
		since := e.CreatedAt
		if e.StartedAt != nil {
			since = *e.StartedAt
		}
		if since.Before(before) && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *mockExecutionRepo) all() []model.AutomationExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]model.AutomationExecution, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, *m.execs[id])
	}
	return result
}

// ── Mock TransferRepository / TransferApprovalRepository ──

type mockTransferRepo struct {
	mu        sync.Mutex
	transfers map[string]*model.CardTransfer
	approvals map[string]*model.TransferApproval
	cards     *mockCardRepo
	clock     clock.Clock
	seq       int
}

func newMockTransferRepo(cards *mockCardRepo, clk clock.Clock) *mockTransferRepo {
	return &mockTransferRepo{
		transfers: make(map[string]*model.CardTransfer),
		approvals: make(map[string]*model.TransferApproval),
		cards:     cards,
		clock:     clk,
	}
}

func (m *mockTransferRepo) Create(_ context.Context, transfer *model.CardTransfer, approval *model.TransferApproval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	transfer.TransferID = fmt.Sprintf("transfer-%d", m.seq)
	transfer.CreatedAt = m.clock.Now()
	cp := *transfer
	cp.Approval = nil
	m.transfers[transfer.TransferID] = &cp

	if approval != nil {
		approval.ApprovalID = fmt.Sprintf("approval-%d", m.seq)
		approval.TransferID = transfer.TransferID
		acp := *approval
		m.approvals[approval.ApprovalID] = &acp
		return nil
	}
	m.cards.reassign(transfer.CardID, transfer.ToUserID, m.clock.Now())
	return nil
}

func (m *mockTransferRepo) GetByID(_ context.Context, accountID, id string) (*model.CardTransfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok || t.AccountID != accountID {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockTransferRepo) HasPending(_ context.Context, cardID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transfers {
		if t.CardID == cardID && t.Status == model.TransferStatusPendingApproval {
			return true, nil
		}
	}
	return false, nil
}

// mockApprovalRepo 与 mockTransferRepo 共享存储，模拟同库事务
type mockApprovalRepo struct {
	store *mockTransferRepo
}

func (m *mockApprovalRepo) withTransfer(a *model.TransferApproval) *model.TransferApproval {
	cp := *a
	if t, ok := m.store.transfers[a.TransferID]; ok {
		tcp := *t
		cp.Transfer = &tcp
	}
	return &cp
}

func (m *mockApprovalRepo) GetByID(_ context.Context, accountID, id string) (*model.TransferApproval, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	a, ok := m.store.approvals[id]
	if !ok || a.AccountID != accountID {
		return nil, gorm.ErrRecordNotFound
	}
	return m.withTransfer(a), nil
}

func (m *mockApprovalRepo) List(_ context.Context, accountID, status string, offset, limit int) ([]model.TransferApproval, int64, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var result []model.TransferApproval
	for _, a := range m.store.approvals {
		if a.AccountID == accountID && (status == "" || a.Status == status) {
			result = append(result, *m.withTransfer(a))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	total := int64(len(result))
	if offset >= len(result) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], total, nil
}

func (m *mockApprovalRepo) Decide(_ context.Context, d repository.ApprovalDecision) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	a, ok := m.store.approvals[d.ApprovalID]
	if !ok || a.AccountID != d.AccountID || a.Status != model.ApprovalStatusPending || !a.ExpiresAt.After(d.Now) {
		return pkgerrors.ErrStateConflict
	}
	now := d.Now
	approver := d.ApproverID
	a.ApproverID = &approver
	a.DecidedAt = &now
	a.Comments = d.Comments

	t := m.store.transfers[d.TransferID]
	if d.Approve {
		a.Status = model.ApprovalStatusApproved
		t.Status = model.TransferStatusCompleted
		t.CompletedAt = &now
		m.store.cards.reassign(d.CardID, d.ToUserID, now)
	} else {
		a.Status = model.ApprovalStatusRejected
		t.Status = model.TransferStatusRejected
	}
	return nil
}

func (m *mockApprovalRepo) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var n int64
	for _, a := range m.store.approvals {
		if a.Status == model.ApprovalStatusPending && !a.ExpiresAt.After(now) {
			a.Status = model.ApprovalStatusExpired
			a.UpdatedAt = now
			if t, ok := m.store.transfers[a.TransferID]; ok && t.Status == model.TransferStatusPendingApproval {
				t.Status = model.TransferStatusExpired
			}
			n++
		}
	}
	return n, nil
}

// ── Mock 队列 / 巡检锁 / Webhook ──

type mockQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (m *mockQueue) Enqueue(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.ids = append(m.ids, executionID)
	return nil
}

type mockLocker struct {
	held     bool
	acquired int
	released int
}

func (m *mockLocker) TryLock(_ context.Context, _ string, _ time.Duration) (string, bool, error) {
	if m.held {
		return "", false, nil
	}
	m.acquired++
	return "token", true, nil
}

func (m *mockLocker) Unlock(_ context.Context, _, _ string) error {
	m.released++
	return nil
}

type mockWebhook struct {
	mu       sync.Mutex
	status   int
	payloads []any
}

func (m *mockWebhook) Post(_ context.Context, _ string, payload any, _ time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payload)
	if m.status == 0 {
		return 200, nil
	}
	return m.status, nil
}

// ── 测试环境 ──

const (
	testAccount      = "acc-1"
	testOtherAccount = "acc-2"
	testBoard        = "board-1"
	testListLead     = "list-lead"
	testListWon      = "list-won"
)

var testStart = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	cfg           *config.Config
	clock         *clock.Fixed
	users         *mockUserRepo
	cards         *mockCardRepo
	lists         *mockBoardListRepo
	notifications *mockNotificationRepo
	points        *mockPointsRepo
	rules         *mockRuleRepo
	execs         *mockExecutionRepo
	transfers     *mockTransferRepo
	queue         *mockQueue
	webhook       *mockWebhook
	repo          *repository.Repository
}

func newTestConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:      "test-secret-key-for-unit-testing-2026",
			AccessTokenTTL: 15 * time.Minute,
		},
		Automation: config.AutomationConfig{
			WorkerConcurrency: 2,
			WebhookTimeout:    time.Second,
			SweepLockTTL:      time.Minute,
		},
		Transfer: config.TransferConfig{
			RequireApproval:    true,
			ApprovalWindow:     72 * time.Hour,
			ForbidSelfApproval: true,
		},
	}
}

func newTestEnv() *testEnv {
	clk := clock.NewFixed(testStart)
	env := &testEnv{
		cfg:           newTestConfig(),
		clock:         clk,
		users:         newMockUserRepo(),
		cards:         newMockCardRepo(),
		lists:         newMockBoardListRepo(),
		notifications: &mockNotificationRepo{},
		points:        &mockPointsRepo{},
		rules:         newMockRuleRepo(),
		queue:         &mockQueue{},
		webhook:       &mockWebhook{},
	}
	env.execs = newMockExecutionRepo(env.rules, clk)
	env.transfers = newMockTransferRepo(env.cards, clk)
	env.repo = &repository.Repository{
		User:                env.users,
		Card:                env.cards,
		BoardList:           env.lists,
		Notification:        env.notifications,
		Points:              env.points,
		AutomationRule:      env.rules,
		AutomationExecution: env.execs,
		Transfer:            env.transfers,
		TransferApproval:    &mockApprovalRepo{store: env.transfers},
	}

	for _, id := range []string{testListLead, testListWon} {
		env.lists.lists[id] = &model.BoardList{ListID: id, BoardID: testBoard, Name: id}
	}
	env.lists.lists["list-other-board"] = &model.BoardList{ListID: "list-other-board", BoardID: "board-2"}
	return env
}

func (e *testEnv) service(locker SweepLocker) *Service {
	return NewService(e.cfg, e.repo, jwt.NewManager(&e.cfg.Auth), e.queue, locker, e.webhook, e.clock, zap.NewNop())
}

func (e *testEnv) addUser(id, accountID, role string) *model.User {
	u := &model.User{
		UserID:    id,
		AccountID: accountID,
		Name:      "用户 " + id,
		Email:     id + "@test.com",
		Role:      role,
		IsActive:  true,
	}
	e.users.users[id] = u
	return u
}

func (e *testEnv) addCard(id, ownerID string) *model.Card {
	c := &model.Card{
		CardID:         id,
		AccountID:      testAccount,
		BoardID:        testBoard,
		ListID:         testListLead,
		Title:          "商机 " + id,
		Value:          500,
		Status:         model.CardStatusOpen,
		LastActivityAt: testStart,
	}
	c.CreatedAt = testStart.Add(-30 * 24 * time.Hour)
	c.Version = 1
	if ownerID != "" {
		owner := ownerID
		c.OwnerID = &owner
	}
	e.cards.cards[id] = c
	return c
}

// addEventRule 直接写入一条事件规则（绕过校验，便于构造异常数据）
func (e *testEnv) addEventRule(accountID, event, condition, actions string, enabled bool) *model.AutomationRule {
	entity := "card"
	name := event
	r := &model.AutomationRule{
		AccountID:   accountID,
		Name:        "事件规则 " + event,
		TriggerKind: model.TriggerOnEvent,
		EventEntity: &entity,
		EventName:   &name,
		Condition:   datatypes.JSON(condition),
		Actions:     datatypes.JSON(actions),
		Enabled:     enabled,
	}
	r.CreatedAt = testStart.Add(-time.Hour)
	_ = e.rules.Create(context.Background(), r)
	return r
}

func (e *testEnv) addScheduledRule(cron, scope, condition, actions string, lastFired *time.Time) *model.AutomationRule {
	expr := cron
	r := &model.AutomationRule{
		AccountID:      testAccount,
		Name:           "定时规则 " + cron,
		TriggerKind:    model.TriggerScheduled,
		CronExpression: &expr,
		ScopeEntity:    scope,
		Condition:      datatypes.JSON(condition),
		Actions:        datatypes.JSON(actions),
		Enabled:        true,
		LastFiredAt:    lastFired,
	}
	r.CreatedAt = testStart.Add(-24 * time.Hour)
	_ = e.rules.Create(context.Background(), r)
	return r
}

func (e *testEnv) rule(id string) *model.AutomationRule {
	r, _ := e.rules.GetByID(context.Background(), testAccount, id)
	return r
}

func (e *testEnv) card(id string) *model.Card {
	c, _ := e.cards.GetByID(context.Background(), testAccount, id)
	return c
}

// invocationCtx 模拟 worker 执行时的上下文
func invocationCtx(accountID string) context.Context {
	return automation.WithInvocation(context.Background(), automation.Invocation{AccountID: accountID, ExecutionID: "exec-test"})
}

func ptrTime(t time.Time) *time.Time { return &t }

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
