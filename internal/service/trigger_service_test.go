package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"hsgrowth/backend/internal/model"
)

const notifyOwnerActions = `[{"type":"create_notification","user_id":"{{owner_id}}","template":"{{title}} 有新动态"}]`

// ═══════════════════════════════════════════════════════════
// OnEvent
// ═══════════════════════════════════════════════════════════

func TestOnEvent_DispatchesOnePerMatchingRule(t *testing.T) {
	env := newTestEnv()
	svc := env.service(nil)
	card := env.addCard("card-1", "u-1")

	match := env.addEventRule(testAccount, "moved", `{"field":"list_id","operator":"eq","value":"list-won"}`, notifyOwnerActions, true)
	env.addEventRule(testAccount, "moved", `{"field":"value","operator":"gt","value":1000}`, notifyOwnerActions, true)
	env.addEventRule(testAccount, "moved", `{"field":"list_id","operator":"eq","value":"list-won"}`, notifyOwnerActions, false)
	env.addEventRule(testAccount, "updated", `{}`, notifyOwnerActions, true)
	env.addEventRule(testOtherAccount, "moved", `{}`, notifyOwnerActions, true)

	n, err := svc.Trigger.OnEvent(context.Background(), Event{
		AccountID: testAccount,
		Entity:    "card",
		Name:      "moved",
		SubjectID: card.CardID,
		Snapshot:  cardSnapshot(card),
		Changeset: map[string]any{"list_id": testListWon, "previous_list_id": testListLead},
	})
	if err != nil {
		t.Fatalf("OnEvent 应成功: %v", err)
	}
	if n != 1 {
		t.Fatalf("期望派发 1 个执行，实际=%d", n)
	}

	execs := env.execs.all()
	if len(execs) != 1 {
		t.Fatalf("期望 1 条执行记录，实际=%d", len(execs))
	}
	exec := execs[0]
	if exec.RuleID != match.RuleID {
		t.Errorf("期望规则 %s，实际=%s", match.RuleID, exec.RuleID)
	}
	if exec.Status != model.ExecutionStatusPending {
		t.Errorf("期望 pending，实际=%s", exec.Status)
	}
	if exec.TriggerSource != "card.moved" {
		t.Errorf("期望 trigger_source=card.moved，实际=%s", exec.TriggerSource)
	}
	if exec.SubjectID == nil || *exec.SubjectID != "card-1" {
		t.Errorf("期望作用对象 card-1，实际=%v", exec.SubjectID)
	}
	if exec.Context["list_id"] != testListWon || exec.Context["previous_list_id"] != testListLead {
		t.Errorf("执行上下文应叠加变更集，实际=%v", exec.Context)
	}
	if len(env.queue.ids) != 1 || env.queue.ids[0] != exec.ExecutionID {
		t.Errorf("执行应入队，实际队列=%v", env.queue.ids)
	}
}

func TestOnEvent_NoMatchingRules(t *testing.T) {
	env := newTestEnv()
	svc := env.service(nil)
	card := env.addCard("card-1", "u-1")
	env.addEventRule(testAccount, "moved", `{"field":"status","operator":"eq","value":"won"}`, notifyOwnerActions, true)

	n, err := svc.Trigger.OnEvent(context.Background(), Event{
		AccountID: testAccount, Entity: "card", Name: "moved", SubjectID: card.CardID,
		Snapshot: cardSnapshot(card),
	})
	if err != nil {
		t.Fatalf("OnEvent 应成功: %v", err)
	}
	if n != 0 || len(env.execs.all()) != 0 || len(env.queue.ids) != 0 {
		t.Errorf("不匹配的规则不应派发，n=%d", n)
	}
}

func TestOnEvent_MissingFieldNeverMatches(t *testing.T) {
	env := newTestEnv()
	svc := env.service(nil)
	card := env.addCard("card-1", "")
	env.addEventRule(testAccount, "updated", `{"field":"custom.region","operator":"neq","value":"north"}`, notifyOwnerActions, true)

	n, _ := svc.Trigger.OnEvent(context.Background(), Event{
		AccountID: testAccount, Entity: "card", Name: "updated", SubjectID: card.CardID,
		Snapshot: cardSnapshot(card),
	})
	if n != 0 {
		t.Errorf("缺失字段的比较应为 false，实际派发=%d", n)
	}
}

func TestOnEvent_CorruptRuleSkipped(t *testing.T) {
	env := newTestEnv()
	svc := env.service(nil)
	card := env.addCard("card-1", "u-1")
	env.addEventRule(testAccount, "moved", `{"field":"value","operator":"between","value":1}`, notifyOwnerActions, true)
	env.addEventRule(testAccount, "moved", `{}`, notifyOwnerActions, true)

	n, err := svc.Trigger.OnEvent(context.Background(), Event{
		AccountID: testAccount, Entity: "card", Name: "moved", SubjectID: card.CardID,
		Snapshot: cardSnapshot(card),
	})
	if err != nil {
		t.Fatalf("损坏的规则不应导致事件失败: %v", err)
	}
	if n != 1 {
		t.Errorf("期望其余规则照常派发 1 个，实际=%d", n)
	}
}

func TestOnEvent_EnqueueFailure(t *testing.T) {
	env := newTestEnv()
	env.queue.err = errors.New("redis down")
	svc := env.service(nil)
	card := env.addCard("card-1", "u-1")
	env.addEventRule(testAccount, "moved", `{}`, notifyOwnerActions, true)

	_, err := svc.Trigger.OnEvent(context.Background(), Event{
		AccountID: testAccount, Entity: "card", Name: "moved", SubjectID: card.CardID,
		Snapshot: cardSnapshot(card),
	})
	if err == nil {
		t.Fatal("入队失败应返回错误")
	}
	execs := env.execs.all()
	if len(execs) != 1 || execs[0].Status != model.ExecutionStatusPending {
		t.Errorf("入队失败时执行记录应保留为 pending，实际=%v", execs)
	}
}

// ═══════════════════════════════════════════════════════════
// RunDue
// ═══════════════════════════════════════════════════════════

const remindActions = `[{"type":"create_notification","user_id":"u-1","template":"整点提醒"}]`

func TestRunDue_HourlyRuleFiresOncePerWindow(t *testing.T) {
	env := newTestEnv()
	svc := env.service(nil)
	env.addUser("u-1", testAccount, model.RoleSeller)
	rule := env.addScheduledRule("0 * * * *", "", `{}`, remindActions, ptrTime(testStart))

	for _, offset := range []time.Duration{0, 30 * time.Minute, 59 * time.Minute} {
		res, err := svc.Trigger.RunDue(context.Background(), testStart.Add(offset))
		if err != nil {
			t.Fatalf("RunDue 应成功: %v", err)
		}
		if res.RulesFired != 0 {
			t.Errorf("窗口 [T, T+1h) 内不应再次触发，offset=%v", offset)
		}
	}

	res, err := svc.Trigger.RunDue(context.Background(), testStart.Add(65*time.Minute))
	if err != nil {
		t.Fatalf("RunDue 应成功: %v", err)
	}
	if res.RulesChecked != 1 || res.RulesFired != 1 || res.Dispatched != 1 {
		t.Errorf("期望触发并派发 1 次，实际=%+v", res)
	}
	if got := env.rule(rule.RuleID).LastFiredAt; got == nil || !got.Equal(testStart.Add(time.Hour)) {
		t.Errorf("游标应推进到 11:00，实际=%v", got)
	}

	execs := env.execs.all()
	if len(execs) != 1 || execs[0].SubjectID != nil || execs[0].TriggerSource != "schedule" {
		t.Errorf("无范围规则应派发一个无作用对象的执行，实际=%+v", execs)
	}

	res, _ = svc.Trigger.RunDue(context.Background(), testStart.Add(90*time.Minute))
	if res.RulesFired != 0 || len(env.execs.all()) != 1 {
		t.Error("同一窗口重复巡检不应再次派发")
	}
}

func TestRunDue_MissedWindowsCollapse(t *testing.T) {
	env := newTestEnv()
	svc := env.service(nil)
	rule := env.addScheduledRule("0 * * * *", "", `{}`, remindActions, ptrTime(testStart.Add(-5*time.Hour)))

	res, err := svc.Trigger.RunDue(context.Background(), testStart.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("RunDue 应成功: %v", err)
	}
	if res.Dispatched != 1 {
		t.Errorf("错过的多个窗口只应补触发一次，实际派发=%d", res.Dispatched)
	}
	if got := env.rule(rule.RuleID).LastFiredAt; got == nil || !got.Equal(testStart) {
		t.Errorf("游标应落在最新到期槽位 10:00，实际=%v", got)
	}
}

func TestRunDue_NeverFiredUsesCreatedAt(t *testing.T) {
	env := newTestEnv()
	svc := env.service(nil)
	// 创建于前一天 10:00，每天 09:00 触发
	rule := env.addScheduledRule("0 9 * * *", "", `{}`, remindActions, nil)

	res, _ := svc.Trigger.RunDue(context.Background(), testStart.Add(-2*time.Hour))
	if res.RulesFired != 0 {
		t.Error("08:00 时尚未到期")
	}
	res, _ = svc.Trigger.RunDue(context.Background(), testStart)
	if res.RulesFired != 1 {
		t.Errorf("10:00 时应已到期，实际=%+v", res)
	}
	want := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if got := env.rule(rule.RuleID).LastFiredAt; got == nil || !got.Equal(want) {
		t.Errorf("游标应为 09:00，实际=%v", got)
	}
}

func TestRunDue_CardScopeEvaluatesEachOpenCard(t *testing.T) {
	env := newTestEnv()
	svc := env.service(nil)
	env.addCard("card-fresh", "u-1")
	stale := env.addCard("card-stale", "u-1")
	stale.LastActivityAt = testStart.Add(-10 * 24 * time.Hour)
	closed := env.addCard("card-closed", "u-1")
	closed.Status = model.CardStatusWon
	closed.LastActivityAt = testStart.Add(-30 * 24 * time.Hour)

	env.addScheduledRule("0 9 * * *", "card", `{"field":"idle_days","operator":">=","value":7}`, notifyOwnerActions, nil)

	res, err := svc.Trigger.RunDue(context.Background(), testStart)
	if err != nil {
		t.Fatalf("RunDue 应成功: %v", err)
	}
	if res.Dispatched != 1 {
		t.Fatalf("期望只派发闲置卡片，实际=%+v", res)
	}
	exec := env.execs.all()[0]
	if exec.SubjectID == nil || *exec.SubjectID != "card-stale" {
		t.Errorf("作用对象应为 card-stale，实际=%v", exec.SubjectID)
	}
	if exec.Context["idle_days"] != 10.0 {
		t.Errorf("上下文应包含 idle_days=10，实际=%v", exec.Context["idle_days"])
	}
}

func TestRunDue_AdvancesCursorWithoutMatches(t *testing.T) {
	env := newTestEnv()
	svc := env.service(nil)
	env.addCard("card-1", "u-1")
	rule := env.addScheduledRule("0 * * * *", "card", `{"field":"idle_days","operator":"gt","value":999}`, notifyOwnerActions, ptrTime(testStart.Add(-time.Hour)))

	res, _ := svc.Trigger.RunDue(context.Background(), testStart)
	if res.RulesFired != 1 || res.Dispatched != 0 {
		t.Errorf("期望触发但无派发，实际=%+v", res)
	}
	got := env.rule(rule.RuleID)
	if got.LastFiredAt == nil || !got.LastFiredAt.Equal(testStart) {
		t.Errorf("无匹配时游标也应推进，实际=%v", got.LastFiredAt)
	}
	if got.State["last_matched"] != 0 {
		t.Errorf("state.last_matched 应为 0，实际=%v", got.State["last_matched"])
	}
}

func TestRunDue_LostCursorRaceDispatchesNothing(t *testing.T) {
	env := newTestEnv()
	svc := env.service(nil)
	rule := env.addScheduledRule("0 * * * *", "", `{}`, remindActions, ptrTime(testStart.Add(-2*time.Hour)))

	// 另一个巡检抢先把游标推进到 10:00
	env.rules.beforeCAS = func(r *model.AutomationRule) {
		won := testStart
		r.LastFiredAt = &won
	}

	res, err := svc.Trigger.RunDue(context.Background(), testStart.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("RunDue 应成功: %v", err)
	}
	if res.LostRace != 1 || res.RulesFired != 0 || res.Dispatched != 0 {
		t.Errorf("CAS 失败时不应派发，实际=%+v", res)
	}
	if len(env.execs.all()) != 0 || len(env.queue.ids) != 0 {
		t.Error("CAS 失败时不应写入执行记录")
	}
	if got := env.rule(rule.RuleID).LastFiredAt; !got.Equal(testStart) {
		t.Errorf("游标应保持对方写入的值，实际=%v", got)
	}
}

func TestRunDue_SweepLock(t *testing.T) {
	env := newTestEnv()
	rule := env.addScheduledRule("0 * * * *", "", `{}`, remindActions, ptrTime(testStart.Add(-time.Hour)))

	held := &mockLocker{held: true}
	res, err := env.service(held).Trigger.RunDue(context.Background(), testStart)
	if err != nil {
		t.Fatalf("锁被占用时不应返回错误: %v", err)
	}
	if res.RulesChecked != 0 {
		t.Errorf("锁被占用时应跳过巡检，实际=%+v", res)
	}
	if got := env.rule(rule.RuleID).LastFiredAt; !got.Equal(testStart.Add(-time.Hour)) {
		t.Error("跳过巡检时游标不应变化")
	}

	free := &mockLocker{}
	res, _ = env.service(free).Trigger.RunDue(context.Background(), testStart)
	if res.RulesFired != 1 {
		t.Errorf("拿到锁后应正常巡检，实际=%+v", res)
	}
	if free.acquired != 1 || free.released != 1 {
		t.Errorf("锁应获取并释放各一次，acquired=%d released=%d", free.acquired, free.released)
	}
}

func TestRunDue_DisabledRuleIgnored(t *testing.T) {
	env := newTestEnv()
	svc := env.service(nil)
	rule := env.addScheduledRule("0 * * * *", "", `{}`, remindActions, ptrTime(testStart.Add(-time.Hour)))
	_ = env.rules.SetEnabled(context.Background(), testAccount, rule.RuleID, false)

	res, _ := svc.Trigger.RunDue(context.Background(), testStart)
	if res.RulesChecked != 0 || res.Dispatched != 0 {
		t.Errorf("停用的规则不应被巡检，实际=%+v", res)
	}
}
