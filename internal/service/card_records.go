package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"hsgrowth/backend/internal/automation"
	"hsgrowth/backend/internal/model"
	"hsgrowth/backend/internal/repository"
	"hsgrowth/backend/pkg/clock"
	pkgerrors "hsgrowth/backend/pkg/errors"
)

var (
	ErrCardNotFound      = errors.New("卡片不存在")
	ErrListNotFound      = errors.New("目标列不存在")
	ErrListOtherBoard    = errors.New("目标列不属于卡片所在看板")
	ErrUnsupportedField  = errors.New("不支持修改该字段")
	ErrInvalidFieldValue = errors.New("字段值不合法")
	ErrUnsupportedEntity = errors.New("不支持的实体类型")
	ErrUserNotInAccount  = errors.New("用户不存在或不属于当前租户")
	ErrMissingInvocation = errors.New("缺少执行上下文")
)

const customFieldPrefix = "custom."

// ── 卡片快照：条件求值与模板渲染的上下文来源 ──

// cardSnapshot 把卡片展开为扁平字段；自定义字段以 custom.<key> 形式出现
func cardSnapshot(card *model.Card) map[string]any {
	snap := map[string]any{
		"card_id":          card.CardID,
		"account_id":       card.AccountID,
		"board_id":         card.BoardID,
		"list_id":          card.ListID,
		"title":            card.Title,
		"description":      card.Description,
		"value":            card.Value,
		"status":           card.Status,
		"owner_id":         nil,
		"due_date":         nil,
		"last_activity_at": card.LastActivityAt,
		"created_at":       card.CreatedAt,
		"version":          card.Version,
	}
	if card.OwnerID != nil {
		snap["owner_id"] = *card.OwnerID
	}
	if card.DueDate != nil {
		snap["due_date"] = *card.DueDate
	}
	for k, v := range card.CustomFields {
		snap[customFieldPrefix+k] = v
	}
	return snap
}

// withDerivedFields 定时巡检额外提供的时间派生字段
func withDerivedFields(snap map[string]any, card *model.Card, now time.Time) map[string]any {
	snap["now"] = now
	snap["idle_days"] = wholeDays(now.Sub(card.LastActivityAt))
	snap["age_days"] = wholeDays(now.Sub(card.CreatedAt))
	if card.DueDate != nil {
		snap["days_until_due"] = int(math.Floor(card.DueDate.Sub(now).Hours() / 24))
	}
	return snap
}

func wholeDays(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// ── 卡片写入：字段白名单与取值校验，供卡片接口与自动化动作共用 ──

type cardWriter struct {
	repo  *repository.Repository
	clock clock.Clock
}

func newCardWriter(repo *repository.Repository, clk clock.Clock) *cardWriter {
	return &cardWriter{repo: repo, clock: clk}
}

// columns 把字段变更转换为列更新；返回实际变化的字段（用于事件变更集）
func (w *cardWriter) columns(ctx context.Context, card *model.Card, changes map[string]any) (map[string]interface{}, map[string]any, error) {
	cols := make(map[string]interface{}, len(changes))
	changed := make(map[string]any, len(changes))
	var custom datatypes.JSONMap

	for field, raw := range changes {
		switch {
		case field == "title":
			s, ok := raw.(string)
			if !ok || strings.TrimSpace(s) == "" || len([]rune(s)) > 255 {
				return nil, nil, fmt.Errorf("%w: title", ErrInvalidFieldValue)
			}
			cols["title"] = s
			changed["title"] = s
		case field == "description":
			s, ok := raw.(string)
			if !ok {
				return nil, nil, fmt.Errorf("%w: description", ErrInvalidFieldValue)
			}
			cols["description"] = s
			changed["description"] = s
		case field == "status":
			s, _ := raw.(string)
			if s != model.CardStatusOpen && s != model.CardStatusWon && s != model.CardStatusLost {
				return nil, nil, fmt.Errorf("%w: status=%v", ErrInvalidFieldValue, raw)
			}
			cols["status"] = s
			changed["status"] = s
		case field == "value":
			f, ok := toFloat(raw)
			if !ok || f < 0 {
				return nil, nil, fmt.Errorf("%w: value=%v", ErrInvalidFieldValue, raw)
			}
			cols["value"] = f
			changed["value"] = f
		case field == "due_date":
			t, ok, err := toOptionalTime(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: due_date: %v", ErrInvalidFieldValue, err)
			}
			if ok {
				cols["due_date"] = t
				changed["due_date"] = t
			} else {
				cols["due_date"] = nil
				changed["due_date"] = nil
			}
		case field == "owner_id":
			s, _ := raw.(string)
			if raw == nil || s == "" {
				cols["owner_id"] = nil
				changed["owner_id"] = nil
				continue
			}
			exists, err := w.repo.User.ExistsInAccount(ctx, card.AccountID, s)
			if err != nil {
				return nil, nil, err
			}
			if !exists {
				return nil, nil, ErrUserNotInAccount
			}
			cols["owner_id"] = s
			changed["owner_id"] = s
		case field == "list_id":
			s, _ := raw.(string)
			list, err := w.repo.BoardList.GetByID(ctx, s)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil, nil, ErrListNotFound
				}
				return nil, nil, err
			}
			if list.BoardID != card.BoardID {
				return nil, nil, ErrListOtherBoard
			}
			cols["list_id"] = s
			changed["list_id"] = s
		case strings.HasPrefix(field, customFieldPrefix) && len(field) > len(customFieldPrefix):
			if custom == nil {
				custom = datatypes.JSONMap{}
				for k, v := range card.CustomFields {
					custom[k] = v
				}
			}
			key := strings.TrimPrefix(field, customFieldPrefix)
			if raw == nil {
				delete(custom, key)
			} else {
				custom[key] = raw
			}
			changed[field] = raw
		default:
			return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedField, field)
		}
	}
	if custom != nil {
		cols["custom_fields"] = custom
	}
	cols["last_activity_at"] = w.clock.Now()
	return cols, changed, nil
}

// apply 校验并以乐观锁写入；版本冲突时按最新版本重试一次
func (w *cardWriter) apply(ctx context.Context, card *model.Card, changes map[string]any, retry bool) (map[string]any, error) {
	cols, changed, err := w.columns(ctx, card, changes)
	if err != nil {
		return nil, err
	}
	err = w.repo.Card.UpdateFields(ctx, card, cols)
	if errors.Is(err, pkgerrors.ErrOptimisticLock) && retry {
		fresh, gerr := w.repo.Card.GetByID(ctx, card.AccountID, card.CardID)
		if gerr != nil {
			return nil, gerr
		}
		*card = *fresh
		return w.apply(ctx, card, changes, false)
	}
	if err != nil {
		return nil, err
	}
	return changed, nil
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case interface{ Float64() (float64, error) }:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

func toOptionalTime(v any) (time.Time, bool, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return t.UTC(), true, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, false, nil
		}
		return t.UTC(), true, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return time.Time{}, false, nil
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
				return parsed.UTC(), true, nil
			}
		}
		return time.Time{}, false, fmt.Errorf("无法解析日期 %q", t)
	}
	return time.Time{}, false, fmt.Errorf("不支持的日期类型 %T", v)
}

// ── 自动化协作者实现 ──

// cardRecordStore automation.RecordStore 的卡片实现；租户取自执行上下文
type cardRecordStore struct {
	repo  *repository.Repository
	cards *cardWriter
}

func newCardRecordStore(repo *repository.Repository, cards *cardWriter) *cardRecordStore {
	return &cardRecordStore{repo: repo, cards: cards}
}

func (s *cardRecordStore) load(ctx context.Context, entityType, id string) (*model.Card, error) {
	if entityType != "card" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEntity, entityType)
	}
	inv, ok := automation.InvocationFromContext(ctx)
	if !ok {
		return nil, ErrMissingInvocation
	}
	card, err := s.repo.Card.GetByID(ctx, inv.AccountID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, err
	}
	return card, nil
}

func (s *cardRecordStore) Get(ctx context.Context, entityType, id string) (map[string]any, error) {
	card, err := s.load(ctx, entityType, id)
	if err != nil {
		return nil, err
	}
	return cardSnapshot(card), nil
}

func (s *cardRecordStore) Update(ctx context.Context, entityType, id string, changes map[string]any) error {
	card, err := s.load(ctx, entityType, id)
	if err != nil {
		return err
	}
	_, err = s.cards.apply(ctx, card, changes, true)
	return err
}

// notificationSink automation.NotificationSink 的站内通知实现
type notificationSink struct {
	repo *repository.Repository
}

func newNotificationSink(repo *repository.Repository) *notificationSink {
	return &notificationSink{repo: repo}
}

func (s *notificationSink) Create(ctx context.Context, userID, title, message string, metadata map[string]any) error {
	inv, ok := automation.InvocationFromContext(ctx)
	if !ok {
		return ErrMissingInvocation
	}
	exists, err := s.repo.User.ExistsInAccount(ctx, inv.AccountID, userID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUserNotInAccount
	}
	return s.repo.Notification.Create(ctx, &model.Notification{
		AccountID: inv.AccountID,
		UserID:    userID,
		Type:      "automation",
		Title:     title,
		Message:   message,
		Metadata:  datatypes.JSONMap(metadata),
	})
}

// pointsLedger automation.PointsLedger 的积分流水实现
type pointsLedger struct {
	repo *repository.Repository
}

func newPointsLedger(repo *repository.Repository) *pointsLedger {
	return &pointsLedger{repo: repo}
}

func (l *pointsLedger) Award(ctx context.Context, userID string, amount int, reason string) error {
	inv, ok := automation.InvocationFromContext(ctx)
	if !ok {
		return ErrMissingInvocation
	}
	exists, err := l.repo.User.ExistsInAccount(ctx, inv.AccountID, userID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUserNotInAccount
	}
	entry := &model.PointsEntry{
		AccountID: inv.AccountID,
		UserID:    userID,
		Points:    amount,
		Reason:    reason,
		Source:    "automation",
	}
	if inv.ExecutionID != "" {
		id := inv.ExecutionID
		entry.SourceID = &id
	}
	return l.repo.Points.Create(ctx, entry)
}
