package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"hsgrowth/backend/internal/model"
	pkgerrors "hsgrowth/backend/pkg/errors"
)

// CardRepository 卡片数据访问接口
type CardRepository interface {
	GetByID(ctx context.Context, accountID, id string) (*model.Card, error)
	ListOpenByAccount(ctx context.Context, accountID string) ([]model.Card, error)
	// UpdateFields 带乐观锁的部分更新；columns 为列名 → 新值
	UpdateFields(ctx context.Context, card *model.Card, columns map[string]interface{}) error
}

type cardRepo struct {
	db *gorm.DB
}

// NewCardRepo 创建 CardRepository 实例
func NewCardRepo(db *gorm.DB) CardRepository {
	return &cardRepo{db: db}
}

func (r *cardRepo) GetByID(ctx context.Context, accountID, id string) (*model.Card, error) {
	var card model.Card
	err := r.db.WithContext(ctx).
		Where("card_id = ? AND account_id = ?", id, accountID).
		First(&card).Error
	if err != nil {
		return nil, err
	}
	return &card, nil
}

func (r *cardRepo) ListOpenByAccount(ctx context.Context, accountID string) ([]model.Card, error) {
	var cards []model.Card
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND status = ?", accountID, model.CardStatusOpen).
		Order("created_at ASC").
		Find(&cards).Error
	return cards, err
}

func (r *cardRepo) UpdateFields(ctx context.Context, card *model.Card, columns map[string]interface{}) error {
	oldVersion := card.Version
	updates := make(map[string]interface{}, len(columns)+2)
	for k, v := range columns {
		updates[k] = v
	}
	updates["version"] = oldVersion + 1
	if _, ok := updates["last_activity_at"]; !ok {
		updates["last_activity_at"] = time.Now().UTC()
	}

	result := r.db.WithContext(ctx).
		Model(&model.Card{}).
		Where("card_id = ? AND version = ?", card.CardID, oldVersion).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	card.Version = oldVersion + 1
	return nil
}

// ── BoardList Repository ──

// BoardListRepository 看板列数据访问接口
type BoardListRepository interface {
	GetByID(ctx context.Context, id string) (*model.BoardList, error)
}

type boardListRepo struct {
	db *gorm.DB
}

// NewBoardListRepo 创建 BoardListRepository 实例
func NewBoardListRepo(db *gorm.DB) BoardListRepository {
	return &boardListRepo{db: db}
}

func (r *boardListRepo) GetByID(ctx context.Context, id string) (*model.BoardList, error) {
	var list model.BoardList
	err := r.db.WithContext(ctx).
		Where("list_id = ?", id).
		First(&list).Error
	if err != nil {
		return nil, err
	}
	return &list, nil
}
