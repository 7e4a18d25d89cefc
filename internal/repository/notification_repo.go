package repository

import (
	"context"

	"gorm.io/gorm"

	"hsgrowth/backend/internal/model"
)

// NotificationRepository 站内通知数据访问接口
type NotificationRepository interface {
	Create(ctx context.Context, n *model.Notification) error
}

type notificationRepo struct {
	db *gorm.DB
}

// NewNotificationRepo 创建 NotificationRepository 实例
func NewNotificationRepo(db *gorm.DB) NotificationRepository {
	return &notificationRepo{db: db}
}

func (r *notificationRepo) Create(ctx context.Context, n *model.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

// PointsRepository 积分流水数据访问接口
type PointsRepository interface {
	Create(ctx context.Context, e *model.PointsEntry) error
}

type pointsRepo struct {
	db *gorm.DB
}

// NewPointsRepo 创建 PointsRepository 实例
func NewPointsRepo(db *gorm.DB) PointsRepository {
	return &pointsRepo{db: db}
}

func (r *pointsRepo) Create(ctx context.Context, e *model.PointsEntry) error {
	return r.db.WithContext(ctx).Create(e).Error
}
