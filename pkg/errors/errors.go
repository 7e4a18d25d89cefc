package errors

import "errors"

// ErrOptimisticLock 乐观锁冲突：记录已被其他操作修改
var ErrOptimisticLock = errors.New("数据已被其他操作修改，请刷新后重试")

// ErrStateConflict 状态机冲突：记录当前状态不允许该迁移（例如重复审批、审批已过期）
var ErrStateConflict = errors.New("当前状态不允许该操作")
