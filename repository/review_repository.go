package repository

import (
	"context"
	"errors"
	"fmt"

	"PIIReview/model"

	"gorm.io/gorm"
)

// DefaultHistoryLimit caps ListRecent when the caller passes no limit.
const DefaultHistoryLimit = 20

// ReviewRepository 审阅历史数据访问接口
type ReviewRepository interface {
	SaveBatch(ctx context.Context, batch *model.ReviewBatch) error
	GetByBatchID(ctx context.Context, batchID string) (*model.ReviewBatch, error)
	ListRecent(ctx context.Context, limit int) ([]*model.ReviewBatch, error)
}

// gormReviewRepository GORM 实现
type gormReviewRepository struct {
	db *gorm.DB
}

// NewGormReviewRepository 创建 GORM 审阅历史仓库
func NewGormReviewRepository(db *gorm.DB) ReviewRepository {
	return &gormReviewRepository{db: db}
}

// SaveBatch 保存批次及其文件结果
func (r *gormReviewRepository) SaveBatch(ctx context.Context, batch *model.ReviewBatch) error {
	if batch == nil || batch.BatchID == "" {
		return fmt.Errorf("invalid review batch")
	}
	return r.db.WithContext(ctx).Create(batch).Error
}

// GetByBatchID 根据批次ID获取批次及文件
func (r *gormReviewRepository) GetByBatchID(ctx context.Context, batchID string) (*model.ReviewBatch, error) {
	var batch model.ReviewBatch
	err := r.db.WithContext(ctx).
		Preload("Files", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("batch_id = ?", batchID).
		First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &batch, nil
}

// ListRecent 最近的批次，不含文件明细
func (r *gormReviewRepository) ListRecent(ctx context.Context, limit int) ([]*model.ReviewBatch, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	var batches []*model.ReviewBatch
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&batches).Error
	return batches, err
}
