package repository

import (
	"context"

	"stakevault/internal/model"

	"gorm.io/gorm"
)

type CommissionRepository struct {
	db *gorm.DB
}

func NewCommissionRepository(db *gorm.DB) *CommissionRepository {
	return &CommissionRepository{db: db}
}

func (r *CommissionRepository) Create(ctx context.Context, tx *gorm.DB, commission *model.ReferralCommission) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(commission).Error
}

// GetByStakeNo 同一笔质押只结算一次佣金，未找到返回 (nil, nil)
func (r *CommissionRepository) GetByStakeNo(ctx context.Context, stakeNo string) (*model.ReferralCommission, error) {
	var commission model.ReferralCommission
	err := r.db.WithContext(ctx).Where("stake_no = ?", stakeNo).First(&commission).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &commission, nil
}

// SumByReferrerID 推荐人累计佣金（可提现额的组成部分）
func (r *CommissionRepository) SumByReferrerID(ctx context.Context, referrerID int64) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.ReferralCommission{}).
		Where("referrer_id = ?", referrerID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

func (r *CommissionRepository) ListByReferrerID(ctx context.Context, referrerID int64, page, pageSize int) ([]*model.ReferralCommission, int64, error) {
	var commissions []*model.ReferralCommission
	var total int64

	query := r.db.WithContext(ctx).Model(&model.ReferralCommission{}).Where("referrer_id = ?", referrerID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&commissions).Error

	return commissions, total, err
}
