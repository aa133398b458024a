package repository

import (
	"context"
	"errors"

	"stakevault/internal/model"

	"gorm.io/gorm"
)

var ErrStakeNotFound = errors.New("质押记录不存在")

type StakeRepository struct {
	db *gorm.DB
}

func NewStakeRepository(db *gorm.DB) *StakeRepository {
	return &StakeRepository{db: db}
}

func (r *StakeRepository) Create(ctx context.Context, tx *gorm.DB, stake *model.Stake) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(stake).Error
}

// GetByRequestID 购买接口的幂等判定，未找到返回 (nil, nil)
func (r *StakeRepository) GetByRequestID(ctx context.Context, requestID string) (*model.Stake, error) {
	var stake model.Stake
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&stake).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &stake, nil
}

func (r *StakeRepository) GetByStakeNo(ctx context.Context, stakeNo string) (*model.Stake, error) {
	var stake model.Stake
	err := r.db.WithContext(ctx).Where("stake_no = ?", stakeNo).First(&stake).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStakeNotFound
		}
		return nil, err
	}
	return &stake, nil
}

func (r *StakeRepository) ListActiveByUserID(ctx context.Context, userID int64) ([]*model.Stake, error) {
	var stakes []*model.Stake
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.StakeStatusActive).
		Order("created_at ASC").
		Find(&stakes).Error
	return stakes, err
}

func (r *StakeRepository) ListByUserID(ctx context.Context, userID int64) ([]*model.Stake, error) {
	var stakes []*model.Stake
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&stakes).Error
	return stakes, err
}

// SumTotalEarnedByUserID 用户全部质押的累计收益（可提现额的组成部分）
func (r *StakeRepository) SumTotalEarnedByUserID(ctx context.Context, userID int64) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.Stake{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(total_earned), 0)").
		Scan(&total).Error
	return total, err
}

// ListUserIDsWithActiveStakes 持有活跃质押的用户ID（周派息任务的工作集）
func (r *StakeRepository) ListUserIDsWithActiveStakes(ctx context.Context, limit int) ([]int64, error) {
	var userIDs []int64
	err := r.db.WithContext(ctx).
		Model(&model.Stake{}).
		Where("status = ?", model.StakeStatusActive).
		Distinct("user_id").
		Limit(limit).
		Pluck("user_id", &userIDs).Error
	return userIDs, err
}

// AdvanceWeek 质押推进一周（周派息的核心写入）
//
// 【关键点】条件更新一条 SQL 完成判定与推进：
//   - status 必须还是 ACTIVE（已完成的质押是终态，永不再处理）
//   - current_week 必须等于调用方读到的值（并发派息互斥）
//   - last_credited_period 不等于本周期（cron 重跑/重试不会二次入账）
//
// RowsAffected == 0 即"本周期已处理过或已完成"，由调用方按跳过处理
func (r *StakeRepository) AdvanceWeek(ctx context.Context, tx *gorm.DB, stakeID int64, fromWeek int, period string, completed bool) (bool, error) {
	if tx == nil {
		tx = r.db
	}

	status := model.StakeStatusActive
	if completed {
		status = model.StakeStatusCompleted
	}

	result := tx.WithContext(ctx).
		Model(&model.Stake{}).
		Where("id = ? AND status = ? AND current_week = ? AND last_credited_period <> ?",
			stakeID, model.StakeStatusActive, fromWeek, period).
		Updates(map[string]interface{}{
			"total_earned":         gorm.Expr("total_earned + weekly_return"),
			"current_week":         fromWeek + 1,
			"status":               status,
			"last_credited_period": period,
		})

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}
