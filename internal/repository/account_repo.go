package repository

import (
	"context"
	"errors"

	"stakevault/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound  = errors.New("账户不存在")
	ErrBalanceNotEnough = errors.New("余额不足")
	ErrOptimisticLock   = errors.New("乐观锁冲突，请重试")
	ErrReferrerNotFound = errors.New("推荐码不存在")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByUserID(ctx context.Context, userID int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByReferralCode(ctx context.Context, code string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("referral_code = ?", code).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReferrerNotFound
		}
		return nil, err
	}
	return &account, nil
}

// IncreaseBalance 原子加余额
//
// 【关键点】余额变更一律走数据库侧的原子自增，绝不允许
// "读余额 → 应用层计算 → 写回" 的两段式写法：并发的充值/派息/提现
// 会互相覆盖丢失更新
func (r *AccountRepository) IncreaseBalance(ctx context.Context, tx *gorm.DB, userID int64, amount int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"wallet_balance": gorm.Expr("wallet_balance + ?", amount),
			"version":        gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// CreditPayout 派息入账：余额加周收益，到期周同时返还本金并累计 released_capital
func (r *AccountRepository) CreditPayout(ctx context.Context, tx *gorm.DB, userID int64, weeklyReturn, releasedCapital int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"wallet_balance":   gorm.Expr("wallet_balance + ?", weeklyReturn+releasedCapital),
			"released_capital": gorm.Expr("released_capital + ?", releasedCapital),
			"version":          gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// CreditCommission 佣金入账：推荐人余额加佣金，同时累计推荐投资额
func (r *AccountRepository) CreditCommission(ctx context.Context, tx *gorm.DB, referrerUserID int64, commission, investmentAmount int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ?", referrerUserID).
		Updates(map[string]interface{}{
			"wallet_balance":        gorm.Expr("wallet_balance + ?", commission),
			"total_referral_volume": gorm.Expr("total_referral_volume + ?", investmentAmount),
			"version":               gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// Deduct 原子扣减余额（带余额下限与乐观锁双重保护）
func (r *AccountRepository) Deduct(ctx context.Context, tx *gorm.DB, userID int64, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND wallet_balance >= ? AND version = ?", userID, amount, version).
		Updates(map[string]interface{}{
			"wallet_balance": gorm.Expr("wallet_balance - ?", amount),
			"version":        gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		account, err := r.GetByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if account.WalletBalance < amount {
			return ErrBalanceNotEnough
		}
		return ErrOptimisticLock
	}

	return nil
}

// GetOrCreate 注册时建账户，并发重复注册依赖 user_id 唯一索引兜底
func (r *AccountRepository) GetOrCreate(ctx context.Context, userID int64, referralCode, referredByCode string) (*model.Account, error) {
	account, err := r.GetByUserID(ctx, userID)
	if err == nil {
		return account, nil
	}

	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	newAccount := &model.Account{
		UserID:         userID,
		WalletBalance:  0,
		ReferralCode:   referralCode,
		ReferredByCode: referredByCode,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newAccount).Error

	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, userID)
}
