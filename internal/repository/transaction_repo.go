package repository

import (
	"context"

	"stakevault/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.WalletTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

// GetByExternalRef 按外部引用查流水，是充值回调幂等判定的依据
// 未找到返回 (nil, nil)
func (r *TransactionRepository) GetByExternalRef(ctx context.Context, externalRef, transType string) (*model.WalletTransaction, error) {
	var trans model.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("external_ref = ? AND type = ?", externalRef, transType).
		First(&trans).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.WalletTransaction, error) {
	var trans model.WalletTransaction
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// UpdateStatusByExternalRef 按外部引用推进流水状态（提现确认用）
// 带前置状态守护，重复确认不会二次生效
func (r *TransactionRepository) UpdateStatusByExternalRef(ctx context.Context, tx *gorm.DB, externalRef, fromStatus, toStatus string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.WalletTransaction{}).
		Where("external_ref = ? AND status = ?", externalRef, fromStatus).
		Update("status", toStatus).Error
}

// SumCompletedByUserID 用户已完成流水的签名和，对账校验用：
// 该值必须恒等于账户的 wallet_balance
func (r *TransactionRepository) SumCompletedByUserID(ctx context.Context, userID int64) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.WalletTransaction{}).
		Where("user_id = ? AND status = ?", userID, model.TransactionStatusCompleted).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	var transactions []*model.WalletTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WalletTransaction{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}
