package repository

import (
	"context"
	"errors"
	"time"

	"stakevault/internal/model"

	"gorm.io/gorm"
)

var ErrPaymentNotFound = errors.New("充值单不存在")

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *model.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *PaymentRepository) GetByTxnID(ctx context.Context, txnID string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).Where("txn_id = ?", txnID).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, txnID, status string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Payment{}).
		Where("txn_id = ?", txnID).
		Update("status", status).Error
}

// ListCompletedSince 近期已完成的充值单（对账任务的扫描集）
func (r *PaymentRepository) ListCompletedSince(ctx context.Context, since time.Time, limit int) ([]*model.Payment, error) {
	var payments []*model.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at >= ?", model.PaymentStatusCompleted, since).
		Order("updated_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Payment, int64, error) {
	var payments []*model.Payment
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Payment{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&payments).Error

	return payments, total, err
}
