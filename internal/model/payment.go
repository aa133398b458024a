package model

import (
	"time"
)

const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
)

// 网关 IPN status 字段的判定边界（网关定义的整数状态码）
// >= 100 确认到账；< 0 失败/取消；其余为处理中
const (
	IPNStatusConfirmed = 100
)

// Payment 外部充值单表
// 发起充值时写入（PENDING），状态只由支付网关的 IPN 回调驱动
type Payment struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TxnID       string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"txn_id"` // 网关交易号
	UserID      int64     `gorm:"index;not null" json:"user_id"`
	Amount      int64     `gorm:"not null" json:"amount"` // 美元金额（美分）
	Currency    string    `gorm:"type:varchar(16);not null" json:"currency"`
	Network     string    `gorm:"type:varchar(16)" json:"network"`
	Status      string    `gorm:"type:varchar(20);index;not null" json:"status"`
	CheckoutURL string    `gorm:"type:varchar(512)" json:"checkout_url"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Payment) TableName() string {
	return "payment"
}
