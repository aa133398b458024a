package model

import (
	"time"
)

const (
	WithdrawalStatusPending   = "PENDING"
	WithdrawalStatusCompleted = "COMPLETED"
	WithdrawalStatusFailed    = "FAILED"
)

// ValidWithdrawalTransitions 提现状态机
// PENDING 是唯一可流转状态，COMPLETED / FAILED 为终态
var ValidWithdrawalTransitions = map[string][]string{
	WithdrawalStatusPending: {WithdrawalStatusCompleted, WithdrawalStatusFailed},
}

func CanTransitionWithdrawal(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidWithdrawalTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Withdrawal 提现单表
//
// 【扣款时机】创建时不动钱包余额，只记 PENDING 流水；
// 外部打款确认成功才扣减余额并把流水置为 COMPLETED，
// 打款失败则单据与流水都置为 FAILED，余额不受影响
type Withdrawal struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	WithdrawalNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"withdrawal_no"`
	UserID       int64     `gorm:"index;not null" json:"user_id"`
	Amount       int64     `gorm:"not null" json:"amount"` // 提现金额（美分）
	Address      string    `gorm:"type:varchar(64);not null" json:"address"`
	Network      string    `gorm:"type:varchar(16);not null" json:"network"`
	Status       string    `gorm:"type:varchar(20);index;not null" json:"status"`
	TxHash       string    `gorm:"type:varchar(128)" json:"tx_hash"` // 外部打款交易哈希（确认后回填）
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Withdrawal) TableName() string {
	return "withdrawal"
}
