package model

import (
	"time"
)

// ============================================================================
// 流水类型常量
// ============================================================================

const (
	TransactionTypeDeposit    = "DEPOSIT"             // 外部充值到账
	TransactionTypeInvestment = "INVESTMENT"          // 购买质押扣款
	TransactionTypeReturn     = "RETURN"              // 周收益入账
	TransactionTypeWithdrawal = "WITHDRAWAL"          // 提现
	TransactionTypeCommission = "REFERRAL_COMMISSION" // 推荐佣金入账
)

const (
	TransactionStatusPending   = "PENDING"
	TransactionStatusCompleted = "COMPLETED"
	TransactionStatusFailed    = "FAILED"
)

// ============================================================================
// 钱包流水实体
// ============================================================================

// WalletTransaction 钱包流水表
// 记录钱包的每一笔资金变动，是对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改金额，不删除 —— 保证审计可追溯
// 2. 金额带符号：入账为正，出账为负 —— 余额恒等于 COMPLETED 流水的签名和
// 3. external_ref 关联外部单号（网关交易号/提现单号）—— 幂等与对账的依据
// 4. 记录交易前后余额 —— 便于校验余额一致性
//
// 提现流水以 PENDING 创建，待外部打款确认后才置为 COMPLETED 并扣减余额
type WalletTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 流水号（全局唯一）
	UserID        int64     `gorm:"index;not null" json:"user_id"`
	Type          string    `gorm:"type:varchar(32);not null" json:"type"`
	Amount        int64     `gorm:"not null" json:"amount"` // 金额（美分，正数入账，负数出账）
	Status        string    `gorm:"type:varchar(20);index;not null" json:"status"`
	ExternalRef   string    `gorm:"type:varchar(128);index" json:"external_ref"` // 外部引用：网关 txn_id、质押单号、提现单号
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`              // 交易前余额（PENDING 流水记录创建时余额）
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	Notes         string    `gorm:"type:varchar(256)" json:"notes"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transaction"
}
