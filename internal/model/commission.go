package model

import (
	"time"
)

// ReferralCommission 推荐佣金表（每次投资事件一条）
//
// stake_no 唯一索引保证同一笔质押只结算一次佣金；
// percentage 是结算时刻的比例快照，事后等级变化不追溯
type ReferralCommission struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferrerID int64     `gorm:"index;not null" json:"referrer_id"` // 推荐人用户ID
	ReferredID int64     `gorm:"index;not null" json:"referred_id"` // 被推荐人用户ID
	StakeNo    string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"stake_no"`
	Amount     int64     `gorm:"not null" json:"amount"`     // 佣金金额（美分）
	Percentage int       `gorm:"not null" json:"percentage"` // 结算比例快照（百分比整数）
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (ReferralCommission) TableName() string {
	return "referral_commission"
}
