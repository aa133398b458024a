package model

import (
	"time"
)

const (
	StakeStatusActive    = "ACTIVE"
	StakeStatusCompleted = "COMPLETED"
)

// Stake 用户质押表（一次购买一条记录）
//
// 【状态机】ACTIVE → COMPLETED，单向且只发生一次：
// 当 current_week 达到 duration_weeks 时由周派息任务置为 COMPLETED，之后不再处理
//
// 创建之后只有周派息任务会修改本表；investment_amount / weekly_return
// 是购买时刻对套餐的快照，永不变更
type Stake struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	StakeNo            string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"stake_no"`   // 质押单号（全局唯一）
	RequestID          string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"` // 幂等ID，客户端生成
	UserID             int64     `gorm:"index;not null" json:"user_id"`
	PackID             int64     `gorm:"index;not null" json:"pack_id"`
	InvestmentAmount   int64     `gorm:"not null" json:"investment_amount"` // 本金快照（美分）
	WeeklyReturn       int64     `gorm:"not null" json:"weekly_return"`     // 周收益快照（美分）
	DurationWeeks      int       `gorm:"not null" json:"duration_weeks"`    // 合约周数快照
	TotalEarned        int64     `gorm:"not null;default:0" json:"total_earned"`
	CurrentWeek        int       `gorm:"not null;default:0" json:"current_week"`
	Status             string    `gorm:"type:varchar(20);index;not null" json:"status"`
	LastCreditedPeriod string    `gorm:"type:varchar(16)" json:"last_credited_period"` // 最近派息周期（如 2026-W35），防止同周期重复入账
	CreatedAt          time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Stake) TableName() string {
	return "stake"
}
