package model

import (
	"time"
)

// InvestmentPack 投资套餐表（产品目录，运行时只读）
// 由初始化数据写入，购买时对金额和周收益做快照，之后套餐变动不影响已有质押
type InvestmentPack struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string    `gorm:"type:varchar(64);not null" json:"name"`
	Amount        int64     `gorm:"not null" json:"amount"`         // 本金（美分）
	WeeklyReturn  int64     `gorm:"not null" json:"weekly_return"`  // 每周收益（美分）
	TotalReturn   int64     `gorm:"not null" json:"total_return"`   // 合计收益（美分，仅展示用）
	DurationWeeks int       `gorm:"not null" json:"duration_weeks"` // 合约周数
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (InvestmentPack) TableName() string {
	return "investment_pack"
}
