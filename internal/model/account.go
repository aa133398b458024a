package model

import (
	"time"
)

// 佣金等级阈值（单位：美分）
// 累计推荐投资额 < 10,000 美元 → 5%
// 累计推荐投资额 [10,000, 100,000) 美元 → 10%
// 累计推荐投资额 >= 100,000 美元 → 15%
const (
	CommissionTier2Volume = 10_000_00  // 10,000 USD
	CommissionTier3Volume = 100_000_00 // 100,000 USD

	CommissionRateTier1 = 5
	CommissionRateTier2 = 10
	CommissionRateTier3 = 15
)

// Account 用户账户表
// 记录用户的钱包余额与推荐关系，是整个质押系统的核心数据
//
// 金额一律以美分（int64）存储，避免浮点误差破坏对账
type Account struct {
	ID                  int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID              int64     `gorm:"uniqueIndex;not null" json:"user_id"`                        // 用户ID，业务方传入
	WalletBalance       int64     `gorm:"not null;default:0" json:"wallet_balance"`                   // 可用余额（美分）
	ReleasedCapital     int64     `gorm:"not null;default:0" json:"released_capital"`                 // 到期释放的本金累计（美分）
	ReferralCode        string    `gorm:"type:varchar(16);uniqueIndex;not null" json:"referral_code"` // 本人推荐码
	ReferredByCode      string    `gorm:"type:varchar(16);index" json:"referred_by_code"`             // 推荐人的推荐码（可为空）
	TotalReferralVolume int64     `gorm:"not null;default:0" json:"total_referral_volume"`            // 直接推荐用户的累计投资额（美分）
	Version             int       `gorm:"not null;default:0" json:"version"`                          // 乐观锁版本号
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

// CommissionRate 按当前累计推荐投资额计算佣金比例（百分比整数）
//
// 【重要】结算某笔投资的佣金时，必须用该笔投资入账*之前*的累计额定档，
// 比例随流水快照进 referral_commission 表，事后不重算
func CommissionRate(totalReferralVolume int64) int {
	switch {
	case totalReferralVolume >= CommissionTier3Volume:
		return CommissionRateTier3
	case totalReferralVolume >= CommissionTier2Volume:
		return CommissionRateTier2
	default:
		return CommissionRateTier1
	}
}
