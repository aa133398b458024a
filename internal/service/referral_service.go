package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"stakevault/internal/model"
	"stakevault/internal/repository"
	"stakevault/pkg/idgen"

	"gorm.io/gorm"
)

type ReferralService struct {
	db              *gorm.DB
	accountRepo     *repository.AccountRepository
	commissionRepo  *repository.CommissionRepository
	transactionRepo *repository.TransactionRepository
}

func NewReferralService(db *gorm.DB) *ReferralService {
	return &ReferralService{
		db:              db,
		accountRepo:     repository.NewAccountRepository(db),
		commissionRepo:  repository.NewCommissionRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

// BookCommission 按投资事件结算推荐佣金，必须在购买事务内调用
//
// 【关键点】
// 1. 等级按推荐人结算前的累计推荐投资额定档，比例快照进佣金表
// 2. stake_no 上的唯一索引保证同一笔质押只结算一次
// 3. 投资人没有推荐人不是错误，直接跳过
func (s *ReferralService) BookCommission(ctx context.Context, tx *gorm.DB, investor *model.Account, stakeNo string, investmentAmount int64) error {
	if investor.ReferredByCode == "" {
		return nil
	}

	referrer, err := s.accountRepo.GetByReferralCode(ctx, investor.ReferredByCode)
	if err != nil {
		if errors.Is(err, repository.ErrReferrerNotFound) {
			// 推荐码已失效（历史脏数据），不阻断购买
			log.Printf("推荐码无法解析，跳过佣金: code=%s, userID=%d", investor.ReferredByCode, investor.UserID)
			return nil
		}
		return fmt.Errorf("查询推荐人失败: %w", err)
	}

	// 自己推荐自己不结佣金
	if referrer.UserID == investor.UserID {
		return nil
	}

	// 幂等校验：同一笔质押只结算一次
	existing, err := s.commissionRepo.GetByStakeNo(ctx, stakeNo)
	if err != nil {
		return fmt.Errorf("查询佣金记录失败: %w", err)
	}
	if existing != nil {
		return nil
	}

	// 等级必须用本笔投资入账前的累计额判定
	rate := model.CommissionRate(referrer.TotalReferralVolume)
	commissionAmount := investmentAmount * int64(rate) / 100

	if err := s.accountRepo.CreditCommission(ctx, tx, referrer.UserID, commissionAmount, investmentAmount); err != nil {
		return fmt.Errorf("佣金入账失败: %w", err)
	}

	commission := &model.ReferralCommission{
		ReferrerID: referrer.UserID,
		ReferredID: investor.UserID,
		StakeNo:    stakeNo,
		Amount:     commissionAmount,
		Percentage: rate,
	}
	if err := s.commissionRepo.Create(ctx, tx, commission); err != nil {
		return fmt.Errorf("记录佣金失败: %w", err)
	}

	transaction := &model.WalletTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        referrer.UserID,
		Type:          model.TransactionTypeCommission,
		Amount:        commissionAmount,
		Status:        model.TransactionStatusCompleted,
		ExternalRef:   stakeNo,
		BalanceBefore: referrer.WalletBalance,
		BalanceAfter:  referrer.WalletBalance + commissionAmount,
		Notes:         fmt.Sprintf("推荐佣金 %d%%", rate),
	}
	if err := s.transactionRepo.Create(ctx, tx, transaction); err != nil {
		return fmt.Errorf("记录佣金流水失败: %w", err)
	}

	log.Printf("推荐佣金已结算: referrer=%d, referred=%d, stakeNo=%s, rate=%d%%, amount=%d",
		referrer.UserID, investor.UserID, stakeNo, rate, commissionAmount)

	return nil
}

func (s *ReferralService) ListCommissions(ctx context.Context, referrerID int64, page, pageSize int) ([]*model.ReferralCommission, int64, error) {
	return s.commissionRepo.ListByReferrerID(ctx, referrerID, page, pageSize)
}
