package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"stakevault/internal/config"
	"stakevault/internal/infrastructure/lock"
	"stakevault/internal/model"
	"stakevault/internal/repository"
	"stakevault/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

type StakeService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	accountRepo     *repository.AccountRepository
	packRepo        *repository.PackRepository
	stakeRepo       *repository.StakeRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	referralService *ReferralService
}

func NewStakeService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *StakeService {
	return &StakeService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		accountRepo:     repository.NewAccountRepository(db),
		packRepo:        repository.NewPackRepository(db),
		stakeRepo:       repository.NewStakeRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		referralService: NewReferralService(db),
	}
}

type PurchaseRequest struct {
	RequestID string `json:"request_id" binding:"required"`
	UserID    int64  `json:"user_id" binding:"required"`
	PackID    int64  `json:"pack_id" binding:"required"`
}

type PurchaseResponse struct {
	StakeNo          string `json:"stake_no"`
	Status           string `json:"status"`
	InvestmentAmount int64  `json:"investment_amount"`
	WeeklyReturn     int64  `json:"weekly_return"`
	DurationWeeks    int    `json:"duration_weeks"`
	Message          string `json:"message,omitempty"`
}

// Purchase 购买质押
//
// 【关键点】购买是账本最核心的出账操作，需要保证：
// 1. 幂等性：相同的 request_id 只会创建一笔质押
// 2. 原子性：余额扣减、质押创建、流水记录、推荐佣金必须同时成功或同时失败 ——
//    绝不允许"钱扣了但质押不存在"的状态落库
// 3. 并发安全：通过分布式锁防止同一用户并发购买超扣
func (s *StakeService) Purchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResponse, error) {
	// 幂等校验
	existingStake, err := s.stakeRepo.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询质押失败: %w", err)
	}
	if existingStake != nil {
		return purchaseResponseOf(existingStake, "质押已存在"), nil
	}

	// 获取分布式锁
	purchaseLock := lock.NewPurchaseLock(s.redisClient, req.UserID, req.RequestID)
	err = purchaseLock.Lock(ctx, 100*time.Millisecond, 30)
	if err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer purchaseLock.Unlock(ctx)

	// 获取锁后再次检查幂等
	existingStake, err = s.stakeRepo.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询质押失败: %w", err)
	}
	if existingStake != nil {
		return purchaseResponseOf(existingStake, "质押已存在"), nil
	}

	pack, err := s.packRepo.GetByID(ctx, req.PackID)
	if err != nil {
		return nil, err
	}

	account, err := s.accountRepo.GetByUserID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	if account.WalletBalance < pack.Amount {
		return nil, repository.ErrBalanceNotEnough
	}

	stakeNo := idgen.GenerateStakeNo()
	stake := &model.Stake{
		StakeNo:          stakeNo,
		RequestID:        req.RequestID,
		UserID:           req.UserID,
		PackID:           pack.ID,
		InvestmentAmount: pack.Amount,
		WeeklyReturn:     pack.WeeklyReturn,
		DurationWeeks:    pack.DurationWeeks,
		TotalEarned:      0,
		CurrentWeek:      0,
		Status:           model.StakeStatusActive,
	}

	// 执行购买事务
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.accountRepo.Deduct(ctx, tx, req.UserID, pack.Amount, account.Version); err != nil {
			if errors.Is(err, repository.ErrBalanceNotEnough) {
				return err
			}
			if errors.Is(err, repository.ErrOptimisticLock) {
				return err
			}
			return fmt.Errorf("扣款失败: %w", err)
		}

		if err := s.stakeRepo.Create(ctx, tx, stake); err != nil {
			return fmt.Errorf("创建质押失败: %w", err)
		}

		transaction := &model.WalletTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        req.UserID,
			Type:          model.TransactionTypeInvestment,
			Amount:        -pack.Amount,
			Status:        model.TransactionStatusCompleted,
			ExternalRef:   stakeNo,
			BalanceBefore: account.WalletBalance,
			BalanceAfter:  account.WalletBalance - pack.Amount,
			Notes:         fmt.Sprintf("购买质押-%s", pack.Name),
		}
		if err := s.transactionRepo.Create(ctx, tx, transaction); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		// 推荐佣金基于投资事件结算（不是充值事件），与购买同一事务
		if err := s.referralService.BookCommission(ctx, tx, account, stakeNo, pack.Amount); err != nil {
			return fmt.Errorf("结算推荐佣金失败: %w", err)
		}

		msgPayload := map[string]interface{}{
			"event":    "stake_purchased",
			"stake_no": stakeNo,
			"user_id":  req.UserID,
			"pack_id":  pack.ID,
			"amount":   pack.Amount,
		}
		payloadBytes, _ := json.Marshal(msgPayload)

		outboxMsg := &model.OutboxMessage{
			MessageKey: stakeNo,
			Topic:      s.cfg.Kafka.Topic.LedgerEvents,
			Payload:    string(payloadBytes),
			Status:     model.OutboxStatusPending,
		}
		return s.outboxRepo.Create(ctx, tx, outboxMsg)
	})

	if err != nil {
		return nil, err
	}

	log.Printf("质押购买成功: stakeNo=%s, userID=%d, amount=%d", stakeNo, req.UserID, pack.Amount)

	return purchaseResponseOf(stake, "购买成功"), nil
}

func purchaseResponseOf(stake *model.Stake, message string) *PurchaseResponse {
	return &PurchaseResponse{
		StakeNo:          stake.StakeNo,
		Status:           stake.Status,
		InvestmentAmount: stake.InvestmentAmount,
		WeeklyReturn:     stake.WeeklyReturn,
		DurationWeeks:    stake.DurationWeeks,
		Message:          message,
	}
}

func (s *StakeService) ListPacks(ctx context.Context) ([]*model.InvestmentPack, error) {
	return s.packRepo.List(ctx)
}

func (s *StakeService) ListUserStakes(ctx context.Context, userID int64) ([]*model.Stake, error) {
	return s.stakeRepo.ListByUserID(ctx, userID)
}
