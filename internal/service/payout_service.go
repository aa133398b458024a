package service

import (
	"context"
	"encoding/json"
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

type PayoutService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	accountRepo     *repository.AccountRepository
	stakeRepo       *repository.StakeRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
}

func NewPayoutService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *PayoutService {
	return &PayoutService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		accountRepo:     repository.NewAccountRepository(db),
		stakeRepo:       repository.NewStakeRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

// CurrentPeriod 当前派息周期标识（ISO 周，如 2026-W35）
func CurrentPeriod(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// StakeResult 单笔质押的派息结果
type StakeResult struct {
	StakeNo      string `json:"stake_no"`
	CreditedWeek int    `json:"credited_week,omitempty"` // 本次入账的周数（1 起）
	Amount       int64  `json:"amount,omitempty"`        // 本次入账金额（含到期返还的本金）
	Completed    bool   `json:"completed,omitempty"`     // 本次派息后质押是否到期
	Skipped      bool   `json:"skipped,omitempty"`       // 本周期已处理过，或已是终态
	Error        string `json:"error,omitempty"`
}

// BatchReport 一次派息调用的汇总报告
// 单笔失败不会中断其他质押的处理，调用方据此区分全部成功/部分失败/全部失败
type BatchReport struct {
	UserID   int64         `json:"user_id"`
	Period   string        `json:"period"`
	Credited int           `json:"credited"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Results  []StakeResult `json:"results"`
}

// CreditWeeklyGains 为一个用户的全部活跃质押推进一个派息周期
//
// 【关键点】
// 1. 每笔质押独立事务：质押推进、余额入账、流水落库同时生效或同时回滚，
//    一笔失败不影响其他质押
// 2. 周期幂等：AdvanceWeek 的条件更新带 last_credited_period 守护，
//    cron 在同一周期内重跑不会二次入账
// 3. 到期处理：最后一周除周收益外返还全部本金，并累计 released_capital；
//    本金并入当周收益流水的金额一并入账（不单独拆行），
//    保证 余额 == COMPLETED 流水签名和 恒成立
func (s *PayoutService) CreditWeeklyGains(ctx context.Context, userID int64, period string) (*BatchReport, error) {
	payoutLock := lock.NewPayoutLock(s.redisClient, userID, period)
	if err := payoutLock.Lock(ctx, 200*time.Millisecond, 10); err != nil {
		return nil, fmt.Errorf("获取派息锁失败: %w", err)
	}
	defer payoutLock.Unlock(ctx)

	stakes, err := s.stakeRepo.ListActiveByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("查询活跃质押失败: %w", err)
	}

	report := &BatchReport{UserID: userID, Period: period}

	for _, stake := range stakes {
		result := s.creditStake(ctx, userID, stake, period)
		report.Results = append(report.Results, result)

		switch {
		case result.Error != "":
			report.Failed++
			log.Printf("[Payout] 质押派息失败: stakeNo=%s, period=%s, err=%s", stake.StakeNo, period, result.Error)
		case result.Skipped:
			report.Skipped++
		default:
			report.Credited++
		}
	}

	log.Printf("[Payout] 派息完成: userID=%d, period=%s, credited=%d, skipped=%d, failed=%d",
		userID, period, report.Credited, report.Skipped, report.Failed)

	return report, nil
}

func (s *PayoutService) creditStake(ctx context.Context, userID int64, stake *model.Stake, period string) StakeResult {
	nextWeek := stake.CurrentWeek + 1
	isLastWeek := nextWeek >= stake.DurationWeeks

	releasedCapital := int64(0)
	if isLastWeek {
		releasedCapital = stake.InvestmentAmount
	}

	result := StakeResult{StakeNo: stake.StakeNo}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		advanced, err := s.stakeRepo.AdvanceWeek(ctx, tx, stake.ID, stake.CurrentWeek, period, isLastWeek)
		if err != nil {
			return fmt.Errorf("推进质押周数失败: %w", err)
		}
		if !advanced {
			// 本周期已派过或质押已终结，按跳过处理
			result.Skipped = true
			return nil
		}

		account, err := s.accountRepo.GetByUserID(ctx, userID)
		if err != nil {
			return fmt.Errorf("查询账户失败: %w", err)
		}

		if err := s.accountRepo.CreditPayout(ctx, tx, userID, stake.WeeklyReturn, releasedCapital); err != nil {
			return fmt.Errorf("派息入账失败: %w", err)
		}

		transaction := &model.WalletTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        userID,
			Type:          model.TransactionTypeReturn,
			Amount:        stake.WeeklyReturn + releasedCapital,
			Status:        model.TransactionStatusCompleted,
			ExternalRef:   stake.StakeNo,
			BalanceBefore: account.WalletBalance,
			BalanceAfter:  account.WalletBalance + stake.WeeklyReturn + releasedCapital,
			Notes:         fmt.Sprintf("第%d周收益", nextWeek),
		}
		if isLastWeek {
			transaction.Notes = fmt.Sprintf("第%d周收益+到期本金返还", nextWeek)
		}
		if err := s.transactionRepo.Create(ctx, tx, transaction); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		msgPayload := map[string]interface{}{
			"event":         "payout_credited",
			"stake_no":      stake.StakeNo,
			"user_id":       userID,
			"period":        period,
			"week":          nextWeek,
			"weekly_return": stake.WeeklyReturn,
			"released":      releasedCapital,
		}
		payloadBytes, _ := json.Marshal(msgPayload)

		outboxMsg := &model.OutboxMessage{
			MessageKey: stake.StakeNo,
			Topic:      s.cfg.Kafka.Topic.LedgerEvents,
			Payload:    string(payloadBytes),
			Status:     model.OutboxStatusPending,
		}
		return s.outboxRepo.Create(ctx, tx, outboxMsg)
	})

	if err != nil {
		result.Error = err.Error()
		return result
	}

	if !result.Skipped {
		result.CreditedWeek = nextWeek
		result.Amount = stake.WeeklyReturn + releasedCapital
		result.Completed = isLastWeek
	}

	return result
}
