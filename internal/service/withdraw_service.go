package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"time"

	"stakevault/internal/config"
	"stakevault/internal/infrastructure/lock"
	"stakevault/internal/model"
	"stakevault/internal/repository"
	"stakevault/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var (
	ErrInvalidWithdrawAmount = errors.New("提现金额无效")
	ErrBelowMinWithdrawal    = errors.New("低于最小提现金额")
	ErrInvalidAddress        = errors.New("提现地址格式错误")
	ErrInvalidNetwork        = errors.New("不支持的提现网络")
	ErrWithdrawableExceeded  = errors.New("超出可提现余额")
)

// BEP20 提现地址：0x 前缀 + 40 位十六进制
var bep20AddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

type WithdrawService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	accountRepo     *repository.AccountRepository
	stakeRepo       *repository.StakeRepository
	commissionRepo  *repository.CommissionRepository
	withdrawalRepo  *repository.WithdrawalRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
}

func NewWithdrawService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *WithdrawService {
	return &WithdrawService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		accountRepo:     repository.NewAccountRepository(db),
		stakeRepo:       repository.NewStakeRepository(db),
		commissionRepo:  repository.NewCommissionRepository(db),
		withdrawalRepo:  repository.NewWithdrawalRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

// Withdrawable 可提现余额
//
// 可提现额只认"挣来的钱"：累计周收益 + 累计推荐佣金 + 到期释放的本金，
// 再扣掉已申请（未失败）的提现 —— 未投资的充值本金不可直接提走。
// 该值与钱包余额是两个口径，提现还要同时受钱包余额约束
func (s *WithdrawService) Withdrawable(ctx context.Context, userID int64) (int64, error) {
	account, err := s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		return 0, err
	}

	totalEarned, err := s.stakeRepo.SumTotalEarnedByUserID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("统计质押收益失败: %w", err)
	}

	totalCommission, err := s.commissionRepo.SumByReferrerID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("统计推荐佣金失败: %w", err)
	}

	withdrawn, err := s.withdrawalRepo.SumActiveByUserID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("统计历史提现失败: %w", err)
	}

	withdrawable := totalEarned + totalCommission + account.ReleasedCapital - withdrawn
	if withdrawable < 0 {
		withdrawable = 0
	}
	if withdrawable > account.WalletBalance {
		withdrawable = account.WalletBalance
	}

	return withdrawable, nil
}

type WithdrawRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	AmountCents int64  `json:"amount" binding:"required"`
	Address     string `json:"address" binding:"required"`
	Network     string `json:"network" binding:"required"`
}

type WithdrawResponse struct {
	WithdrawalNo string `json:"withdrawal_no"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Message      string `json:"message,omitempty"`
}

// Request 申请提现
//
// 【扣款时机】此处只创建 PENDING 提现单与 PENDING 流水，不动钱包余额；
// 余额扣减推迟到外部打款确认（Confirm）—— 外部转账失败时资金不会被卡死
//
// 【关键点】额度校验到提现单落库之间按用户加锁：
// PENDING 提现单就是已占用的额度，并发申请不加锁会同时读到
// 扣减前的可提现额，两单都过校验，同一份收益被提两次
func (s *WithdrawService) Request(ctx context.Context, req *WithdrawRequest) (*WithdrawResponse, error) {
	if req.AmountCents <= 0 {
		return nil, ErrInvalidWithdrawAmount
	}
	if req.AmountCents < s.cfg.Business.WithdrawalMinAmount {
		return nil, ErrBelowMinWithdrawal
	}
	if req.Network != s.cfg.Business.WithdrawalNetwork {
		return nil, ErrInvalidNetwork
	}
	if !bep20AddressPattern.MatchString(req.Address) {
		return nil, ErrInvalidAddress
	}

	withdrawalNo := idgen.GenerateWithdrawalNo()

	requestLock := lock.NewWithdrawRequestLock(s.redisClient, req.UserID, withdrawalNo)
	if err := requestLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer requestLock.Unlock(ctx)

	withdrawable, err := s.Withdrawable(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if req.AmountCents > withdrawable {
		return nil, ErrWithdrawableExceeded
	}

	account, err := s.accountRepo.GetByUserID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	withdrawal := &model.Withdrawal{
		WithdrawalNo: withdrawalNo,
		UserID:       req.UserID,
		Amount:       req.AmountCents,
		Address:      req.Address,
		Network:      req.Network,
		Status:       model.WithdrawalStatusPending,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.withdrawalRepo.Create(ctx, tx, withdrawal); err != nil {
			return fmt.Errorf("创建提现单失败: %w", err)
		}

		transaction := &model.WalletTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        req.UserID,
			Type:          model.TransactionTypeWithdrawal,
			Amount:        -req.AmountCents,
			Status:        model.TransactionStatusPending,
			ExternalRef:   withdrawalNo,
			BalanceBefore: account.WalletBalance,
			BalanceAfter:  account.WalletBalance, // PENDING 阶段余额未动
			Notes:         fmt.Sprintf("提现至 %s (%s)", req.Address, req.Network),
		}
		if err := s.transactionRepo.Create(ctx, tx, transaction); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		msgPayload := map[string]interface{}{
			"event":         "withdrawal_requested",
			"withdrawal_no": withdrawalNo,
			"user_id":       req.UserID,
			"amount":        req.AmountCents,
			"address":       req.Address,
			"network":       req.Network,
		}
		payloadBytes, _ := json.Marshal(msgPayload)

		outboxMsg := &model.OutboxMessage{
			MessageKey: withdrawalNo,
			Topic:      s.cfg.Kafka.Topic.LedgerEvents,
			Payload:    string(payloadBytes),
			Status:     model.OutboxStatusPending,
		}
		return s.outboxRepo.Create(ctx, tx, outboxMsg)
	})

	if err != nil {
		return nil, err
	}

	log.Printf("提现申请已受理: withdrawalNo=%s, userID=%d, amount=%d", withdrawalNo, req.UserID, req.AmountCents)

	return &WithdrawResponse{
		WithdrawalNo: withdrawalNo,
		Status:       model.WithdrawalStatusPending,
		Amount:       req.AmountCents,
		Message:      "提现处理中",
	}, nil
}

// Confirm 外部打款结果回执
//
// 成功：提现单与流水置 COMPLETED，并在同一事务原子扣减钱包余额；
// 失败：两者置 FAILED，余额不受影响。
// 状态机守护保证重复回执不会二次扣款
func (s *WithdrawService) Confirm(ctx context.Context, withdrawalNo, txHash string, success bool) (*WithdrawResponse, error) {
	confirmLock := lock.NewWithdrawLock(s.redisClient, withdrawalNo, txHash)
	if err := confirmLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer confirmLock.Unlock(ctx)

	withdrawal, err := s.withdrawalRepo.GetByWithdrawalNo(ctx, withdrawalNo)
	if err != nil {
		return nil, err
	}

	if withdrawal.Status != model.WithdrawalStatusPending {
		return &WithdrawResponse{
			WithdrawalNo: withdrawalNo,
			Status:       withdrawal.Status,
			Amount:       withdrawal.Amount,
			Message:      "提现单已是终态，忽略重复回执",
		}, nil
	}

	targetStatus := model.WithdrawalStatusCompleted
	transStatus := model.TransactionStatusCompleted
	if !success {
		targetStatus = model.WithdrawalStatusFailed
		transStatus = model.TransactionStatusFailed
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		moved, err := s.withdrawalRepo.UpdateStatus(ctx, tx, withdrawalNo,
			model.WithdrawalStatusPending, targetStatus, txHash)
		if err != nil {
			return fmt.Errorf("更新提现单失败: %w", err)
		}
		if !moved {
			// 并发回执已处理过
			return nil
		}

		if err := s.transactionRepo.UpdateStatusByExternalRef(ctx, tx, withdrawalNo,
			model.TransactionStatusPending, transStatus); err != nil {
			return fmt.Errorf("更新流水失败: %w", err)
		}

		if success {
			account, err := s.accountRepo.GetByUserID(ctx, withdrawal.UserID)
			if err != nil {
				return fmt.Errorf("查询账户失败: %w", err)
			}
			if err := s.accountRepo.Deduct(ctx, tx, withdrawal.UserID, withdrawal.Amount, account.Version); err != nil {
				return fmt.Errorf("提现扣款失败: %w", err)
			}
		}

		msgPayload := map[string]interface{}{
			"event":         "withdrawal_settled",
			"withdrawal_no": withdrawalNo,
			"user_id":       withdrawal.UserID,
			"amount":        withdrawal.Amount,
			"status":        targetStatus,
			"tx_hash":       txHash,
			"settled_at":    time.Now().Format(time.RFC3339),
		}
		payloadBytes, _ := json.Marshal(msgPayload)

		outboxMsg := &model.OutboxMessage{
			MessageKey: withdrawalNo,
			Topic:      s.cfg.Kafka.Topic.LedgerEvents,
			Payload:    string(payloadBytes),
			Status:     model.OutboxStatusPending,
		}
		return s.outboxRepo.Create(ctx, tx, outboxMsg)
	})

	if err != nil {
		return nil, err
	}

	log.Printf("提现回执已处理: withdrawalNo=%s, status=%s", withdrawalNo, targetStatus)

	return &WithdrawResponse{
		WithdrawalNo: withdrawalNo,
		Status:       targetStatus,
		Amount:       withdrawal.Amount,
	}, nil
}
