package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"stakevault/internal/config"
	"stakevault/internal/gateway"
	"stakevault/internal/infrastructure/lock"
	"stakevault/internal/model"
	"stakevault/internal/repository"
	"stakevault/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var (
	// ErrIPNAuthentication 回调来源不可信（签名或商户号不匹配）
	// 正常用户不会触发，按安全信号告警，绝不动账
	ErrIPNAuthentication = errors.New("IPN 来源校验失败")
	// ErrIPNValidation 回调载荷不合法
	ErrIPNValidation = errors.New("IPN 载荷校验失败")
	// ErrInvalidDepositAmount 充值金额必须大于0
	ErrInvalidDepositAmount = errors.New("充值金额必须大于0")
)

// IPN 处理结果，用于回调应答与日志
const (
	IPNOutcomeCredited  = "credited"
	IPNOutcomeDuplicate = "duplicate"
	IPNOutcomeFailed    = "failed"
	IPNOutcomePending   = "pending"
)

type DepositService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	gatewayClient   *gateway.Client
	accountRepo     *repository.AccountRepository
	paymentRepo     *repository.PaymentRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
}

func NewDepositService(db *gorm.DB, redisClient *redis.Client, gatewayClient *gateway.Client, cfg *config.Config) *DepositService {
	return &DepositService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		gatewayClient:   gatewayClient,
		accountRepo:     repository.NewAccountRepository(db),
		paymentRepo:     repository.NewPaymentRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

type CreateDepositRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	AmountCents int64  `json:"amount" binding:"required,gt=0"`
	Currency    string `json:"currency" binding:"required"`
	Network     string `json:"network"`
	Email       string `json:"email" binding:"required,email"`
}

type CreateDepositResponse struct {
	TxnID       string `json:"txn_id"`
	CheckoutURL string `json:"checkout_url"`
}

// CreateDeposit 发起充值：调网关建单，落盘 PENDING 充值单
// 钱包在这里不发生任何变动，入账只认 IPN 回调
func (s *DepositService) CreateDeposit(ctx context.Context, req *CreateDepositRequest) (*CreateDepositResponse, error) {
	if req.AmountCents <= 0 {
		return nil, ErrInvalidDepositAmount
	}

	if _, err := s.accountRepo.GetByUserID(ctx, req.UserID); err != nil {
		return nil, err
	}

	result, err := s.gatewayClient.CreateTransaction(ctx, &gateway.CreateTransactionRequest{
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Network:     req.Network,
		BuyerEmail:  req.Email,
		UserID:      req.UserID,
	})
	if err != nil {
		return nil, err
	}

	payment := &model.Payment{
		TxnID:       result.TxnID,
		UserID:      req.UserID,
		Amount:      req.AmountCents,
		Currency:    req.Currency,
		Network:     req.Network,
		Status:      model.PaymentStatusPending,
		CheckoutURL: result.CheckoutURL,
	}
	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("保存充值单失败: %w", err)
	}

	log.Printf("充值单已创建: txnID=%s, userID=%d, amount=%d", result.TxnID, req.UserID, req.AmountCents)

	return &CreateDepositResponse{
		TxnID:       result.TxnID,
		CheckoutURL: result.CheckoutURL,
	}, nil
}

// IPNNotification 网关回调的业务字段（签名已在 handler 层校验）
type IPNNotification struct {
	TxnID       string
	StatusCode  int // 网关状态码：>=100 到账，<0 失败/取消，其余处理中
	UserID      int64
	AmountCents int64
	Currency    string
	Merchant    string
}

// ApplyIPN 处理充值回调（核心入账路径）
//
// 【关键点】
// 1. 幂等：同一 txn_id 的到账回调只入账一次 —— 网关会重发回调，
//    判定依据是 external_ref = txn_id 的 DEPOSIT 流水是否已存在；
//    并发重发按交易号加分布式锁，拿到锁后二次校验
// 2. 原子：充值单置 COMPLETED、余额自增、流水落库在同一事务
// 3. 无状态：每次调用只依赖存储，入账中途失败由网关重发兜底
func (s *DepositService) ApplyIPN(ctx context.Context, ipn *IPNNotification) (string, error) {
	if ipn.Merchant != s.cfg.Gateway.MerchantID {
		return "", ErrIPNAuthentication
	}
	if ipn.TxnID == "" || ipn.UserID <= 0 {
		return "", ErrIPNValidation
	}

	payment, err := s.paymentRepo.GetByTxnID(ctx, ipn.TxnID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return "", fmt.Errorf("%w: 未知充值单 %s", ErrIPNValidation, ipn.TxnID)
		}
		return "", fmt.Errorf("查询充值单失败: %w", err)
	}

	switch {
	case ipn.StatusCode >= model.IPNStatusConfirmed:
		if ipn.AmountCents <= 0 {
			return "", fmt.Errorf("%w: 到账金额必须大于0", ErrIPNValidation)
		}
		return s.creditDeposit(ctx, payment, ipn)

	case ipn.StatusCode < 0:
		if err := s.paymentRepo.UpdateStatus(ctx, nil, ipn.TxnID, model.PaymentStatusFailed); err != nil {
			return "", fmt.Errorf("更新充值单失败: %w", err)
		}
		log.Printf("充值失败或已取消: txnID=%s, status=%d", ipn.TxnID, ipn.StatusCode)
		return IPNOutcomeFailed, nil

	default:
		if err := s.paymentRepo.UpdateStatus(ctx, nil, ipn.TxnID, model.PaymentStatusPending); err != nil {
			return "", fmt.Errorf("更新充值单失败: %w", err)
		}
		log.Printf("充值处理中: txnID=%s, status=%d", ipn.TxnID, ipn.StatusCode)
		return IPNOutcomePending, nil
	}
}

func (s *DepositService) creditDeposit(ctx context.Context, payment *model.Payment, ipn *IPNNotification) (string, error) {
	// 幂等校验：该 txn_id 已有充值流水则直接应答成功
	existing, err := s.transactionRepo.GetByExternalRef(ctx, ipn.TxnID, model.TransactionTypeDeposit)
	if err != nil {
		return "", fmt.Errorf("查询流水失败: %w", err)
	}
	if existing != nil {
		log.Printf("重复的到账回调，忽略: txnID=%s", ipn.TxnID)
		return IPNOutcomeDuplicate, nil
	}

	// 【关键点】同一 txn_id 的并发回调必须互斥：
	// 两个回调可以同时通过上面的幂等校验，各自入账一次。
	// 按交易号加锁，拿到锁后再查一次才是可信的判定
	depositLock := lock.NewDepositLock(s.redisClient, ipn.TxnID)
	if err := depositLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return "", fmt.Errorf("获取入账锁失败: %w", err)
	}
	defer depositLock.Unlock(ctx)

	existing, err = s.transactionRepo.GetByExternalRef(ctx, ipn.TxnID, model.TransactionTypeDeposit)
	if err != nil {
		return "", fmt.Errorf("查询流水失败: %w", err)
	}
	if existing != nil {
		log.Printf("重复的到账回调，忽略: txnID=%s", ipn.TxnID)
		return IPNOutcomeDuplicate, nil
	}

	// 入账以回调金额为准（网关可能按实际到账调整），与建单金额不一致时记日志备查
	if payment.Amount != ipn.AmountCents {
		log.Printf("到账金额与建单金额不一致: txnID=%s, created=%d, paid=%d",
			ipn.TxnID, payment.Amount, ipn.AmountCents)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByUserID(ctx, ipn.UserID)
		if err != nil {
			return fmt.Errorf("查询账户失败: %w", err)
		}

		if err := s.paymentRepo.UpdateStatus(ctx, tx, ipn.TxnID, model.PaymentStatusCompleted); err != nil {
			return fmt.Errorf("更新充值单失败: %w", err)
		}

		if err := s.accountRepo.IncreaseBalance(ctx, tx, ipn.UserID, ipn.AmountCents); err != nil {
			return fmt.Errorf("入账失败: %w", err)
		}

		transaction := &model.WalletTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        ipn.UserID,
			Type:          model.TransactionTypeDeposit,
			Amount:        ipn.AmountCents,
			Status:        model.TransactionStatusCompleted,
			ExternalRef:   ipn.TxnID,
			BalanceBefore: account.WalletBalance,
			BalanceAfter:  account.WalletBalance + ipn.AmountCents,
			Notes:         fmt.Sprintf("充值-%s", ipn.Currency),
		}
		if err := s.transactionRepo.Create(ctx, tx, transaction); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		msgPayload := map[string]interface{}{
			"event":   "deposit_credited",
			"txn_id":  ipn.TxnID,
			"user_id": ipn.UserID,
			"amount":  ipn.AmountCents,
		}
		payloadBytes, _ := json.Marshal(msgPayload)

		outboxMsg := &model.OutboxMessage{
			MessageKey: ipn.TxnID,
			Topic:      s.cfg.Kafka.Topic.LedgerEvents,
			Payload:    string(payloadBytes),
			Status:     model.OutboxStatusPending,
		}
		return s.outboxRepo.Create(ctx, tx, outboxMsg)
	})

	if err != nil {
		return "", err
	}

	log.Printf("充值入账成功: txnID=%s, userID=%d, amount=%d", ipn.TxnID, ipn.UserID, ipn.AmountCents)

	return IPNOutcomeCredited, nil
}
