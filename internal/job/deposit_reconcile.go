package job

import (
	"context"
	"log"
	"time"

	"stakevault/internal/config"
	"stakevault/internal/model"
	"stakevault/internal/repository"
	"stakevault/internal/service"

	"gorm.io/gorm"
)

// DepositReconcileJob 充值对账补偿任务
//
// 防护的异常场景：IPN 处理过程中充值单已标记 COMPLETED，
// 但钱包入账或流水落库失败（虽然两者同事务，但历史数据或人工改单
// 可能造成缺口）。已确认的充值绝不允许静默丢失，
// 周期性比对 COMPLETED 充值单与 DEPOSIT 流水，缺失的重新走幂等入账
type DepositReconcileJob struct {
	db              *gorm.DB
	paymentRepo     *repository.PaymentRepository
	transactionRepo *repository.TransactionRepository
	depositService  *service.DepositService
	cfg             *config.Config
	stopCh          chan struct{}
	interval        time.Duration
	lookback        time.Duration
	batchSize       int
}

func NewDepositReconcileJob(db *gorm.DB, depositService *service.DepositService, cfg *config.Config) *DepositReconcileJob {
	return &DepositReconcileJob{
		db:              db,
		paymentRepo:     repository.NewPaymentRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		depositService:  depositService,
		cfg:             cfg,
		stopCh:          make(chan struct{}),
		interval:        60 * time.Second,
		lookback:        24 * time.Hour,
		batchSize:       100,
	}
}

func (j *DepositReconcileJob) Start(ctx context.Context) {
	log.Println("[DepositReconcile] 充值对账任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[DepositReconcile] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[DepositReconcile] 任务停止")
			return
		case <-ticker.C:
			j.reconcile(ctx)
		}
	}
}

func (j *DepositReconcileJob) Stop() {
	close(j.stopCh)
}

func (j *DepositReconcileJob) reconcile(ctx context.Context) {
	since := time.Now().Add(-j.lookback)
	payments, err := j.paymentRepo.ListCompletedSince(ctx, since, j.batchSize)
	if err != nil {
		log.Printf("[DepositReconcile] 查询充值单失败: %v", err)
		return
	}

	for _, payment := range payments {
		trans, err := j.transactionRepo.GetByExternalRef(ctx, payment.TxnID, model.TransactionTypeDeposit)
		if err != nil {
			log.Printf("[DepositReconcile] 查询流水失败: txnID=%s, err=%v", payment.TxnID, err)
			continue
		}
		if trans != nil {
			continue
		}

		// 充值单已完成但没有入账流水，说明入账步骤丢失，补记一次
		log.Printf("[DepositReconcile] 发现已完成但未入账的充值单: txnID=%s, userID=%d, amount=%d",
			payment.TxnID, payment.UserID, payment.Amount)

		outcome, err := j.depositService.ApplyIPN(ctx, &service.IPNNotification{
			TxnID:       payment.TxnID,
			StatusCode:  model.IPNStatusConfirmed,
			UserID:      payment.UserID,
			AmountCents: payment.Amount,
			Currency:    payment.Currency,
			Merchant:    j.cfg.Gateway.MerchantID,
		})
		if err != nil {
			log.Printf("[DepositReconcile] 补偿入账失败: txnID=%s, err=%v", payment.TxnID, err)
			continue
		}

		log.Printf("[DepositReconcile] 补偿入账完成: txnID=%s, outcome=%s", payment.TxnID, outcome)
	}
}
