package service

import (
	"context"
	"errors"
	"fmt"

	"stakevault/internal/model"
	"stakevault/internal/repository"
	"stakevault/pkg/idgen"

	"gorm.io/gorm"
)

var ErrInvalidReferralCode = errors.New("推荐码无效")

type AccountService struct {
	db              *gorm.DB
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
}

func NewAccountService(db *gorm.DB) *AccountService {
	return &AccountService{
		db:              db,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

// Register 注册时建账户
// 身份认证由外部身份服务负责，这里只负责账本侧的账户行：
// 生成本人推荐码，校验并落盘推荐人推荐码
func (s *AccountService) Register(ctx context.Context, userID int64, referredByCode string) (*model.Account, error) {
	if referredByCode != "" {
		if _, err := s.accountRepo.GetByReferralCode(ctx, referredByCode); err != nil {
			if errors.Is(err, repository.ErrReferrerNotFound) {
				return nil, ErrInvalidReferralCode
			}
			return nil, fmt.Errorf("校验推荐码失败: %w", err)
		}
	}

	return s.accountRepo.GetOrCreate(ctx, userID, idgen.GenerateReferralCode(), referredByCode)
}

func (s *AccountService) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	return s.accountRepo.GetByUserID(ctx, userID)
}

func (s *AccountService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	return s.transactionRepo.ListByUserID(ctx, userID, page, pageSize)
}

// VerifyLedger 对账校验：余额必须等于已完成流水的签名和
// 返回 (余额, 流水和, 是否一致)
func (s *AccountService) VerifyLedger(ctx context.Context, userID int64) (int64, int64, bool, error) {
	account, err := s.accountRepo.GetByUserID(ctx, userID)
	if err != nil {
		return 0, 0, false, err
	}

	sum, err := s.transactionRepo.SumCompletedByUserID(ctx, userID)
	if err != nil {
		return 0, 0, false, err
	}

	return account.WalletBalance, sum, account.WalletBalance == sum, nil
}
