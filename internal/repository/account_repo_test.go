package repository

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"stakevault/internal/infrastructure/database"
	"stakevault/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:repo%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试库失败: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}

	return db
}

func TestDeductGuards(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	if err := db.Create(&model.Account{UserID: 1, WalletBalance: 100_00, ReferralCode: "RF1"}).Error; err != nil {
		t.Fatalf("创建账户失败: %v", err)
	}

	account, err := repo.GetByUserID(ctx, 1)
	if err != nil {
		t.Fatalf("查询账户失败: %v", err)
	}

	// 余额不足：单条 SQL 内拒绝
	if err := repo.Deduct(ctx, nil, 1, 100_01, account.Version); !errors.Is(err, ErrBalanceNotEnough) {
		t.Fatalf("期望 ErrBalanceNotEnough，实际 %v", err)
	}

	// 正常扣减
	if err := repo.Deduct(ctx, nil, 1, 60_00, account.Version); err != nil {
		t.Fatalf("扣减失败: %v", err)
	}

	// 版本号已推进，旧版本的扣减必须被乐观锁挡下
	if err := repo.Deduct(ctx, nil, 1, 10_00, account.Version); !errors.Is(err, ErrOptimisticLock) {
		t.Fatalf("期望 ErrOptimisticLock，实际 %v", err)
	}

	account, _ = repo.GetByUserID(ctx, 1)
	if account.WalletBalance != 40_00 {
		t.Fatalf("余额应为 4000，实际 %d", account.WalletBalance)
	}
}

func TestIncreaseBalanceUnknownAccount(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)

	if err := repo.IncreaseBalance(context.Background(), nil, 999, 100); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("期望 ErrAccountNotFound，实际 %v", err)
	}
}

func TestGetOrCreateIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	first, err := repo.GetOrCreate(ctx, 2, "RFAAA", "")
	if err != nil {
		t.Fatalf("建账失败: %v", err)
	}

	// 并发重复注册走唯一索引兜底，返回已有行
	second, err := repo.GetOrCreate(ctx, 2, "RFBBB", "")
	if err != nil {
		t.Fatalf("重复建账失败: %v", err)
	}
	if second.ID != first.ID || second.ReferralCode != "RFAAA" {
		t.Fatalf("重复建账应返回原账户: %+v", second)
	}
}

func TestAdvanceWeekGuards(t *testing.T) {
	db := newTestDB(t)
	repo := NewStakeRepository(db)
	ctx := context.Background()

	stake := &model.Stake{
		StakeNo: "STK-adv", RequestID: "req-adv", UserID: 3, PackID: 1,
		InvestmentAmount: 500_00, WeeklyReturn: 20_00, DurationWeeks: 2,
		Status: model.StakeStatusActive,
	}
	if err := db.Create(stake).Error; err != nil {
		t.Fatalf("创建质押失败: %v", err)
	}

	advanced, err := repo.AdvanceWeek(ctx, nil, stake.ID, 0, "2026-W01", false)
	if err != nil || !advanced {
		t.Fatalf("首次推进应成功: advanced=%v err=%v", advanced, err)
	}

	// 同周期重入：last_credited_period 守护
	advanced, err = repo.AdvanceWeek(ctx, nil, stake.ID, 1, "2026-W01", false)
	if err != nil {
		t.Fatalf("推进失败: %v", err)
	}
	if advanced {
		t.Fatal("同一周期不应重复推进")
	}

	// 并发读到旧 current_week：条件不满足
	advanced, err = repo.AdvanceWeek(ctx, nil, stake.ID, 0, "2026-W02", false)
	if err != nil {
		t.Fatalf("推进失败: %v", err)
	}
	if advanced {
		t.Fatal("过期的 current_week 不应推进")
	}

	// 最后一周：置为 COMPLETED
	advanced, err = repo.AdvanceWeek(ctx, nil, stake.ID, 1, "2026-W02", true)
	if err != nil || !advanced {
		t.Fatalf("末周推进应成功: advanced=%v err=%v", advanced, err)
	}

	var reloaded model.Stake
	if err := db.First(&reloaded, stake.ID).Error; err != nil {
		t.Fatalf("查询质押失败: %v", err)
	}
	if reloaded.Status != model.StakeStatusCompleted || reloaded.TotalEarned != 40_00 {
		t.Fatalf("末周推进结果异常: %+v", reloaded)
	}

	// 终态之后永不再推进
	advanced, err = repo.AdvanceWeek(ctx, nil, stake.ID, 2, "2026-W03", false)
	if err != nil {
		t.Fatalf("推进失败: %v", err)
	}
	if advanced {
		t.Fatal("COMPLETED 质押不应再被推进")
	}
}
