package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"stakevault/internal/model"

	"gorm.io/gorm"
)

func seedStake(t *testing.T, db *gorm.DB, userID int64, amount, weekly int64, weeks int) *model.Stake {
	t.Helper()
	stake := &model.Stake{
		StakeNo:          "STK-test-" + time.Now().Format("150405.000000") + "-" + t.Name(),
		RequestID:        "req-" + t.Name(),
		UserID:           userID,
		PackID:           1,
		InvestmentAmount: amount,
		WeeklyReturn:     weekly,
		DurationWeeks:    weeks,
		Status:           model.StakeStatusActive,
	}
	if err := db.Create(stake).Error; err != nil {
		t.Fatalf("创建测试质押失败: %v", err)
	}
	return stake
}

func TestCurrentPeriodFormat(t *testing.T) {
	// 2026-08-29 是 ISO 2026 年第 35 周
	got := CurrentPeriod(time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC))
	if got != "2026-W35" {
		t.Fatalf("期望 2026-W35，实际 %s", got)
	}

	// 跨年边界：2024-12-30 已属于 ISO 2025 年第 1 周
	got = CurrentPeriod(time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC))
	if got != "2025-W01" {
		t.Fatalf("期望 2025-W01，实际 %s", got)
	}
}

func TestCreditWeeklyGainsIdempotentPerPeriod(t *testing.T) {
	db := newTestDB(t)
	svc := NewPayoutService(db, newTestRedis(t), newTestConfig())
	ctx := context.Background()

	mustCreateAccount(t, db, 4001, 0, "RF4001", "")
	stake := seedStake(t, db, 4001, 500_00, 20_00, 48)

	report, err := svc.CreditWeeklyGains(ctx, 4001, "2026-W01")
	if err != nil {
		t.Fatalf("派息失败: %v", err)
	}
	if report.Credited != 1 || report.Skipped != 0 || report.Failed != 0 {
		t.Fatalf("首次派息汇总异常: %+v", report)
	}
	if r := report.Results[0]; r.CreditedWeek != 1 || r.Amount != 20_00 || r.Completed {
		t.Fatalf("首次派息结果异常: %+v", r)
	}

	if account := mustGetAccount(t, db, 4001); account.WalletBalance != 20_00 {
		t.Fatalf("派息后余额应为 2000，实际 %d", account.WalletBalance)
	}

	// 同一周期重跑：必须整单跳过，余额不变
	report, err = svc.CreditWeeklyGains(ctx, 4001, "2026-W01")
	if err != nil {
		t.Fatalf("重跑派息失败: %v", err)
	}
	if report.Credited != 0 || report.Skipped != 1 {
		t.Fatalf("重跑应全部跳过: %+v", report)
	}
	if account := mustGetAccount(t, db, 4001); account.WalletBalance != 20_00 {
		t.Fatalf("重跑不应二次入账，余额 %d", account.WalletBalance)
	}

	var reloaded model.Stake
	if err := db.First(&reloaded, stake.ID).Error; err != nil {
		t.Fatalf("查询质押失败: %v", err)
	}
	if reloaded.CurrentWeek != 1 || reloaded.TotalEarned != 20_00 || reloaded.LastCreditedPeriod != "2026-W01" {
		t.Fatalf("质押推进状态异常: %+v", reloaded)
	}
}

func TestCreditWeeklyGainsMaturityReleasesCapital(t *testing.T) {
	db := newTestDB(t)
	svc := NewPayoutService(db, newTestRedis(t), newTestConfig())
	ctx := context.Background()

	mustCreateAccount(t, db, 4002, 0, "RF4002", "")
	stake := seedStake(t, db, 4002, 500_00, 20_00, 2)

	// 第一周：正常周收益
	report, err := svc.CreditWeeklyGains(ctx, 4002, "2026-W01")
	if err != nil {
		t.Fatalf("派息失败: %v", err)
	}
	if r := report.Results[0]; r.Amount != 20_00 || r.Completed {
		t.Fatalf("第一周结果异常: %+v", r)
	}

	// 第二周（最后一周）：周收益 + 本金返还，质押完结
	report, err = svc.CreditWeeklyGains(ctx, 4002, "2026-W02")
	if err != nil {
		t.Fatalf("派息失败: %v", err)
	}
	if r := report.Results[0]; r.Amount != 520_00 || !r.Completed || r.CreditedWeek != 2 {
		t.Fatalf("到期周结果异常: %+v", r)
	}

	account := mustGetAccount(t, db, 4002)
	if account.WalletBalance != 540_00 {
		t.Fatalf("到期后余额应为 54000（两周收益+本金），实际 %d", account.WalletBalance)
	}
	if account.ReleasedCapital != 500_00 {
		t.Fatalf("released_capital 应为 50000，实际 %d", account.ReleasedCapital)
	}

	var reloaded model.Stake
	if err := db.First(&reloaded, stake.ID).Error; err != nil {
		t.Fatalf("查询质押失败: %v", err)
	}
	if reloaded.Status != model.StakeStatusCompleted {
		t.Fatalf("到期质押应为 COMPLETED，实际 %s", reloaded.Status)
	}
	if reloaded.TotalEarned != 40_00 {
		t.Fatalf("累计收益应为 4000（不含本金），实际 %d", reloaded.TotalEarned)
	}

	// 终态质押不再参与派息
	report, err = svc.CreditWeeklyGains(ctx, 4002, "2026-W03")
	if err != nil {
		t.Fatalf("派息失败: %v", err)
	}
	if len(report.Results) != 0 {
		t.Fatalf("完结质押不应再被处理: %+v", report)
	}

	// 到期周流水应包含本金，保持 余额 == COMPLETED 流水签名和 的口径
	var maturityTxn model.WalletTransaction
	if err := db.Where("user_id = ? AND amount = ?", int64(4002), int64(520_00)).First(&maturityTxn).Error; err != nil {
		t.Fatalf("到期流水未落盘: %v", err)
	}
	if maturityTxn.Type != model.TransactionTypeReturn {
		t.Fatalf("到期流水类型应为 RETURN，实际 %s", maturityTxn.Type)
	}
}

// 48 周完整走一遍合约生命周期：每周入账一次周收益，
// 最后一周连本金一起入账并完结，之后的周期不再产生任何变动
func TestCreditWeeklyGainsFullLifecycle(t *testing.T) {
	db := newTestDB(t)
	svc := NewPayoutService(db, newTestRedis(t), newTestConfig())
	ctx := context.Background()

	mustCreateAccount(t, db, 4004, 0, "RF4004", "")
	stake := seedStake(t, db, 4004, 500_00, 20_00, 48)

	for week := 1; week <= 48; week++ {
		period := fmt.Sprintf("2026-W%02d", week)
		report, err := svc.CreditWeeklyGains(ctx, 4004, period)
		if err != nil {
			t.Fatalf("第%d周派息失败: %v", week, err)
		}
		if report.Credited != 1 || report.Failed != 0 {
			t.Fatalf("第%d周派息汇总异常: %+v", week, report)
		}

		r := report.Results[0]
		if r.CreditedWeek != week {
			t.Fatalf("第%d周推进周数异常: %+v", week, r)
		}
		wantAmount := int64(20_00)
		if week == 48 {
			wantAmount = 520_00
		}
		if r.Amount != wantAmount || r.Completed != (week == 48) {
			t.Fatalf("第%d周入账结果异常: %+v", week, r)
		}
	}

	// 48 周收益 960 + 到期本金 500
	account := mustGetAccount(t, db, 4004)
	if account.WalletBalance != 1_460_00 {
		t.Fatalf("完整周期后余额应为 146000，实际 %d", account.WalletBalance)
	}
	if account.ReleasedCapital != 500_00 {
		t.Fatalf("released_capital 应为 50000，实际 %d", account.ReleasedCapital)
	}

	var reloaded model.Stake
	if err := db.First(&reloaded, stake.ID).Error; err != nil {
		t.Fatalf("查询质押失败: %v", err)
	}
	if reloaded.Status != model.StakeStatusCompleted || reloaded.CurrentWeek != 48 {
		t.Fatalf("合约应在第48周完结: %+v", reloaded)
	}
	if reloaded.TotalEarned != 960_00 {
		t.Fatalf("累计收益应为 96000（不含本金），实际 %d", reloaded.TotalEarned)
	}

	if n := countRows(t, db, &model.WalletTransaction{}, "external_ref = ? AND type = ?", stake.StakeNo, model.TransactionTypeReturn); n != 48 {
		t.Fatalf("应有48条收益流水，实际 %d", n)
	}

	// 完结后的周期什么都不会发生
	report, err := svc.CreditWeeklyGains(ctx, 4004, "2026-W49")
	if err != nil {
		t.Fatalf("完结后派息失败: %v", err)
	}
	if len(report.Results) != 0 {
		t.Fatalf("完结合约不应再被处理: %+v", report)
	}
	if account := mustGetAccount(t, db, 4004); account.WalletBalance != 1_460_00 {
		t.Fatalf("完结后余额不应再变化，实际 %d", account.WalletBalance)
	}
}

func TestCreditWeeklyGainsMultipleStakes(t *testing.T) {
	db := newTestDB(t)
	svc := NewPayoutService(db, newTestRedis(t), newTestConfig())
	ctx := context.Background()

	mustCreateAccount(t, db, 4003, 0, "RF4003", "")

	seedStake(t, db, 4003, 500_00, 20_00, 48)
	s2 := &model.Stake{
		StakeNo: "STK-test-second", RequestID: "req-second", UserID: 4003, PackID: 2,
		InvestmentAmount: 1_000_00, WeeklyReturn: 45_00, DurationWeeks: 48,
		Status: model.StakeStatusActive,
	}
	if err := db.Create(s2).Error; err != nil {
		t.Fatalf("创建第二笔质押失败: %v", err)
	}

	report, err := svc.CreditWeeklyGains(ctx, 4003, "2026-W10")
	if err != nil {
		t.Fatalf("派息失败: %v", err)
	}
	if report.Credited != 2 {
		t.Fatalf("两笔质押都应入账: %+v", report)
	}

	if account := mustGetAccount(t, db, 4003); account.WalletBalance != 65_00 {
		t.Fatalf("余额应为 6500，实际 %d", account.WalletBalance)
	}
}
