package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"stakevault/internal/config"
	"stakevault/internal/infrastructure/cache"
	"stakevault/internal/infrastructure/database"
	"stakevault/internal/service"
	"stakevault/pkg/idgen"
)

// 按用户手动触发周派息的运维工具。
// 外部 cron 无法使用时可以用它补发某个周期：
//
//	payout -user 10001 -period 2026-W35
func main() {
	var (
		configPath = flag.String("config", "config/config.yaml", "配置文件路径")
		userID     = flag.Int64("user", 0, "用户ID（必填）")
		period     = flag.String("period", "", "派息周期，如 2026-W35，缺省为当前 ISO 周")
	)
	flag.Parse()

	if *userID <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.LoadConfig(*configPath)
	idgen.Init(2)

	db := database.InitMySQL(&cfg.MySQL)
	redisClient := cache.InitRedis(&cfg.Redis)

	p := *period
	if p == "" {
		p = service.CurrentPeriod(time.Now())
	}

	payoutService := service.NewPayoutService(db, redisClient, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	report, err := payoutService.CreditWeeklyGains(ctx, *userID, p)
	if err != nil {
		log.Fatalf("派息失败: userID=%d, period=%s, err=%v", *userID, p, err)
	}

	fmt.Printf("派息完成: userID=%d, period=%s, 成功=%d, 跳过=%d, 失败=%d\n",
		report.UserID, report.Period, report.Credited, report.Skipped, report.Failed)

	for _, r := range report.Results {
		switch {
		case r.Error != "":
			fmt.Printf("  %s 第%d周 失败: %s\n", r.StakeNo, r.CreditedWeek, r.Error)
		case r.Skipped:
			fmt.Printf("  %s 已派息，跳过\n", r.StakeNo)
		case r.Completed:
			fmt.Printf("  %s 第%d周 +%d（含到期本金）合约完结\n", r.StakeNo, r.CreditedWeek, r.Amount)
		default:
			fmt.Printf("  %s 第%d周 +%d\n", r.StakeNo, r.CreditedWeek, r.Amount)
		}
	}
}
