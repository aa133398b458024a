package job

import (
	"context"
	"log"
	"time"

	"stakevault/internal/config"
	"stakevault/internal/repository"
	"stakevault/internal/service"

	"gorm.io/gorm"
)

// WeeklyPayoutJob 内置周派息任务
//
// 生产上派息通常由外部调度（cron 逐用户触发 /payout/credit），
// 该任务是兜底：按配置的间隔扫一遍持有活跃质押的用户，为当前
// ISO 周期补发。派息本身按质押×周期幂等，这里重复触发是安全的
type WeeklyPayoutJob struct {
	db            *gorm.DB
	stakeRepo     *repository.StakeRepository
	payoutService *service.PayoutService
	cfg           *config.Config
	stopCh        chan struct{}
	interval      time.Duration
	batchSize     int
}

func NewWeeklyPayoutJob(db *gorm.DB, payoutService *service.PayoutService, cfg *config.Config) *WeeklyPayoutJob {
	intervalHours := cfg.Business.PayoutIntervalHours
	if intervalHours <= 0 {
		intervalHours = 6
	}
	return &WeeklyPayoutJob{
		db:            db,
		stakeRepo:     repository.NewStakeRepository(db),
		payoutService: payoutService,
		cfg:           cfg,
		stopCh:        make(chan struct{}),
		interval:      time.Duration(intervalHours) * time.Hour,
		batchSize:     1000,
	}
}

func (j *WeeklyPayoutJob) Start(ctx context.Context) {
	log.Println("[WeeklyPayout] 周派息任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[WeeklyPayout] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[WeeklyPayout] 任务停止")
			return
		case <-ticker.C:
			j.creditAll(ctx)
		}
	}
}

func (j *WeeklyPayoutJob) Stop() {
	close(j.stopCh)
}

func (j *WeeklyPayoutJob) creditAll(ctx context.Context) {
	period := service.CurrentPeriod(time.Now())

	userIDs, err := j.stakeRepo.ListUserIDsWithActiveStakes(ctx, j.batchSize)
	if err != nil {
		log.Printf("[WeeklyPayout] 查询派息用户失败: %v", err)
		return
	}

	if len(userIDs) == 0 {
		return
	}

	log.Printf("[WeeklyPayout] 本轮派息用户数: %d, period=%s", len(userIDs), period)

	for _, userID := range userIDs {
		report, err := j.payoutService.CreditWeeklyGains(ctx, userID, period)
		if err != nil {
			log.Printf("[WeeklyPayout] 用户派息失败: userID=%d, err=%v", userID, err)
			continue
		}
		if report.Failed > 0 {
			log.Printf("[WeeklyPayout] 用户部分质押派息失败: userID=%d, failed=%d", userID, report.Failed)
		}
	}
}
