package service

import (
	"fmt"
	"sync/atomic"
	"testing"

	"stakevault/internal/config"
	"stakevault/internal/infrastructure/database"
	"stakevault/internal/model"
	"stakevault/pkg/idgen"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq int64

func init() {
	idgen.Init(1)
}

// newTestDB 每个测试一个独立的内存库，表结构与生产一致
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:svc%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
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

// newFileTestDB 文件库版本，供并发用例使用：
// 内存共享缓存库在并发读写下会报表锁错误，文件库走正常的
// 忙等重试（_busy_timeout），并发语义与生产 MySQL 更接近
func newFileTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s/svc.db?_busy_timeout=5000", t.TempDir())
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

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Kafka.Topic.LedgerEvents = "ledger-events-test"
	cfg.Gateway.MerchantID = "merchant-test"
	cfg.Business.WithdrawalNetwork = "BEP20"
	cfg.Business.WithdrawalMinAmount = 10_00
	return cfg
}

func mustCreateAccount(t *testing.T, db *gorm.DB, userID, balance int64, referralCode, referredByCode string) *model.Account {
	t.Helper()
	account := &model.Account{
		UserID:         userID,
		WalletBalance:  balance,
		ReferralCode:   referralCode,
		ReferredByCode: referredByCode,
	}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("创建测试账户失败: %v", err)
	}
	return account
}

func mustGetAccount(t *testing.T, db *gorm.DB, userID int64) *model.Account {
	t.Helper()
	var account model.Account
	if err := db.Where("user_id = ?", userID).First(&account).Error; err != nil {
		t.Fatalf("查询测试账户失败: %v", err)
	}
	return &account
}

func countRows(t *testing.T, db *gorm.DB, m interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var total int64
	q := db.Model(m)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&total).Error; err != nil {
		t.Fatalf("统计行数失败: %v", err)
	}
	return total
}
