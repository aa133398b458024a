package database

import (
	"fmt"
	"log"
	"time"

	"stakevault/internal/config"
	"stakevault/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 连接
func InitMySQL(cfg *config.MySQLConfig) *gorm.DB {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("连接 MySQL 失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("获取底层 DB 失败: %v", err)
	}

	// 连接池配置
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		log.Fatalf("自动迁移表结构失败: %v", err)
	}

	DB = db
	log.Println("MySQL 连接成功")
	return db
}

// Migrate 迁移表结构
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Account{},
		&model.InvestmentPack{},
		&model.Stake{},
		&model.WalletTransaction{},
		&model.Payment{},
		&model.ReferralCommission{},
		&model.Withdrawal{},
		&model.OutboxMessage{},
	)
}

// SeedPacks 写入初始套餐目录（已有数据则跳过）
// 目录为只读参考数据，金额单位美分，合约期 48 周
func SeedPacks(db *gorm.DB) error {
	var total int64
	if err := db.Model(&model.InvestmentPack{}).Count(&total).Error; err != nil {
		return err
	}
	if total > 0 {
		return nil
	}

	packs := []model.InvestmentPack{
		{Name: "Starter", Amount: 500_00, WeeklyReturn: 20_00, TotalReturn: 960_00, DurationWeeks: 48},
		{Name: "Growth", Amount: 1_000_00, WeeklyReturn: 45_00, TotalReturn: 2_160_00, DurationWeeks: 48},
		{Name: "Premium", Amount: 5_000_00, WeeklyReturn: 250_00, TotalReturn: 12_000_00, DurationWeeks: 48},
		{Name: "Elite", Amount: 10_000_00, WeeklyReturn: 550_00, TotalReturn: 26_400_00, DurationWeeks: 48},
	}

	return db.Create(&packs).Error
}
