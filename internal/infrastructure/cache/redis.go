package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"stakevault/internal/config"

	"github.com/go-redis/redis/v8"
)

var RedisClient *redis.Client

const pingTimeout = 5 * time.Second

// InitRedis 初始化 Redis 连接
// 购买、充值入账、派息、提现的分布式锁都建立在这条连接上，
// 连接不可用时直接终止进程，不允许资金路径在没有互斥的情况下运行
func InitRedis(cfg *config.RedisConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 启动即探活，锁的底座坏了要在开门前发现
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("连接 Redis 失败: %v", err)
	}

	RedisClient = client
	log.Println("Redis 连接成功")
	return client
}
