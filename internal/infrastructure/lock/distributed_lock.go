package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【为什么需要分布式锁？】
//
// 场景：用户A的购买请求与周派息同时到达（或网络抖动导致重复提交）
//
// 如果没有分布式锁：
//   goroutine1: 查询余额=100 -> 扣款100 -> 余额=0   OK
//   goroutine2: 查询余额=100 -> 扣款100 -> 余额=-100 超扣了！
//
// 加了分布式锁：
//   goroutine1: 获取锁 -> 查询余额=100 -> 扣款100 -> 余额=0 -> 释放锁
//   goroutine2: 获取锁失败，等待... -> 获取锁 -> 查询余额=0 -> 余额不足，拒绝
//
// 服务可能多实例部署，所以互斥必须放在 Redis / 数据库层，
// 进程内的 sync.Mutex 保护不了跨实例的并发
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：使用 Lua 脚本保证原子性
//   - 先检查 value 是否是自己的
//   - 再删除 key
//
// ============================================================================

var (
	ErrLockFailed  = errors.New("获取分布式锁失败")
	ErrLockExpired = errors.New("锁已过期")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		// 等待一段时间后重试
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// 【关键点】使用 Lua 脚本保证"检查+删除"操作的原子性
//
// 为什么要检查 value？
//
//	场景：A 获取锁 -> A 处理超时，锁自动过期 -> B 获取锁 -> A 执行完毕，调用 Unlock
//	如果不检查 value，A 会把 B 的锁删掉！
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// 便捷函数：按用户维度的业务锁
//
// 同一用户的余额变更操作互斥，不同用户可以并发
// ============================================================================

// NewPurchaseLock 创建购买锁（按用户维度）
func NewPurchaseLock(client *redis.Client, userID int64, requestID string) *DistributedLock {
	key := fmt.Sprintf("stake:lock:user:%d", userID)
	// value 使用 requestID，便于追踪是哪个请求持有锁
	return NewDistributedLock(client, key, requestID, 30*time.Second)
}

// NewDepositLock 创建充值入账锁（按网关交易号维度）
// 网关会并发重发同一笔 IPN，幂等判定与入账必须互斥，
// 否则两个回调都查不到已有流水，各自入账一次
func NewDepositLock(client *redis.Client, txnID string) *DistributedLock {
	key := fmt.Sprintf("deposit:lock:txn:%s", txnID)
	return NewDistributedLock(client, key, txnID, 30*time.Second)
}

// NewWithdrawRequestLock 创建提现申请锁（按用户维度）
// 可提现额校验与提现单落库之间不允许并发申请挤占同一份额度
func NewWithdrawRequestLock(client *redis.Client, userID int64, holder string) *DistributedLock {
	key := fmt.Sprintf("withdraw:lock:user:%d", userID)
	return NewDistributedLock(client, key, holder, 30*time.Second)
}

// NewPayoutLock 创建周派息锁（按用户维度）
// cron 重跑、人工补发与内置任务三方可能并发触发同一用户的派息
func NewPayoutLock(client *redis.Client, userID int64, period string) *DistributedLock {
	key := fmt.Sprintf("payout:lock:user:%d", userID)
	return NewDistributedLock(client, key, period, 60*time.Second)
}

// NewWithdrawLock 创建提现锁（按提现单维度）
func NewWithdrawLock(client *redis.Client, withdrawalNo, holder string) *DistributedLock {
	key := fmt.Sprintf("withdraw:lock:no:%s", withdrawalNo)
	return NewDistributedLock(client, key, holder, 30*time.Second)
}
