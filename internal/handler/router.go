package handler

import (
	"stakevault/internal/config"
	"stakevault/internal/gateway"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, gatewayClient *gateway.Client, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, gatewayClient, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 账户相关
		account := api.Group("/account")
		{
			account.POST("/register", h.Register)
			account.GET("/summary", h.GetSummary)
			account.GET("/transactions", h.ListTransactions)
			account.GET("/stakes", h.ListStakes)
			account.GET("/commissions", h.ListCommissions)
		}

		// 套餐目录
		pack := api.Group("/pack")
		{
			pack.GET("/list", h.ListPacks)
		}

		// 充值相关（IPN 回调自带签名校验，不走 Token 鉴权）
		deposit := api.Group("/deposit")
		{
			deposit.POST("/create", h.CreateDeposit)
			deposit.POST("/ipn", h.DepositIPN)
		}

		// 质押购买
		stake := api.Group("/stake")
		{
			stake.POST("/purchase", h.PurchaseStake)
		}

		// 派息（外部调度触发）
		payout := api.Group("/payout")
		payout.Use(AuthMiddleware(cfg.Business.ServiceToken))
		{
			payout.POST("/credit", h.CreditPayout)
		}

		// 提现（资金出口，Token 鉴权）
		withdrawal := api.Group("/withdrawal")
		withdrawal.Use(AuthMiddleware(cfg.Business.ServiceToken))
		{
			withdrawal.POST("/request", h.RequestWithdrawal)
			withdrawal.POST("/confirm", h.ConfirmWithdrawal)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
