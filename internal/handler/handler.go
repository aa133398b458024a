package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"stakevault/internal/config"
	"stakevault/internal/gateway"
	"stakevault/internal/model"
	"stakevault/internal/repository"
	"stakevault/internal/service"
	"stakevault/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	cfg             *config.Config
	accountService  *service.AccountService
	depositService  *service.DepositService
	stakeService    *service.StakeService
	referralService *service.ReferralService
	payoutService   *service.PayoutService
	withdrawService *service.WithdrawService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, gatewayClient *gateway.Client, cfg *config.Config) *Handler {
	return &Handler{
		cfg:             cfg,
		accountService:  service.NewAccountService(db),
		depositService:  service.NewDepositService(db, rdb, gatewayClient, cfg),
		stakeService:    service.NewStakeService(db, rdb, cfg),
		referralService: service.NewReferralService(db),
		payoutService:   service.NewPayoutService(db, rdb, cfg),
		withdrawService: service.NewWithdrawService(db, rdb, cfg),
	}
}

// serviceError 业务错误统一映射到响应码
func serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrAccountNotFound):
		response.BusinessError(c, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, repository.ErrPackNotFound):
		response.BusinessError(c, response.CodePackNotFound, err.Error())
	case errors.Is(err, repository.ErrBalanceNotEnough):
		response.BusinessError(c, response.CodeBalanceNotEnough, err.Error())
	case errors.Is(err, repository.ErrWithdrawalNotFound):
		response.BusinessError(c, response.CodeWithdrawalNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidReferralCode):
		response.BusinessError(c, response.CodeInvalidReferralCode, err.Error())
	case errors.Is(err, service.ErrInvalidWithdrawAmount),
		errors.Is(err, service.ErrBelowMinWithdrawal),
		errors.Is(err, service.ErrInvalidDepositAmount):
		response.BusinessError(c, response.CodeInvalidAmount, err.Error())
	case errors.Is(err, service.ErrInvalidAddress):
		response.BusinessError(c, response.CodeInvalidAddress, err.Error())
	case errors.Is(err, service.ErrInvalidNetwork):
		response.BusinessError(c, response.CodeInvalidNetwork, err.Error())
	case errors.Is(err, service.ErrWithdrawableExceeded):
		response.BusinessError(c, response.CodeWithdrawableExceeded, err.Error())
	case errors.Is(err, gateway.ErrGateway):
		response.BusinessError(c, response.CodeGatewayError, "创建支付失败，请稍后重试")
	default:
		response.ServerError(c, err.Error())
	}
}

func queryUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "user_id 参数错误")
		return 0, false
	}
	return userID, true
}

// ============================================================
// 账户相关接口
// ============================================================

// RegisterRequest 注册建账请求
type RegisterRequest struct {
	UserID         int64  `json:"user_id" binding:"required"`
	ReferredByCode string `json:"referred_by_code"`
}

// Register 注册建账（身份认证由外部身份服务负责）
// POST /api/v1/account/register
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.accountService.Register(c.Request.Context(), req.UserID, req.ReferredByCode)
	if err != nil {
		serviceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":       account.UserID,
		"referral_code": account.ReferralCode,
	})
}

// GetSummary 账户总览：余额、可提现额、推荐信息
// GET /api/v1/account/summary?user_id=xxx
func (h *Handler) GetSummary(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	account, err := h.accountService.GetAccount(c.Request.Context(), userID)
	if err != nil {
		serviceError(c, err)
		return
	}

	withdrawable, err := h.withdrawService.Withdrawable(c.Request.Context(), userID)
	if err != nil {
		serviceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":               account.UserID,
		"wallet_balance":        account.WalletBalance,
		"released_capital":      account.ReleasedCapital,
		"withdrawable":          withdrawable,
		"referral_code":         account.ReferralCode,
		"total_referral_volume": account.TotalReferralVolume,
		"commission_rate":       model.CommissionRate(account.TotalReferralVolume),
	})
}

// ListTransactions 查询钱包流水
// GET /api/v1/account/transactions?user_id=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	transactions, total, err := h.accountService.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		serviceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ListStakes 查询用户质押
// GET /api/v1/account/stakes?user_id=xxx
func (h *Handler) ListStakes(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	stakes, err := h.stakeService.ListUserStakes(c.Request.Context(), userID)
	if err != nil {
		serviceError(c, err)
		return
	}

	response.Success(c, gin.H{"list": stakes})
}

// ListCommissions 查询推荐佣金记录
// GET /api/v1/account/commissions?user_id=xxx&page=1&page_size=10
func (h *Handler) ListCommissions(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	commissions, total, err := h.referralService.ListCommissions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		serviceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      commissions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 套餐与购买接口
// ============================================================

// ListPacks 查询套餐目录
// GET /api/v1/pack/list
func (h *Handler) ListPacks(c *gin.Context) {
	packs, err := h.stakeService.ListPacks(c.Request.Context())
	if err != nil {
		serviceError(c, err)
		return
	}

	response.Success(c, gin.H{"list": packs})
}

// PurchaseStake 购买质押
// POST /api/v1/stake/purchase
//
// 【关键点】购买是账本最核心的出账操作，需要保证：
// 1. 幂等性：相同的 request_id 只会创建一笔质押
// 2. 原子性：余额扣减、质押创建、流水、推荐佣金必须同时成功或同时失败
// 3. 并发安全：通过分布式锁防止同一用户并发购买
func (h *Handler) PurchaseStake(c *gin.Context) {
	var req service.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.stakeService.Purchase(c.Request.Context(), &req)
	if err != nil {
		serviceError(c, err)
		return
	}

	response.Success(c, result)
}

// ============================================================
// 充值相关接口
// ============================================================

// CreateDeposit 发起充值（出站调用支付网关建单）
// POST /api/v1/deposit/create
func (h *Handler) CreateDeposit(c *gin.Context) {
	var req service.CreateDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.depositService.CreateDeposit(c.Request.Context(), &req)
	if err != nil {
		serviceError(c, err)
		return
	}

	response.Success(c, result)
}

// DepositIPN 支付网关充值回调
// POST /api/v1/deposit/ipn
//
// 表单编码，签名在 HMAC 请求头。处理约定：
// - 业务结果无论是到账/失败/处理中，只要回调被正确处理就应答 200
// - 验签失败应答 401，不动任何状态
// - 存储失败应答 500，网关会按自己的策略重发（入账幂等保证重发安全）
func (h *Handler) DepositIPN(c *gin.Context) {
	rawBody, err := c.GetRawData()
	if err != nil {
		c.String(http.StatusBadRequest, "bad request")
		return
	}

	if !gateway.VerifyIPN(h.cfg.Gateway.PrivateKey, c.GetHeader("HMAC"), rawBody) {
		c.String(http.StatusUnauthorized, "invalid signature")
		return
	}

	form, err := url.ParseQuery(string(rawBody))
	if err != nil {
		c.String(http.StatusBadRequest, "malformed payload")
		return
	}

	statusCode, err := strconv.Atoi(form.Get("status"))
	if err != nil {
		c.String(http.StatusBadRequest, "malformed status")
		return
	}

	userID, err := strconv.ParseInt(form.Get("custom"), 10, 64)
	if err != nil {
		c.String(http.StatusBadRequest, "malformed custom")
		return
	}

	amountCents, err := gateway.ParseUSDToCents(form.Get("amount1"))
	if err != nil {
		c.String(http.StatusBadRequest, "malformed amount")
		return
	}

	ipn := &service.IPNNotification{
		TxnID:       form.Get("txn_id"),
		StatusCode:  statusCode,
		UserID:      userID,
		AmountCents: amountCents,
		Currency:    form.Get("currency2"),
		Merchant:    form.Get("merchant"),
	}

	outcome, err := h.depositService.ApplyIPN(c.Request.Context(), ipn)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrIPNAuthentication):
			c.String(http.StatusUnauthorized, "invalid merchant")
		case errors.Is(err, service.ErrIPNValidation):
			c.String(http.StatusBadRequest, err.Error())
		default:
			// 存储类错误：应答 5xx 让网关重发
			c.String(http.StatusInternalServerError, "temporary failure")
		}
		return
	}

	c.String(http.StatusOK, "IPN processed: "+outcome)
}

// ============================================================
// 派息接口
// ============================================================

// CreditPayoutRequest 派息触发请求（外部调度器按周调用）
type CreditPayoutRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Period string `json:"period"` // 缺省为当前 ISO 周
}

// CreditPayout 为一个用户的活跃质押推进一个派息周期
// POST /api/v1/payout/credit
func (h *Handler) CreditPayout(c *gin.Context) {
	var req CreditPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	period := req.Period
	if period == "" {
		period = service.CurrentPeriod(time.Now())
	}

	report, err := h.payoutService.CreditWeeklyGains(c.Request.Context(), req.UserID, period)
	if err != nil {
		serviceError(c, err)
		return
	}

	response.Success(c, report)
}

// ============================================================
// 提现相关接口
// ============================================================

// RequestWithdrawal 申请提现
// POST /api/v1/withdrawal/request
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var req service.WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.withdrawService.Request(c.Request.Context(), &req)
	if err != nil {
		serviceError(c, err)
		return
	}

	response.Success(c, result)
}

// ConfirmWithdrawalRequest 外部打款回执
type ConfirmWithdrawalRequest struct {
	WithdrawalNo string `json:"withdrawal_no" binding:"required"`
	TxHash       string `json:"tx_hash"`
	Success      *bool  `json:"success" binding:"required"`
}

// ConfirmWithdrawal 提现打款回执（打款成功才真正扣减余额）
// POST /api/v1/withdrawal/confirm
func (h *Handler) ConfirmWithdrawal(c *gin.Context) {
	var req ConfirmWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.withdrawService.Confirm(c.Request.Context(), req.WithdrawalNo, req.TxHash, *req.Success)
	if err != nil {
		serviceError(c, err)
		return
	}

	response.Success(c, result)
}
