package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"stakevault/internal/config"
	"stakevault/internal/gateway"
	"stakevault/internal/infrastructure/database"
	"stakevault/internal/model"
	"stakevault/pkg/idgen"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq int64

func init() {
	idgen.Init(1)
}

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB, *config.Config) {
	t.Helper()

	dsn := fmt.Sprintf("file:handler%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试库失败: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}
	if err := database.SeedPacks(db); err != nil {
		t.Fatalf("初始化套餐目录失败: %v", err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := &config.Config{}
	cfg.Kafka.Topic.LedgerEvents = "ledger-events-test"
	cfg.Gateway.MerchantID = "merchant-test"
	cfg.Gateway.PrivateKey = "ipn-secret"
	cfg.Business.ServiceToken = "svc-token"
	cfg.Business.WithdrawalNetwork = "BEP20"
	cfg.Business.WithdrawalMinAmount = 10_00

	router := SetupRouter(db, rdb, gateway.NewClient(&cfg.Gateway), cfg)
	return router, db, cfg
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("序列化请求体失败: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v, body=%s", err, w.Body.String())
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("期望 200，实际 %d", w.Code)
	}
}

func TestRegisterAndSummary(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/account/register",
		map[string]interface{}{"user_id": 8001}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("注册应答 %d: %s", w.Code, w.Body.String())
	}
	resp := decodeResponse(t, w)
	if resp["code"].(float64) != 0 {
		t.Fatalf("注册业务码非0: %v", resp)
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/account/summary?user_id=8001", nil, nil)
	resp = decodeResponse(t, w)
	if resp["code"].(float64) != 0 {
		t.Fatalf("查询总览失败: %v", resp)
	}
	data := resp["data"].(map[string]interface{})
	if data["wallet_balance"].(float64) != 0 {
		t.Fatalf("新账户余额应为 0: %v", data)
	}
	if data["referral_code"].(string) == "" {
		t.Fatalf("总览应返回推荐码: %v", data)
	}
}

func TestDepositIPNEndpoint(t *testing.T) {
	router, db, cfg := newTestRouter(t)

	if err := db.Create(&model.Account{UserID: 8002, ReferralCode: "RF8002"}).Error; err != nil {
		t.Fatalf("创建账户失败: %v", err)
	}
	if err := db.Create(&model.Payment{
		TxnID: "txn-ipn", UserID: 8002, Amount: 500_00,
		Currency: "USDT", Status: model.PaymentStatusPending,
	}).Error; err != nil {
		t.Fatalf("创建充值单失败: %v", err)
	}

	form := url.Values{}
	form.Set("txn_id", "txn-ipn")
	form.Set("status", "100")
	form.Set("custom", "8002")
	form.Set("amount1", "500.00000000")
	form.Set("currency2", "USDT")
	form.Set("merchant", cfg.Gateway.MerchantID)
	body := form.Encode()

	// 签名错误：401，且不动账
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deposit/ipn", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("HMAC", "bogus")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("错误签名应答 401，实际 %d", w.Code)
	}

	var account model.Account
	db.Where("user_id = ?", int64(8002)).First(&account)
	if account.WalletBalance != 0 {
		t.Fatalf("验签失败不应入账，余额 %d", account.WalletBalance)
	}

	// 合法签名：200 且入账
	req = httptest.NewRequest(http.MethodPost, "/api/v1/deposit/ipn", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("HMAC", gateway.Sign(cfg.Gateway.PrivateKey, []byte(body)))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("合法回调应答 %d: %s", w.Code, w.Body.String())
	}

	db.Where("user_id = ?", int64(8002)).First(&account)
	if account.WalletBalance != 500_00 {
		t.Fatalf("入账后余额应为 50000，实际 %d", account.WalletBalance)
	}
}

func TestWithdrawalEndpointsRequireToken(t *testing.T) {
	router, _, cfg := newTestRouter(t)

	body := map[string]interface{}{
		"user_id": 8003, "amount": 50_00,
		"address": "0x1234567890abcdef1234567890abcdef12345678", "network": "BEP20",
	}

	// 无凭证：401
	w := doJSON(t, router, http.MethodPost, "/api/v1/withdrawal/request", body, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("无凭证应答 401，实际 %d", w.Code)
	}

	// 有凭证：进入业务校验（账户不存在）
	w = doJSON(t, router, http.MethodPost, "/api/v1/withdrawal/request", body,
		map[string]string{"Authorization": "Bearer " + cfg.Business.ServiceToken})
	if w.Code != http.StatusOK {
		t.Fatalf("带凭证应进入业务层，实际 %d", w.Code)
	}
	resp := decodeResponse(t, w)
	if resp["code"].(float64) == 0 {
		t.Fatalf("不存在的账户不应提现成功: %v", resp)
	}
}

func TestPackListEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/pack/list", nil, nil)
	resp := decodeResponse(t, w)
	if resp["code"].(float64) != 0 {
		t.Fatalf("查询套餐失败: %v", resp)
	}
	list := resp["data"].(map[string]interface{})["list"].([]interface{})
	if len(list) != 4 {
		t.Fatalf("套餐目录应有4条，实际 %d", len(list))
	}
}
