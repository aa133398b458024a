package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stakevault/internal/config"
)

// ErrGateway 网关业务失败（API 返回了非 ok 的 error 字段）
// 不可自动重试，直接向用户反馈"创建支付失败"
var ErrGateway = errors.New("支付网关返回错误")

// Client 支付网关客户端
//
// 出站请求按网关协议签名：对 urlencode 后的参数串做 HMAC-SHA512，
// 私钥即商户私钥，签名放在 HMAC 请求头
type Client struct {
	cfg        *config.GatewayConfig
	httpClient *http.Client
}

func NewClient(cfg *config.GatewayConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreateTransactionRequest 建单参数
type CreateTransactionRequest struct {
	AmountCents int64  // 美元金额（美分）
	Currency    string // 结算币种，如 USDT
	Network     string // 可选网络，如 BEP20
	BuyerEmail  string
	UserID      int64 // 回调时通过 custom 字段原样带回
}

// CreateTransactionResult 建单结果
type CreateTransactionResult struct {
	TxnID       string
	CheckoutURL string
}

type apiResponse struct {
	Error  string `json:"error"`
	Result struct {
		TxnID       string `json:"txn_id"`
		CheckoutURL string `json:"checkout_url"`
	} `json:"result"`
}

// CreateTransaction 调用网关建单
func (c *Client) CreateTransaction(ctx context.Context, req *CreateTransactionRequest) (*CreateTransactionResult, error) {
	params := url.Values{}
	params.Set("version", "1")
	params.Set("cmd", "create_transaction")
	params.Set("key", c.cfg.PublicKey)
	params.Set("amount", CentsToDecimal(req.AmountCents))
	params.Set("currency1", "USD")
	params.Set("currency2", req.Currency)
	params.Set("buyer_email", req.BuyerEmail)
	params.Set("ipn_url", c.cfg.IPNURL)
	params.Set("custom", fmt.Sprintf("%d", req.UserID))
	if req.Network != "" {
		params.Set("network", req.Network)
	}

	body := params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("HMAC", Sign(c.cfg.PrivateKey, []byte(body)))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求支付网关失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取网关响应失败: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("解析网关响应失败: %w", err)
	}

	if apiResp.Error != "ok" {
		return nil, fmt.Errorf("%w: %s", ErrGateway, apiResp.Error)
	}

	return &CreateTransactionResult{
		TxnID:       apiResp.Result.TxnID,
		CheckoutURL: apiResp.Result.CheckoutURL,
	}, nil
}

// Sign 对载荷做 HMAC-SHA512 签名，返回十六进制串
func Sign(privateKey string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(privateKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyIPN 校验 IPN 回调签名
// 网关对原始表单体做同样的 HMAC-SHA512，比较必须用常量时间实现
func VerifyIPN(privateKey, hmacHeader string, rawBody []byte) bool {
	if hmacHeader == "" {
		return false
	}
	expected := Sign(privateKey, rawBody)
	return hmac.Equal([]byte(expected), []byte(hmacHeader))
}
