package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"stakevault/internal/config"
)

func TestSignAndVerifyIPN(t *testing.T) {
	body := []byte("txn_id=abc&status=100&amount1=500.00")

	signature := Sign("secret", body)
	if !VerifyIPN("secret", signature, body) {
		t.Fatal("合法签名校验失败")
	}

	if VerifyIPN("secret", signature, []byte("txn_id=abc&status=100&amount1=999.00")) {
		t.Fatal("篡改后的载荷不应通过校验")
	}
	if VerifyIPN("wrong-key", signature, body) {
		t.Fatal("错误私钥不应通过校验")
	}
	if VerifyIPN("secret", "", body) {
		t.Fatal("空签名不应通过校验")
	}
}

func TestCreateTransaction(t *testing.T) {
	var gotHMAC, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHMAC = r.Header.Get("HMAC")
		if err := r.ParseForm(); err != nil {
			t.Errorf("解析表单失败: %v", err)
		}
		gotBody = r.PostForm.Encode()

		if got := r.PostForm.Get("cmd"); got != "create_transaction" {
			t.Errorf("cmd 应为 create_transaction，实际 %s", got)
		}
		if got := r.PostForm.Get("currency1"); got != "USD" {
			t.Errorf("currency1 应为 USD，实际 %s", got)
		}
		if got := r.PostForm.Get("network"); got != "BEP20" {
			t.Errorf("network 应透传，实际 %s", got)
		}

		w.Write([]byte(`{"error":"ok","result":{"txn_id":"gw-1","checkout_url":"https://pay.example.com/1"}}`))
	}))
	defer server.Close()

	client := NewClient(&config.GatewayConfig{
		APIURL:     server.URL,
		PublicKey:  "pub",
		PrivateKey: "priv",
		IPNURL:     "https://example.com/ipn",
	})

	result, err := client.CreateTransaction(context.Background(), &CreateTransactionRequest{
		AmountCents: 500_00,
		Currency:    "USDT",
		Network:     "BEP20",
		BuyerEmail:  "user@example.com",
		UserID:      42,
	})
	if err != nil {
		t.Fatalf("建单失败: %v", err)
	}
	if result.TxnID != "gw-1" || result.CheckoutURL != "https://pay.example.com/1" {
		t.Fatalf("建单结果异常: %+v", result)
	}

	// 出站签名必须覆盖整个请求体
	if gotHMAC != Sign("priv", []byte(gotBody)) {
		t.Fatal("HMAC 请求头与请求体签名不一致")
	}
}

func TestCreateTransactionGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"Invalid API key","result":{}}`))
	}))
	defer server.Close()

	client := NewClient(&config.GatewayConfig{APIURL: server.URL})

	_, err := client.CreateTransaction(context.Background(), &CreateTransactionRequest{
		AmountCents: 100_00,
		Currency:    "USDT",
	})
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("期望 ErrGateway，实际 %v", err)
	}
}
