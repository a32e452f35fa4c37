package payos

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/creditrelay/creditrelay/internal/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checksumKey = "test-checksum-key"

func hmacHex(t *testing.T, payload string) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(checksumKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignatureCanonicalOrder(t *testing.T) {
	backend := New("https://example.test", "client", "api", checksumKey)

	data := map[string]any{
		"orderCode": json.Number("123"),
		"amount":    json.Number("500000"),
		"status":    "PAID",
	}
	// Keys sorted lexicographically: amount, orderCode, status.
	valid := hmacHex(t, "amount=500000&orderCode=123&status=PAID")

	assert.True(t, backend.VerifySignature(data, valid), "valid signature rejected")
	assert.False(t, backend.VerifySignature(data, valid[:len(valid)-2]+"ff"), "tampered signature accepted")

	data["amount"] = json.Number("999999")
	assert.False(t, backend.VerifySignature(data, valid), "signature accepted after data change")
}

func TestVerifySignatureRequiresConfiguration(t *testing.T) {
	backend := New("https://example.test", "", "", "")
	assert.False(t, backend.VerifySignature(map[string]any{"a": "b"}, "deadbeef"))
}

func TestCreateCheckoutSignsAndParses(t *testing.T) {
	var gotBody createRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "client", r.Header.Get("x-client-id"))
		assert.Equal(t, "api", r.Header.Get("x-api-key"))
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &gotBody))
		fmt.Fprint(w, `{
			"code": "00",
			"desc": "success",
			"data": {"checkoutUrl": "https://pay.example/abc", "paymentLinkId": "pl_1", "qrCode": "qr-data"}
		}`)
	}))
	defer server.Close()

	backend := New(server.URL, "client", "api", checksumKey)
	result, err := backend.CreateCheckout(context.Background(), settlement.CheckoutRequest{
		OrderCode:   42,
		Amount:      500000,
		Description: "CR 100 credits",
		ReturnURL:   "https://app.example/return",
		CancelURL:   "https://app.example/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/abc", result.CheckoutURL)
	assert.Equal(t, "pl_1", result.PaymentLinkID)

	want := hmacHex(t,
		"amount=500000&cancelUrl=https://app.example/cancel&description=CR 100 credits&orderCode=42&returnUrl=https://app.example/return")
	assert.Equal(t, want, gotBody.Signature)
}

func TestCreateCheckoutNonZeroCodeFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code": "429", "desc": "rate limited", "data": null}`)
	}))
	defer server.Close()

	backend := New(server.URL, "client", "api", checksumKey)
	_, err := backend.CreateCheckout(context.Background(), settlement.CheckoutRequest{OrderCode: 1, Amount: 1000})
	require.ErrorIs(t, err, settlement.ErrRequestFailed)
}

func TestQueryStatusParsesTransactions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/payment-requests/42", r.URL.Path)
		fmt.Fprint(w, `{
			"code": "00",
			"desc": "success",
			"data": {
				"orderCode": 42,
				"status": "PAID",
				"amount": 500000,
				"transactions": [{"reference": "FT123", "amount": 500000}]
			}
		}`)
	}))
	defer server.Close()

	backend := New(server.URL, "client", "api", checksumKey)
	status, err := backend.QueryStatus(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusPaid, status.Status)
	assert.Equal(t, int64(500000), status.Amount)
	require.Len(t, status.Transactions, 1)
	assert.Equal(t, "FT123", status.Transactions[0].Reference)
}

func TestUnconfiguredBackendRefusesCalls(t *testing.T) {
	backend := New("https://example.test", "", "", "")

	_, err := backend.CreateCheckout(context.Background(), settlement.CheckoutRequest{})
	require.ErrorIs(t, err, settlement.ErrNotConfigured)

	_, err = backend.QueryStatus(context.Background(), 1)
	require.ErrorIs(t, err, settlement.ErrNotConfigured)
}
