package payos

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/creditrelay/creditrelay/internal/settlement"
)

// Backend talks to the PayOS merchant API. Request signatures are
// HMAC-SHA256 over the canonically sorted field string, keyed by the
// merchant checksum key; webhook verification uses the same scheme over the
// payload's data object.
type Backend struct {
	baseURL     string
	clientID    string
	apiKey      string
	checksumKey string
	client      *http.Client
}

func New(baseURL, clientID, apiKey, checksumKey string) *Backend {
	return &Backend{
		baseURL:     strings.TrimRight(baseURL, "/"),
		clientID:    strings.TrimSpace(clientID),
		apiKey:      strings.TrimSpace(apiKey),
		checksumKey: strings.TrimSpace(checksumKey),
		client:      &http.Client{Timeout: 15 * time.Second},
	}
}

func (b *Backend) configured() bool {
	return b.clientID != "" && b.apiKey != "" && b.checksumKey != ""
}

type createRequest struct {
	OrderCode   int64  `json:"orderCode"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	ReturnURL   string `json:"returnUrl"`
	CancelURL   string `json:"cancelUrl"`
	Signature   string `json:"signature"`
}

type apiEnvelope struct {
	Code string          `json:"code"`
	Desc string          `json:"desc"`
	Data json.RawMessage `json:"data"`
}

type createData struct {
	CheckoutURL   string `json:"checkoutUrl"`
	PaymentLinkID string `json:"paymentLinkId"`
	QRCode        string `json:"qrCode"`
}

type statusData struct {
	OrderCode    int64                    `json:"orderCode"`
	Status       string                   `json:"status"`
	Amount       int64                    `json:"amount"`
	Transactions []settlement.Transaction `json:"transactions"`
}

func (b *Backend) CreateCheckout(ctx context.Context, req settlement.CheckoutRequest) (*settlement.CheckoutResult, error) {
	if !b.configured() {
		return nil, settlement.ErrNotConfigured
	}

	body := createRequest{
		OrderCode:   req.OrderCode,
		Amount:      req.Amount,
		Description: req.Description,
		ReturnURL:   req.ReturnURL,
		CancelURL:   req.CancelURL,
	}
	body.Signature = b.sign(map[string]any{
		"orderCode":   req.OrderCode,
		"amount":      req.Amount,
		"description": req.Description,
		"returnUrl":   req.ReturnURL,
		"cancelUrl":   req.CancelURL,
	})

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/v2/payment-requests", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	b.setHeaders(httpReq)

	envelope, err := b.do(httpReq)
	if err != nil {
		return nil, err
	}

	var data createData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: malformed checkout data", settlement.ErrRequestFailed)
	}
	if data.CheckoutURL == "" {
		return nil, fmt.Errorf("%w: empty checkout url", settlement.ErrRequestFailed)
	}
	return &settlement.CheckoutResult{
		CheckoutURL:   data.CheckoutURL,
		PaymentLinkID: data.PaymentLinkID,
		QRCode:        data.QRCode,
	}, nil
}

func (b *Backend) QueryStatus(ctx context.Context, orderCode int64) (*settlement.StatusResult, error) {
	if !b.configured() {
		return nil, settlement.ErrNotConfigured
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v2/payment-requests/%d", b.baseURL, orderCode), nil)
	if err != nil {
		return nil, err
	}
	b.setHeaders(httpReq)

	envelope, err := b.do(httpReq)
	if err != nil {
		return nil, err
	}

	var data statusData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: malformed status data", settlement.ErrRequestFailed)
	}
	return &settlement.StatusResult{
		OrderCode:    data.OrderCode,
		Status:       data.Status,
		Amount:       data.Amount,
		Transactions: data.Transactions,
	}, nil
}

func (b *Backend) VerifySignature(data map[string]any, signature string) bool {
	if !b.configured() || strings.TrimSpace(signature) == "" {
		return false
	}
	expected := b.sign(data)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

func (b *Backend) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-client-id", b.clientID)
	req.Header.Set("x-api-key", b.apiKey)
}

func (b *Backend) do(req *http.Request) (*apiEnvelope, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", settlement.ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", settlement.ErrRequestFailed, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, settlement.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", settlement.ErrRequestFailed, resp.StatusCode)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: malformed response", settlement.ErrRequestFailed)
	}
	if envelope.Code != "00" {
		return nil, fmt.Errorf("%w: code %s (%s)", settlement.ErrRequestFailed, envelope.Code, envelope.Desc)
	}
	return &envelope, nil
}

// sign produces hex(HMAC-SHA256(checksumKey, "k1=v1&k2=v2&...")) with keys
// sorted lexicographically.
func (b *Backend) sign(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, key := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(formatValue(data[key]))
	}

	mac := hmac.New(sha256.New, []byte(b.checksumKey))
	mac.Write([]byte(sb.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
