package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/creditrelay/creditrelay/internal/clock"
	"github.com/creditrelay/creditrelay/internal/config"
	ledgerdomain "github.com/creditrelay/creditrelay/internal/ledger/domain"
	"github.com/creditrelay/creditrelay/internal/metrics"
	paymentdomain "github.com/creditrelay/creditrelay/internal/payment/domain"
	pricingdomain "github.com/creditrelay/creditrelay/internal/pricing/domain"
	"github.com/creditrelay/creditrelay/internal/settlement"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const pollBatchSize = 50

type Params struct {
	fx.In

	Config  config.Config
	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
	Repo    paymentdomain.Repository
	Ledger  ledgerdomain.Service
	Pricing pricingdomain.Service
	Backend settlement.Backend
}

type Service struct {
	cfg     config.Config
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	metrics *metrics.Metrics
	repo    paymentdomain.Repository
	ledger  ledgerdomain.Service
	pricing pricingdomain.Service
	backend settlement.Backend
}

func New(p Params) paymentdomain.Service {
	return &Service{
		cfg:     p.Config,
		db:      p.DB,
		log:     p.Log.Named("payment.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		metrics: p.Metrics,
		repo:    p.Repo,
		ledger:  p.Ledger,
		pricing: p.Pricing,
		backend: p.Backend,
	}
}

func (s *Service) CreatePayment(ctx context.Context, keyToken string, credits int64, meta paymentdomain.RequestMeta) (*paymentdomain.Payment, error) {
	key, err := s.ledger.FindActiveKey(ctx, keyToken)
	if err != nil {
		return nil, err
	}

	price, err := s.pricing.Quote(ctx, credits)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	id := s.genID.Generate()
	publicID := uuid.NewString()
	transferRef := strings.ToUpper(tail(key.Token, 6)) + tail(strings.ReplaceAll(publicID, "-", ""), 6)

	data := paymentdomain.PaymentData{
		Amount:      price,
		TransferRef: transferRef,
		OrderCode:   id.Int64(),
	}
	method := paymentdomain.MethodCheckout

	checkout, err := s.backend.CreateCheckout(ctx, settlement.CheckoutRequest{
		OrderCode:   id.Int64(),
		Amount:      price,
		Description: transferRef,
		ReturnURL:   s.cfg.Payment.ReturnURL,
		CancelURL:   s.cfg.Payment.CancelURL,
	})
	if err != nil {
		// Hosted checkout is optional; any backend failure degrades to a
		// manual bank transfer with the same reference.
		s.log.Warn("checkout creation failed, falling back to bank transfer",
			zap.String("payment_id", publicID),
			zap.Error(err),
		)
		method = paymentdomain.MethodBankTransfer
		data.BankName = s.cfg.Payment.BankName
		data.BankAccount = s.cfg.Payment.BankAccount
		data.BankHolder = s.cfg.Payment.BankHolder
		data.QRPayload = fmt.Sprintf("BANK|%s|%s|%d|%s",
			s.cfg.Payment.BankAccount, s.cfg.Payment.BankHolder, price, transferRef)
	} else {
		data.CheckoutURL = checkout.CheckoutURL
		data.PaymentLinkID = checkout.PaymentLinkID
		data.QRPayload = checkout.QRCode
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	payment := &paymentdomain.Payment{
		ID:               id,
		PublicID:         publicID,
		UserKey:          key.Token,
		CreditAmount:     credits,
		Price:            price,
		Currency:         s.cfg.Pricing.Currency,
		Status:           paymentdomain.StatusPending,
		PaymentMethod:    method,
		PaymentData:      datatypes.JSON(encoded),
		RequestIP:        meta.IP,
		RequestUserAgent: meta.UserAgent,
		RequestReferer:   meta.Referer,
		ExpiredAt:        now.Add(s.cfg.Payment.ExpiryWindow),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Insert(ctx, s.db, payment); err != nil {
		return nil, err
	}
	s.countEvent("created")
	return payment, nil
}

func (s *Service) GetPayment(ctx context.Context, publicID string) (*paymentdomain.Payment, error) {
	payment, err := s.repo.FindByPublicID(ctx, s.db, publicID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) CompletePayment(ctx context.Context, publicID string, transactionID string) (*paymentdomain.Payment, error) {
	payment, err := s.GetPayment(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if err := s.complete(ctx, payment, transactionID); err != nil {
		return nil, err
	}
	return payment, nil
}

// complete performs the exactly-once settlement: claim the pending row first,
// then grant. Losing the claim means another writer already settled it.
func (s *Service) complete(ctx context.Context, payment *paymentdomain.Payment, transactionID string) error {
	if payment.Status != paymentdomain.StatusPending {
		return paymentdomain.ErrAlreadySettled
	}

	now := s.clock.Now()
	if now.After(payment.ExpiredAt) {
		if _, err := s.repo.MarkFailed(ctx, s.db, payment.ID); err != nil {
			return err
		}
		payment.Status = paymentdomain.StatusFailed
		s.countEvent("failed")
		return paymentdomain.ErrPaymentExpired
	}

	claimed, err := s.repo.ClaimCompletion(ctx, s.db, payment.ID, transactionID, now)
	if err != nil {
		return err
	}
	if !claimed {
		return paymentdomain.ErrAlreadySettled
	}

	payment.Status = paymentdomain.StatusCompleted
	payment.TransactionID = &transactionID
	payment.CompletedAt = &now
	s.countEvent("completed")

	if err := s.ledger.GrantCredit(ctx, payment.UserKey, payment.CreditAmount); err != nil {
		// The row is already completed; the grant must not silently vanish.
		s.log.Error("credit grant failed after completion claim, balance is short",
			zap.String("payment_id", payment.PublicID),
			zap.String("user_key", payment.UserKey),
			zap.Int64("credits", payment.CreditAmount),
			zap.Error(err),
		)
		return fmt.Errorf("grant after completion of %s: %w", payment.PublicID, err)
	}

	s.log.Info("payment completed",
		zap.String("payment_id", payment.PublicID),
		zap.Int64("credits", payment.CreditAmount),
		zap.Int64("price", payment.Price),
	)
	return nil
}

type webhookEnvelope struct {
	Code      string          `json:"code"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

type webhookData struct {
	OrderCode    int64                    `json:"orderCode"`
	Status       string                   `json:"status"`
	Amount       int64                    `json:"amount"`
	Transactions []settlement.Transaction `json:"transactions"`
}

func (s *Service) HandleWebhook(ctx context.Context, payload []byte) error {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil || len(envelope.Data) == 0 {
		return paymentdomain.ErrInvalidWebhook
	}

	// Decode with UseNumber so signature verification sees the exact wire
	// representation of numeric fields.
	dataMap := map[string]any{}
	decoder := json.NewDecoder(strings.NewReader(string(envelope.Data)))
	decoder.UseNumber()
	if err := decoder.Decode(&dataMap); err != nil {
		return paymentdomain.ErrInvalidWebhook
	}

	if !s.backend.VerifySignature(dataMap, envelope.Signature) {
		// Advisory only: acknowledged so the sender stops retrying, but no
		// credit moves on an unverifiable payload.
		s.log.Warn("unverified settlement webhook ignored")
		s.countEvent("webhook_unverified")
		return nil
	}

	var data webhookData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return paymentdomain.ErrInvalidWebhook
	}
	if data.Status != settlement.StatusPaid {
		return nil
	}

	payment, err := s.repo.FindByID(ctx, s.db, snowflake.ID(data.OrderCode))
	if err != nil {
		return err
	}
	if payment == nil {
		s.log.Warn("webhook for unknown order", zap.Int64("order_code", data.OrderCode))
		return nil
	}

	transactionID := fmt.Sprintf("payos:%d", data.OrderCode)
	if len(data.Transactions) > 0 && data.Transactions[0].Reference != "" {
		transactionID = data.Transactions[0].Reference
	}

	switch err := s.complete(ctx, payment, transactionID); err {
	case nil, paymentdomain.ErrAlreadySettled:
		return nil
	case paymentdomain.ErrPaymentExpired:
		s.log.Error("settlement arrived for an expired payment",
			zap.String("payment_id", payment.PublicID),
		)
		return nil
	default:
		return err
	}
}

func (s *Service) CleanupExpiredPayments(ctx context.Context) (int64, error) {
	swept, err := s.repo.SweepExpired(ctx, s.db, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		s.log.Info("expired pending payments swept", zap.Int64("count", swept))
		for i := int64(0); i < swept; i++ {
			s.countEvent("expired")
		}
	}
	return swept, nil
}

func (s *Service) PollPendingPayments(ctx context.Context) error {
	payments, err := s.repo.ListPendingCheckout(ctx, s.db, s.clock.Now(), pollBatchSize)
	if err != nil {
		return err
	}

	for i := range payments {
		payment := &payments[i]
		status, err := s.backend.QueryStatus(ctx, payment.ID.Int64())
		if err != nil {
			if err == settlement.ErrNotConfigured {
				return nil
			}
			s.log.Warn("settlement status query failed",
				zap.String("payment_id", payment.PublicID),
				zap.Error(err),
			)
			continue
		}

		switch status.Status {
		case settlement.StatusPaid:
			transactionID := fmt.Sprintf("payos:%d", payment.ID.Int64())
			if len(status.Transactions) > 0 && status.Transactions[0].Reference != "" {
				transactionID = status.Transactions[0].Reference
			}
			if err := s.complete(ctx, payment, transactionID); err != nil &&
				err != paymentdomain.ErrAlreadySettled {
				s.log.Error("poll completion failed",
					zap.String("payment_id", payment.PublicID),
					zap.Error(err),
				)
			}
		case settlement.StatusCancelled:
			if _, err := s.repo.MarkFailed(ctx, s.db, payment.ID); err != nil {
				s.log.Warn("mark cancelled payment failed", zap.Error(err))
				continue
			}
			s.countEvent("failed")
		}
	}
	return nil
}

func (s *Service) countEvent(status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.PaymentEvents.WithLabelValues(status).Inc()
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
