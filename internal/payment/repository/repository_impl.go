package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/creditrelay/creditrelay/internal/payment/domain"
	"gorm.io/gorm"
)

const paymentColumns = `id, public_id, user_key, credit_amount, price, currency, status,
	payment_method, transaction_id, payment_data, request_ip, request_user_agent,
	request_referer, completed_at, expired_at, created_at, updated_at`

type repo struct{}

func Provide() paymentdomain.Repository {
	return &repo{}
}

func (r *repo) FindByPublicID(ctx context.Context, db *gorm.DB, publicID string) (*paymentdomain.Payment, error) {
	var payment paymentdomain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE public_id = ?`,
		publicID,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*paymentdomain.Payment, error) {
	var payment paymentdomain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE id = ?`,
		id,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *paymentdomain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.PublicID,
		payment.UserKey,
		payment.CreditAmount,
		payment.Price,
		payment.Currency,
		payment.Status,
		payment.PaymentMethod,
		payment.TransactionID,
		payment.PaymentData,
		payment.RequestIP,
		payment.RequestUserAgent,
		payment.RequestReferer,
		payment.CompletedAt,
		payment.ExpiredAt,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) ClaimCompletion(ctx context.Context, db *gorm.DB, id snowflake.ID, transactionID string, completedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, transaction_id = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		paymentdomain.StatusCompleted,
		transactionID,
		completedAt,
		id,
		paymentdomain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		paymentdomain.StatusFailed,
		id,
		paymentdomain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SweepExpired(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE status = ? AND expired_at < ?`,
		paymentdomain.StatusExpired,
		paymentdomain.StatusPending,
		now,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) ListPendingCheckout(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]paymentdomain.Payment, error) {
	var payments []paymentdomain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments
		 WHERE status = ? AND payment_method = ? AND expired_at >= ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		paymentdomain.StatusPending,
		paymentdomain.MethodCheckout,
		now,
		limit,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}
