package store

import (
	"context"
	"database/sql"
	"fmt"

	"ticketing-service/internal/models"
)

// CreatePurchase creates a new purchase in pending state
func (s *Store) CreatePurchase(ctx context.Context, purchase *models.Purchase) error {
	query := `
		INSERT INTO purchases (reference_number, event_name, quantity, unit_price, currency,
			buyer_email, buyer_phone, buyer_first_name, buyer_last_name, buyer_country,
			payment_status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, purchase, query,
		purchase.ReferenceNumber, purchase.EventName, purchase.Quantity,
		purchase.UnitPrice, purchase.Currency,
		purchase.BuyerEmail, purchase.BuyerPhone, purchase.BuyerFirstName,
		purchase.BuyerLastName, purchase.BuyerCountry,
		purchase.PaymentStatus, purchase.IdempotencyKey)
}

// GetPurchaseByReference retrieves the purchase matching a reference number.
// Zero matches returns ErrNotFound; more than one returns
// ErrAmbiguousReference since the reference is supposed to be unique.
func (s *Store) GetPurchaseByReference(ctx context.Context, referenceNumber string) (*models.Purchase, error) {
	var purchases []models.Purchase
	err := s.db.SelectContext(ctx, &purchases,
		"SELECT * FROM purchases WHERE reference_number = $1", referenceNumber)
	if err != nil {
		return nil, err
	}

	switch len(purchases) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, referenceNumber)
	case 1:
		return &purchases[0], nil
	default:
		return nil, fmt.Errorf("%w: %s matched %d purchases", ErrAmbiguousReference, referenceNumber, len(purchases))
	}
}

// GetPurchaseByIdempotencyKey retrieves a purchase by idempotency key
func (s *Store) GetPurchaseByIdempotencyKey(ctx context.Context, key string) (*models.Purchase, error) {
	var purchase models.Purchase
	err := s.db.GetContext(ctx, &purchase,
		"SELECT * FROM purchases WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

// SetTransactionID records the gateway tracking id after order submission
func (s *Store) SetTransactionID(ctx context.Context, purchaseID int64, transactionID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE purchases SET transaction_id = $1, updated_at = NOW() WHERE id = $2",
		transactionID, purchaseID)
	return err
}

// ApplyPaymentOutcome moves a purchase out of pending into a terminal
// status. The WHERE clause is the guard against concurrent reconciliation
// attempts: only one caller observes a row transition. Returns whether this
// call applied the transition.
func (s *Store) ApplyPaymentOutcome(ctx context.Context, purchaseID int64, status, paymentMethod, transactionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE purchases
		SET payment_status = $1,
			payment_method = CASE WHEN $2 <> '' THEN $2 ELSE payment_method END,
			transaction_id = CASE WHEN $3 <> '' THEN $3 ELSE transaction_id END,
			updated_at = NOW()
		WHERE id = $4 AND payment_status = 'pending'`,
		status, paymentMethod, transactionID, purchaseID)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// MarkPurchaseFailed marks a purchase failed when order submission is
// rejected before the gateway ever takes over. Same pending guard as
// ApplyPaymentOutcome.
func (s *Store) MarkPurchaseFailed(ctx context.Context, purchaseID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE purchases SET payment_status = 'failed', updated_at = NOW() WHERE id = $1 AND payment_status = 'pending'",
		purchaseID)
	return err
}

// MarkTicketIssued records ticket issuance for a paid purchase. The
// issued_at guard makes duplicate deliveries of the issuance event harmless.
func (s *Store) MarkTicketIssued(ctx context.Context, referenceNumber string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE purchases
		SET ticket_issued_at = NOW(), updated_at = NOW()
		WHERE reference_number = $1 AND payment_status = 'paid' AND ticket_issued_at IS NULL`,
		referenceNumber)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// GetPurchasesByEmail retrieves purchase history for a buyer
func (s *Store) GetPurchasesByEmail(ctx context.Context, email string) ([]models.Purchase, error) {
	var purchases []models.Purchase
	err := s.db.SelectContext(ctx, &purchases,
		"SELECT * FROM purchases WHERE buyer_email = $1 ORDER BY created_at DESC", email)
	return purchases, err
}
