package models

import (
	"database/sql"
	"time"
)

// Purchase represents one attempt to buy tickets for an event.
// ReferenceNumber is the business identifier shared with the payment
// gateway; the row ID never leaves the service.
type Purchase struct {
	ID              int64          `db:"id" json:"-"`
	ReferenceNumber string         `db:"reference_number" json:"reference_number"`
	EventName       string         `db:"event_name" json:"event_name"`
	Quantity        int            `db:"quantity" json:"quantity"`
	UnitPrice       int64          `db:"unit_price" json:"unit_price"`
	Currency        string         `db:"currency" json:"currency"`
	BuyerEmail      string         `db:"buyer_email" json:"buyer_email"`
	BuyerPhone      string         `db:"buyer_phone" json:"buyer_phone,omitempty"`
	BuyerFirstName  string         `db:"buyer_first_name" json:"buyer_first_name"`
	BuyerLastName   string         `db:"buyer_last_name" json:"buyer_last_name"`
	BuyerCountry    string         `db:"buyer_country" json:"buyer_country,omitempty"`
	PaymentStatus   string         `db:"payment_status" json:"payment_status"`
	PaymentMethod   string         `db:"payment_method" json:"payment_method,omitempty"`
	TransactionID   string         `db:"transaction_id" json:"transaction_id,omitempty"`
	IdempotencyKey  string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	TicketIssuedAt  sql.NullTime   `db:"ticket_issued_at" json:"-"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// TotalAmount returns the purchase total in minor currency units.
func (p *Purchase) TotalAmount() int64 {
	return p.UnitPrice * int64(p.Quantity)
}

// Payment statuses
const (
	PaymentStatusPending   = "pending"
	PaymentStatusPaid      = "paid"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
)

// IsTerminalStatus reports whether no further transition may be applied.
func IsTerminalStatus(status string) bool {
	switch status {
	case PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// Gateway status vocabulary
const (
	GatewayStatusCompleted = "COMPLETED"
	GatewayStatusFailed    = "FAILED"
	GatewayStatusCancelled = "CANCELLED"
)

// MapGatewayStatus maps the gateway's status vocabulary to the
// application's payment statuses. Unknown values map to pending so that
// the reconciler treats them as "no outcome yet".
func MapGatewayStatus(gatewayStatus string) string {
	switch gatewayStatus {
	case GatewayStatusCompleted:
		return PaymentStatusPaid
	case GatewayStatusFailed:
		return PaymentStatusFailed
	case GatewayStatusCancelled:
		return PaymentStatusCancelled
	default:
		return PaymentStatusPending
	}
}
