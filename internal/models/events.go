package models

import "time"

// Event types
const (
	EventTypePurchaseCreated         = "PURCHASE_CREATED"
	EventTypeTicketIssuanceRequested = "TICKET_ISSUANCE_REQUESTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PurchaseCreatedEvent published when a purchase is created and submitted
// to the payment gateway
type PurchaseCreatedEvent struct {
	BaseEvent
	ReferenceNumber string `json:"reference_number"`
	EventName       string `json:"event_name"`
	Quantity        int    `json:"quantity"`
	TotalAmount     int64  `json:"total_amount"`
	Currency        string `json:"currency"`
}

// TicketIssuanceRequestedEvent published exactly once when a purchase
// transitions to paid
type TicketIssuanceRequestedEvent struct {
	BaseEvent
	ReferenceNumber string `json:"reference_number"`
	TransactionID   string `json:"transaction_id"`
	BuyerEmail      string `json:"buyer_email"`
	Quantity        int    `json:"quantity"`
	TotalAmount     int64  `json:"total_amount"`
}
