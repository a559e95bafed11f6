package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ticketing-service/internal/broker"
	"ticketing-service/internal/gateway"
	"ticketing-service/internal/models"
	"ticketing-service/internal/redisclient"
	"ticketing-service/internal/store"
	"ticketing-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const idempotencyCacheTTL = 24 * time.Hour

// OrderSubmitter submits orders to the payment gateway.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, order gateway.OrderRequest) (trackingID, redirectURL string, err error)
}

// PurchaseService handles purchase creation and the browser-facing status
// surface.
type PurchaseService struct {
	store          *store.Store
	redis          *redisclient.Client
	gateway        OrderSubmitter
	eventPublisher *broker.EventPublisher
	reconciler     *StatusReconciler
	callbackURL    string
	notificationID string
	logger         *zap.Logger
}

// NewPurchaseService creates a new purchase service
func NewPurchaseService(
	store *store.Store,
	redis *redisclient.Client,
	gw OrderSubmitter,
	eventPublisher *broker.EventPublisher,
	reconciler *StatusReconciler,
	callbackURL, notificationID string,
) *PurchaseService {
	return &PurchaseService{
		store:          store,
		redis:          redis,
		gateway:        gw,
		eventPublisher: eventPublisher,
		reconciler:     reconciler,
		callbackURL:    callbackURL,
		notificationID: notificationID,
		logger:         util.NamedLogger("purchases"),
	}
}

// CreatePurchaseRequest represents a request to buy tickets
type CreatePurchaseRequest struct {
	EventName      string `json:"event_name" binding:"required"`
	Quantity       int    `json:"quantity" binding:"required,min=1"`
	UnitPrice      int64  `json:"unit_price" binding:"required,min=1"`
	Currency       string `json:"currency" binding:"required,len=3"`
	Email          string `json:"email" binding:"required,email"`
	Phone          string `json:"phone,omitempty"`
	FirstName      string `json:"first_name" binding:"required"`
	LastName       string `json:"last_name" binding:"required"`
	CountryCode    string `json:"country_code,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// CreatePurchaseResponse carries the redirect URL the buyer completes
// payment on
type CreatePurchaseResponse struct {
	ReferenceNumber string `json:"reference_number"`
	PaymentStatus   string `json:"payment_status"`
	RedirectURL     string `json:"redirect_url,omitempty"`
}

// CreatePurchase creates a pending purchase and submits the order to the
// payment gateway.
func (ps *PurchaseService) CreatePurchase(ctx context.Context, req *CreatePurchaseRequest) (*CreatePurchaseResponse, error) {
	ctx, span := util.StartSpan(ctx, "PurchaseService.CreatePurchase")
	defer span.End()

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	// Fast path: a cached key means the purchase already exists.
	if cachedRef, err := ps.redis.GetIdempotencyKey(ctx, req.IdempotencyKey); err == nil && cachedRef != "" {
		if existing, err := ps.store.GetPurchaseByReference(ctx, cachedRef); err == nil {
			return &CreatePurchaseResponse{
				ReferenceNumber: existing.ReferenceNumber,
				PaymentStatus:   existing.PaymentStatus,
			}, nil
		}
	}

	existing, err := ps.store.GetPurchaseByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		ps.logger.Info("Duplicate purchase request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("reference", existing.ReferenceNumber))
		return &CreatePurchaseResponse{
			ReferenceNumber: existing.ReferenceNumber,
			PaymentStatus:   existing.PaymentStatus,
		}, nil
	}

	purchase := &models.Purchase{
		ReferenceNumber: newReferenceNumber(),
		EventName:       req.EventName,
		Quantity:        req.Quantity,
		UnitPrice:       req.UnitPrice,
		Currency:        req.Currency,
		BuyerEmail:      req.Email,
		BuyerPhone:      req.Phone,
		BuyerFirstName:  req.FirstName,
		BuyerLastName:   req.LastName,
		BuyerCountry:    req.CountryCode,
		PaymentStatus:   models.PaymentStatusPending,
		IdempotencyKey:  req.IdempotencyKey,
	}

	if err := ps.store.CreatePurchase(ctx, purchase); err != nil {
		util.PurchasesFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create purchase: %w", err)
	}

	util.PurchasesCreatedTotal.Inc()
	ps.logger.Info("Purchase created",
		zap.String("reference", purchase.ReferenceNumber),
		zap.Int64("amount", purchase.TotalAmount()))

	trackingID, redirectURL, err := ps.gateway.SubmitOrder(ctx, gateway.OrderRequest{
		ReferenceNumber: purchase.ReferenceNumber,
		Currency:        purchase.Currency,
		Amount:          purchase.TotalAmount(),
		Description:     fmt.Sprintf("%dx %s", purchase.Quantity, purchase.EventName),
		CallbackURL:     ps.callbackURL,
		NotificationID:  ps.notificationID,
		Email:           purchase.BuyerEmail,
		Phone:           purchase.BuyerPhone,
		CountryCode:     purchase.BuyerCountry,
		FirstName:       purchase.BuyerFirstName,
		LastName:        purchase.BuyerLastName,
	})
	if err != nil {
		util.PurchasesFailedTotal.WithLabelValues("gateway_error").Inc()
		if markErr := ps.store.MarkPurchaseFailed(ctx, purchase.ID); markErr != nil {
			ps.logger.Error("Failed to mark purchase failed",
				zap.String("reference", purchase.ReferenceNumber),
				zap.Error(markErr))
		}
		return nil, fmt.Errorf("order submission failed: %w", err)
	}

	if err := ps.store.SetTransactionID(ctx, purchase.ID, trackingID); err != nil {
		ps.logger.Error("Failed to record tracking id",
			zap.String("reference", purchase.ReferenceNumber),
			zap.Error(err))
	}

	event := &models.PurchaseCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePurchaseCreated,
			Timestamp: time.Now(),
		},
		ReferenceNumber: purchase.ReferenceNumber,
		EventName:       purchase.EventName,
		Quantity:        purchase.Quantity,
		TotalAmount:     purchase.TotalAmount(),
		Currency:        purchase.Currency,
	}

	if err := ps.eventPublisher.PublishPurchaseCreated(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PurchaseCreated event", zap.Error(err))
	}

	if err := ps.redis.SetIdempotencyKey(ctx, req.IdempotencyKey, purchase.ReferenceNumber, idempotencyCacheTTL); err != nil {
		ps.logger.Warn("Failed to cache idempotency key", zap.Error(err))
	}

	return &CreatePurchaseResponse{
		ReferenceNumber: purchase.ReferenceNumber,
		PaymentStatus:   purchase.PaymentStatus,
		RedirectURL:     redirectURL,
	}, nil
}

// GetStatus returns the current payment status for the browser poll. When
// the purchase is still pending and a tracking id exists, it runs the same
// reconcile as the gateway notification path so the confirmation page does
// not depend on the notification arriving first.
func (ps *PurchaseService) GetStatus(ctx context.Context, referenceNumber string) (string, error) {
	ctx, span := util.StartSpan(ctx, "PurchaseService.GetStatus")
	defer span.End()

	purchase, err := ps.store.GetPurchaseByReference(ctx, referenceNumber)
	if err != nil {
		return "", err
	}

	if purchase.PaymentStatus != models.PaymentStatusPending || purchase.TransactionID == "" {
		return purchase.PaymentStatus, nil
	}

	// Poll path keeps answering pending when the gateway is unreachable;
	// the buyer's page just polls again.
	if err := ps.reconciler.Reconcile(ctx, purchase.TransactionID, referenceNumber); err != nil {
		ps.logger.Warn("Poll-side reconcile failed",
			zap.String("reference", referenceNumber),
			zap.Error(err))
		return purchase.PaymentStatus, nil
	}

	refreshed, err := ps.store.GetPurchaseByReference(ctx, referenceNumber)
	if err != nil {
		return "", err
	}
	return refreshed.PaymentStatus, nil
}

// GetPurchase retrieves a purchase by reference number
func (ps *PurchaseService) GetPurchase(ctx context.Context, referenceNumber string) (*models.Purchase, error) {
	return ps.store.GetPurchaseByReference(ctx, referenceNumber)
}

// GetPurchasesByEmail retrieves purchase history for a buyer
func (ps *PurchaseService) GetPurchasesByEmail(ctx context.Context, email string) ([]models.Purchase, error) {
	return ps.store.GetPurchasesByEmail(ctx, email)
}

// newReferenceNumber generates a caller-visible reference number
func newReferenceNumber() string {
	return fmt.Sprintf("UNT-%s", strings.ToUpper(uuid.New().String()[:8]))
}
