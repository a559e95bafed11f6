package service

import (
	"context"
	"time"

	"ticketing-service/internal/models"
	"ticketing-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StatusQuerier fetches the authoritative transaction status from the
// payment gateway.
type StatusQuerier interface {
	QueryStatus(ctx context.Context, trackingID string) (gatewayStatus, paymentMethod string, err error)
}

// OutcomeApplier applies a terminal payment outcome to a purchase. The
// implementation must only transition purchases that are still pending and
// report whether this call applied the transition.
type OutcomeApplier interface {
	ApplyPaymentOutcome(ctx context.Context, purchaseID int64, status, paymentMethod, transactionID string) (bool, error)
}

// IssuanceNotifier publishes the ticket issuance request once a purchase
// is paid.
type IssuanceNotifier interface {
	PublishTicketIssuanceRequested(ctx context.Context, event *models.TicketIssuanceRequestedEvent) error
}

// ReconcileLocker serializes reconciliation attempts per reference number.
type ReconcileLocker interface {
	AcquireReconcileLock(ctx context.Context, referenceNumber string, ttl time.Duration) (bool, error)
	ReleaseReconcileLock(ctx context.Context, referenceNumber string) error
}

const reconcileLockTTL = 15 * time.Second

// StatusReconciler drives the payment status state machine:
// pending -> paid | failed | cancelled, with all three outcomes terminal.
// It is invoked from both the gateway notification and the browser poll,
// possibly concurrently for the same purchase.
type StatusReconciler struct {
	gateway  StatusQuerier
	resolver *ReferenceResolver
	outcomes OutcomeApplier
	notifier IssuanceNotifier
	locker   ReconcileLocker
	logger   *zap.Logger
}

// NewStatusReconciler creates a new status reconciler. The locker is
// optional; without it the store's conditional update alone decides races.
func NewStatusReconciler(
	gateway StatusQuerier,
	resolver *ReferenceResolver,
	outcomes OutcomeApplier,
	notifier IssuanceNotifier,
	locker ReconcileLocker,
) *StatusReconciler {
	return &StatusReconciler{
		gateway:  gateway,
		resolver: resolver,
		outcomes: outcomes,
		notifier: notifier,
		locker:   locker,
		logger:   util.NamedLogger("reconciler"),
	}
}

// Reconcile queries the gateway for the authoritative status of a
// transaction and applies it to the purchase identified by the reference
// number. Safe to call repeatedly with the same inputs: once the purchase
// has reached a terminal status further calls are no-ops and the ticket
// issuance event is never emitted twice.
func (sr *StatusReconciler) Reconcile(ctx context.Context, trackingID, referenceNumber string) error {
	ctx, span := util.StartSpan(ctx, "StatusReconciler.Reconcile")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ReconciliationLatency.Observe(time.Since(start).Seconds())
	}()

	if sr.locker != nil {
		acquired, err := sr.locker.AcquireReconcileLock(ctx, referenceNumber, reconcileLockTTL)
		if err != nil {
			// The lock only narrows the race window; the conditional
			// update below is the guard that matters.
			sr.logger.Warn("Reconcile lock unavailable, continuing",
				zap.String("reference", referenceNumber),
				zap.Error(err))
		} else if acquired {
			defer func() {
				if err := sr.locker.ReleaseReconcileLock(context.Background(), referenceNumber); err != nil {
					sr.logger.Warn("Failed to release reconcile lock",
						zap.String("reference", referenceNumber),
						zap.Error(err))
				}
			}()
		}
	}

	gatewayStatus, paymentMethod, err := sr.gateway.QueryStatus(ctx, trackingID)
	if err != nil {
		// Fail safe: better to let the gateway retry the notification
		// than to record a wrong status.
		util.ReconciliationsTotal.WithLabelValues("gateway_error").Inc()
		return err
	}

	mapped := models.MapGatewayStatus(gatewayStatus)
	if mapped == models.PaymentStatusPending {
		util.ReconciliationsTotal.WithLabelValues("still_pending").Inc()
		sr.logger.Info("No payment outcome yet",
			zap.String("reference", referenceNumber),
			zap.String("gateway_status", gatewayStatus))
		return nil
	}

	purchase, err := sr.resolver.Resolve(ctx, referenceNumber)
	if err != nil {
		util.ReconciliationsTotal.WithLabelValues("resolve_error").Inc()
		return err
	}

	if models.IsTerminalStatus(purchase.PaymentStatus) {
		util.ReconciliationsTotal.WithLabelValues("already_terminal").Inc()
		sr.logger.Info("Purchase already settled, skipping",
			zap.String("reference", referenceNumber),
			zap.String("payment_status", purchase.PaymentStatus))
		return nil
	}

	applied, err := sr.outcomes.ApplyPaymentOutcome(ctx, purchase.ID, mapped, paymentMethod, trackingID)
	if err != nil {
		util.ReconciliationsTotal.WithLabelValues("store_error").Inc()
		return err
	}
	if !applied {
		// Lost the race to a concurrent reconcile; that caller owns the
		// transition and its side effects.
		util.ReconciliationsTotal.WithLabelValues("already_terminal").Inc()
		return nil
	}

	util.ReconciliationsTotal.WithLabelValues(mapped).Inc()
	sr.logger.Info("Payment status reconciled",
		zap.String("reference", referenceNumber),
		zap.String("tracking_id", trackingID),
		zap.String("payment_status", mapped))

	if mapped == models.PaymentStatusPaid {
		sr.requestTicketIssuance(ctx, purchase, trackingID)
	}

	return nil
}

// requestTicketIssuance publishes the issuance event for a purchase this
// call just moved to paid. Publish failures are logged, not propagated:
// the paid status is already durable and the publisher retries internally.
func (sr *StatusReconciler) requestTicketIssuance(ctx context.Context, purchase *models.Purchase, trackingID string) {
	event := &models.TicketIssuanceRequestedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeTicketIssuanceRequested,
			Timestamp: time.Now(),
		},
		ReferenceNumber: purchase.ReferenceNumber,
		TransactionID:   trackingID,
		BuyerEmail:      purchase.BuyerEmail,
		Quantity:        purchase.Quantity,
		TotalAmount:     purchase.TotalAmount(),
	}

	if err := sr.notifier.PublishTicketIssuanceRequested(ctx, event); err != nil {
		sr.logger.Error("Failed to publish TicketIssuanceRequested event",
			zap.String("reference", purchase.ReferenceNumber),
			zap.Error(err))
		return
	}

	util.TicketIssuanceEventsTotal.Inc()
}
