package worker

import (
	"context"
	"log"

	"ticketing-service/internal/broker"
	"ticketing-service/internal/models"
	"ticketing-service/internal/store"
	"ticketing-service/internal/util"

	"go.uber.org/zap"
)

// TicketWorker consumes TicketIssuanceRequested events and records ticket
// issuance on the purchase. Actual ticket rendering and email dispatch are
// downstream consumers of the same event.
type TicketWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        *store.Store
	logger       *zap.Logger
}

// NewTicketWorker creates a new ticket worker
func NewTicketWorker(consumer *broker.Consumer, purchaseStore *store.Store) *TicketWorker {
	w := &TicketWorker{
		consumer: consumer,
		store:    purchaseStore,
		logger:   util.NamedLogger("ticket-worker"),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnTicketIssuanceRequested(w.handleIssuanceRequested)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *TicketWorker) Start(ctx context.Context) error {
	log.Println("Starting ticket worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *TicketWorker) Stop() error {
	log.Println("Stopping ticket worker...")
	return w.consumer.Close()
}

func (w *TicketWorker) handleIssuanceRequested(ctx context.Context, event *models.TicketIssuanceRequestedEvent) error {
	w.logger.Info("Ticket issuance requested",
		zap.String("reference", event.ReferenceNumber),
		zap.String("transaction_id", event.TransactionID))

	issued, err := w.store.MarkTicketIssued(ctx, event.ReferenceNumber)
	if err != nil {
		return err
	}

	if !issued {
		// Redelivery, or the purchase never reached paid. Either way the
		// event is consumed without side effects.
		w.logger.Info("Ticket already issued or purchase not paid, skipping",
			zap.String("reference", event.ReferenceNumber))
		return nil
	}

	util.TicketsIssuedTotal.Inc()
	w.logger.Info("Ticket issued",
		zap.String("reference", event.ReferenceNumber),
		zap.Int("quantity", event.Quantity))
	return nil
}
